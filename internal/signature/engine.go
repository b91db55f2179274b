// Package signature signs canonical manifest forms and verifies envelopes on
// read-back. Signing is a pure computation over the exact canonical bytes; the
// engine never mutates the document it signs.
package signature

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"time"

	"manifest-gateway/internal/manifest"
	dErrors "manifest-gateway/pkg/domain-errors"
)

// Algorithm identifies the digest/signature scheme stamped into envelopes.
const Algorithm = "RSA-SHA256"

// Engine signs canonical forms with a fixed credential.
type Engine struct {
	credential *Credential
	clock      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for expiry checks and signing timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine builds an engine around a credential. A nil credential is allowed
// at construction so the process can boot for query-only operation, but every
// Sign call will then fail closed.
func NewEngine(credential *Credential, opts ...Option) *Engine {
	e := &Engine{credential: credential, clock: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sign computes the digest of the canonical form, signs it and wraps both in
// an envelope carrying the certificate fingerprint. Mutating the form after
// signing invalidates the envelope.
func (e *Engine) Sign(form []byte) (*manifest.SignedEnvelope, error) {
	if e.credential == nil {
		return nil, dErrors.New(dErrors.CodeSigning, "no signing credential configured")
	}
	now := e.clock()
	if e.credential.ExpiredAt(now) {
		return nil, dErrors.Newf(dErrors.CodeSigning, "certificate not valid at %s (window %s to %s)",
			now.Format(time.RFC3339),
			e.credential.Certificate.NotBefore.Format(time.RFC3339),
			e.credential.Certificate.NotAfter.Format(time.RFC3339))
	}
	if len(form) == 0 {
		return nil, dErrors.New(dErrors.CodeSigning, "canonical form is empty")
	}

	digest := sha256.Sum256(form)
	sig, err := rsa.SignPKCS1v15(rand.Reader, e.credential.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSigning, "sign digest")
	}

	// Copy the form so later mutation of the caller's slice cannot reach the
	// signed bytes.
	frozen := make([]byte, len(form))
	copy(frozen, form)

	return &manifest.SignedEnvelope{
		CanonicalForm:   frozen,
		Signature:       sig,
		Algorithm:       Algorithm,
		CertFingerprint: e.credential.Fingerprint,
		SignedAt:        now,
	}, nil
}

// Verify recomputes the digest from the embedded canonical form and validates
// the signature against the credential whose fingerprint the envelope names.
// It never trusts a caller-supplied digest.
func (e *Engine) Verify(envelope *manifest.SignedEnvelope) error {
	if envelope == nil {
		return dErrors.New(dErrors.CodeSigning, "nil envelope")
	}
	if e.credential == nil {
		return dErrors.New(dErrors.CodeSigning, "no credential available for verification")
	}
	if envelope.Algorithm != Algorithm {
		return dErrors.Newf(dErrors.CodeSigning, "unsupported algorithm %q", envelope.Algorithm)
	}
	if !bytes.Equal([]byte(envelope.CertFingerprint), []byte(e.credential.Fingerprint)) {
		return dErrors.New(dErrors.CodeSigning, "envelope signed by a different certificate")
	}
	digest := sha256.Sum256(envelope.CanonicalForm)
	pub, ok := e.credential.Certificate.PublicKey.(*rsa.PublicKey)
	if !ok {
		return dErrors.New(dErrors.CodeSigning, "certificate public key is not RSA")
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], envelope.Signature); err != nil {
		return dErrors.Wrap(err, dErrors.CodeSigning, "signature does not match canonical form")
	}
	return nil
}
