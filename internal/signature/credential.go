package signature

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"os"
	"time"

	"golang.org/x/crypto/pkcs12"

	dErrors "manifest-gateway/pkg/domain-errors"
)

// Credential is a loaded signing identity: the certificate, its private key
// and the certificate fingerprint embedded in every envelope. It is loaded
// once per signing session and treated as immutable afterwards.
type Credential struct {
	Certificate *x509.Certificate
	Fingerprint string

	key *rsa.PrivateKey
}

// NewCredential wraps an already-parsed certificate and key. Used by tests and
// by platform key-store integrations that bypass PKCS#12 files.
func NewCredential(cert *x509.Certificate, key *rsa.PrivateKey) (*Credential, error) {
	if cert == nil || key == nil {
		return nil, dErrors.New(dErrors.CodeSigning, "certificate and private key are required")
	}
	return &Credential{
		Certificate: cert,
		Fingerprint: fingerprint(cert),
		key:         key,
	}, nil
}

// LoadCredential reads an A1 credential from a PKCS#12 file. There is no
// fallback: a missing or undecodable file is a signing error, never a
// fabricated placeholder certificate.
func LoadCredential(path, password string) (*Credential, error) {
	if path == "" {
		return nil, dErrors.New(dErrors.CodeSigning, "no signing credential configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSigning, "read credential file")
	}
	keyAny, cert, err := pkcs12.Decode(raw, password)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSigning, "decode credential (wrong password or corrupt file)")
	}
	key, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, dErrors.New(dErrors.CodeSigning, "credential key is not RSA")
	}
	return NewCredential(cert, key)
}

// ExpiredAt reports whether the certificate is outside its validity window at
// the given instant.
func (c *Credential) ExpiredAt(now time.Time) bool {
	return now.Before(c.Certificate.NotBefore) || now.After(c.Certificate.NotAfter)
}

func fingerprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return hex.EncodeToString(sum[:])
}
