package signature

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "manifest-gateway/pkg/domain-errors"
)

func testCredential(t *testing.T, notBefore, notAfter time.Time) *Credential {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "TRANSPORTES EXEMPLO LTDA:12345678000190"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	cred, err := NewCredential(cert, key)
	require.NoError(t, err)
	return cred
}

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Now()
	cred := testCredential(t, now.Add(-time.Hour), now.Add(time.Hour))
	engine := NewEngine(cred)

	form := []byte(`<MDFe><infMDFe Id="MDFe123">payload</infMDFe></MDFe>`)
	envelope, err := engine.Sign(form)
	require.NoError(t, err)

	assert.Equal(t, form, envelope.CanonicalForm)
	assert.Equal(t, Algorithm, envelope.Algorithm)
	assert.Equal(t, cred.Fingerprint, envelope.CertFingerprint)
	assert.NoError(t, engine.Verify(envelope))
}

func TestVerifyRejectsMutatedForm(t *testing.T) {
	now := time.Now()
	engine := NewEngine(testCredential(t, now.Add(-time.Hour), now.Add(time.Hour)))

	envelope, err := engine.Sign([]byte("canonical bytes"))
	require.NoError(t, err)

	envelope.CanonicalForm[0] ^= 0x01
	err = engine.Verify(envelope)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSigning))
}

func TestSignDoesNotAliasCallerSlice(t *testing.T) {
	now := time.Now()
	engine := NewEngine(testCredential(t, now.Add(-time.Hour), now.Add(time.Hour)))

	form := []byte("canonical bytes")
	envelope, err := engine.Sign(form)
	require.NoError(t, err)

	form[0] ^= 0x01
	assert.NoError(t, engine.Verify(envelope), "mutating the caller's slice must not reach the signed bytes")
}

func TestSignFailsClosedWithoutCredential(t *testing.T) {
	engine := NewEngine(nil)
	_, err := engine.Sign([]byte("form"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSigning))
}

func TestSignRejectsExpiredCertificate(t *testing.T) {
	now := time.Now()
	cred := testCredential(t, now.Add(-48*time.Hour), now.Add(-24*time.Hour))
	engine := NewEngine(cred, WithClock(func() time.Time { return now }))

	_, err := engine.Sign([]byte("form"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSigning))
}

func TestSignRejectsEmptyForm(t *testing.T) {
	now := time.Now()
	engine := NewEngine(testCredential(t, now.Add(-time.Hour), now.Add(time.Hour)))
	_, err := engine.Sign(nil)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSigning))
}

func TestVerifyRejectsForeignFingerprint(t *testing.T) {
	now := time.Now()
	engine := NewEngine(testCredential(t, now.Add(-time.Hour), now.Add(time.Hour)))
	other := NewEngine(testCredential(t, now.Add(-time.Hour), now.Add(time.Hour)))

	envelope, err := engine.Sign([]byte("form"))
	require.NoError(t, err)

	err = other.Verify(envelope)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSigning))
}

func TestVerifyRejectsUnsupportedAlgorithm(t *testing.T) {
	now := time.Now()
	engine := NewEngine(testCredential(t, now.Add(-time.Hour), now.Add(time.Hour)))

	envelope, err := engine.Sign([]byte("form"))
	require.NoError(t, err)
	envelope.Algorithm = "RSA-MD5"

	err = engine.Verify(envelope)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSigning))
}

func TestLoadCredentialFailsClosed(t *testing.T) {
	_, err := LoadCredential("", "")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSigning))

	_, err = LoadCredential("/nonexistent/credential.pfx", "secret")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSigning))
}
