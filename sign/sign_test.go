package sign

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKey(t *testing.T, key *rsa.PrivateKey, blockType string, der []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestSignVerifies(t *testing.T) {
	key := newKey(t)
	signer, err := NewSigner(writeKey(t, key, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key)))
	require.NoError(t, err)

	payload := []byte(`{"cpid": "abc", "results": []}`)
	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	raw, err := hex.DecodeString(sig)
	require.NoError(t, err)
	digest := sha256.Sum256(payload)
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], raw))
}

func TestSignerPKCS8Key(t *testing.T) {
	key := newKey(t)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	signer, err := NewSigner(writeKey(t, key, "PRIVATE KEY", der))
	require.NoError(t, err)

	_, err = signer.Sign([]byte("payload"))
	assert.NoError(t, err)
}

func TestSelfSignature(t *testing.T) {
	key := newKey(t)
	signer, err := NewSigner(writeKey(t, key, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key)))
	require.NoError(t, err)

	sig, err := signer.SelfSignature()
	require.NoError(t, err)
	raw, err := hex.DecodeString(sig)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("signature"))
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], raw))
}

func TestPublicKeyOpenSSHForm(t *testing.T) {
	key := newKey(t)
	signer, err := NewSigner(writeKey(t, key, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key)))
	require.NoError(t, err)

	pub, err := signer.PublicKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pub, "ssh-rsa "))
	assert.False(t, strings.HasSuffix(pub, "\n"))
}

func TestNewSignerBadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))
	_, err := NewSigner(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PEM")

	_, err = NewSigner(filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)
}
