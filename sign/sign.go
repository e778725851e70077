// Package sign produces the detached signatures that accompany uploaded
// results: an RSA signature over the payload and the signer's public key in
// OpenSSH form.
package sign

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// selfSignPayload is the fixed content signed to prove key ownership without
// uploading any results.
const selfSignPayload = "signature"

// Signer signs upload payloads with an RSA private key.
type Signer struct {
	key *rsa.PrivateKey
}

// NewSigner loads a PEM-encoded RSA private key (PKCS#1 or PKCS#8) from
// path.
func NewSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	key, err := parseKey(data)
	if err != nil {
		return nil, fmt.Errorf("parsing private key %s: %w", path, err)
	}
	return &Signer{key: key}, nil
}

func parseKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is %T, want RSA", parsed)
	}
	return key, nil
}

// Sign returns the hex-encoded PKCS#1 v1.5 signature of the SHA-256 digest
// of data.
func (s *Signer) Sign(data []byte) (string, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing payload: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// SelfSignature signs the fixed proof-of-ownership payload.
func (s *Signer) SelfSignature() (string, error) {
	return s.Sign([]byte(selfSignPayload))
}

// PublicKey returns the signer's public key in OpenSSH authorized_keys form,
// without a trailing newline.
func (s *Signer) PublicKey() (string, error) {
	pub, err := ssh.NewPublicKey(&s.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))), nil
}
