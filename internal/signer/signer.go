package signer

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/aspect-build/kycattest/internal/canonical"
)

// ErrKeyLoad is returned when the signing key cannot be read or parsed.
var ErrKeyLoad = errors.New("key load error")

const pemTypePrivateKey = "PRIVATE KEY"

// LoadPrivateKey reads a PEM-encoded PKCS#8 Ed25519 private key.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read key file: %v", ErrKeyLoad, err)
	}
	return ParsePrivateKeyPEM(data)
}

// ParsePrivateKeyPEM parses the first PEM block of data as a PKCS#8 Ed25519 key.
func ParsePrivateKeyPEM(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyLoad)
	}
	if block.Type != pemTypePrivateKey {
		return nil, fmt.Errorf("%w: unexpected PEM block type %q (want %s)", ErrKeyLoad, block.Type, pemTypePrivateKey)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse PKCS#8: %v", ErrKeyLoad, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: key is %T, not Ed25519", ErrKeyLoad, key)
	}
	return priv, nil
}

// MarshalPrivateKeyPEM encodes priv as a PKCS#8 PEM block.
func MarshalPrivateKeyPEM(priv ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal PKCS#8: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der}), nil
}

// SignWithKey signs the canonical encoding of claim and returns the
// base64-encoded signature.
func SignWithKey(claim canonical.Claim, priv ed25519.PrivateKey) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("%w: private key must be %d bytes, got %d", ErrKeyLoad, ed25519.PrivateKeySize, len(priv))
	}
	msg, err := canonical.Encode(claim)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, msg)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Sign loads the key at privateKeyPath and signs claim with it.
func Sign(claim canonical.Claim, privateKeyPath string) (string, error) {
	priv, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return "", err
	}
	return SignWithKey(claim, priv)
}

// Signer signs claims with the key at a fixed path, reusing the parsed key
// until the file changes.
type Signer struct {
	path  string
	cache *KeyCache
}

// New returns a Signer for the key at path. A nil cache gets a private one.
func New(path string, cache *KeyCache) *Signer {
	if cache == nil {
		cache = NewKeyCache()
	}
	return &Signer{path: path, cache: cache}
}

// Path returns the key path this signer reads.
func (s *Signer) Path() string { return s.path }

// Sign signs claim and returns the base64-encoded signature.
func (s *Signer) Sign(claim canonical.Claim) (string, error) {
	priv, err := s.cache.Get(s.path)
	if err != nil {
		return "", err
	}
	return SignWithKey(claim, priv)
}

// PublicKey returns the raw 32-byte public key of the signing key.
func (s *Signer) PublicKey() (ed25519.PublicKey, error) {
	priv, err := s.cache.Get(s.path)
	if err != nil {
		return nil, err
	}
	return priv.Public().(ed25519.PublicKey), nil
}
