// Package crypto seals extracted identities for their requester and for
// storage.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize   = 32
	nonceSize = 12
	tagSize   = 16
)

var (
	ErrShortCiphertext = errors.New("ciphertext too short")
	ErrInvalidKey      = errors.New("invalid key")
)

var identityInfo = []byte("kycattest identity v1")

// SealForRecipient encrypts plaintext to an X25519 public key.
//
// Layout: ephemeral public key (32) || nonce (12) || ciphertext+tag. The
// AES-256-GCM key is HKDF-SHA256 over the shared secret, salted with the
// ephemeral and recipient public keys.
func SealForRecipient(recipient [KeySize]byte, plaintext []byte) ([]byte, error) {
	var ephPriv [KeySize]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive ephemeral public key: %w", err)
	}
	shared, err := curve25519.X25519(ephPriv[:], recipient[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := recipientAEAD(shared, ephPub, recipient[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, KeySize+nonceSize+len(plaintext)+tagSize)
	out = append(out, ephPub...)
	return seal(aead, out, plaintext)
}

// OpenFromSender decrypts a SealForRecipient blob with the recipient's
// X25519 private key.
func OpenFromSender(priv [KeySize]byte, blob []byte) ([]byte, error) {
	if len(blob) < KeySize+nonceSize+tagSize {
		return nil, ErrShortCiphertext
	}
	ephPub := blob[:KeySize]
	shared, err := curve25519.X25519(priv[:], ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := recipientAEAD(shared, ephPub, pub)
	if err != nil {
		return nil, err
	}
	return open(aead, blob[KeySize:])
}

// GenerateX25519 returns a fresh private key and its public key.
func GenerateX25519() (priv, pub [KeySize]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("generate key: %w", err)
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, fmt.Errorf("derive public key: %w", err)
	}
	copy(pub[:], p)
	return priv, pub, nil
}

// ParseKeyHex decodes a 32-byte key from hex, with or without a 0x prefix.
func ParseKeyHex(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(b) != KeySize {
		return key, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(b), KeySize)
	}
	copy(key[:], b)
	return key, nil
}

func recipientAEAD(shared, ephPub, recipientPub []byte) (cipher.AEAD, error) {
	salt := make([]byte, 0, 2*KeySize)
	salt = append(salt, ephPub...)
	salt = append(salt, recipientPub...)

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, identityInfo), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return newAEAD(key)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}

// seal appends nonce || ciphertext+tag to dst.
func seal(aead cipher.AEAD, dst, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	dst = append(dst, nonce...)
	return aead.Seal(dst, nonce, plaintext, nil), nil
}

func open(aead cipher.AEAD, data []byte) ([]byte, error) {
	if len(data) < nonceSize+tagSize {
		return nil, ErrShortCiphertext
	}
	plaintext, err := aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
