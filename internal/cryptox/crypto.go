// Package cryptox seals record payloads at rest. Keys are derived from an
// operator passphrase with argon2id; payloads are sealed with AES-GCM.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// SaltSize is the length of salts produced by NewSalt.
const SaltSize = 16

var ErrKeySize = errors.New("key must be 16, 24 or 32 bytes")

// DeriveKey stretches a passphrase into a 32-byte AES-256 key.
func DeriveKey(passphrase []byte, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

// MakeVerifier returns a digest of key that can be stored to check a
// passphrase later without keeping the key itself.
func MakeVerifier(key []byte) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write([]byte("wardsync-verifier"))
	return h.Sum(nil)
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// Sealer encrypts and decrypts payload bytes with a fixed key.
// It is safe for concurrent use.
type Sealer struct {
	aead     cipher.AEAD
	blindKey []byte
}

// NewSealer builds a Sealer over an AES key.
func NewSealer(key []byte) (*Sealer, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	blindKey := append([]byte("wardsync-index:"), key...)
	return &Sealer{aead: aead, blindKey: blindKey}, nil
}

// Seal returns the ciphertext of plaintext and the fresh nonce used.
// additional is authenticated but not encrypted; the store passes the
// record key so ciphertexts cannot be swapped between rows.
func (s *Sealer) Seal(plaintext, additional []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return s.aead.Seal(nil, nonce, plaintext, additional), nonce, nil
}

// Open reverses Seal.
func (s *Sealer) Open(ciphertext, nonce, additional []byte) ([]byte, error) {
	if len(nonce) != s.aead.NonceSize() {
		return nil, fmt.Errorf("bad nonce length %d", len(nonce))
	}
	return s.aead.Open(nil, nonce, ciphertext, additional)
}

// Blind maps an index value to a keyed digest so secondary indexes can be
// queried by equality without storing the value in clear.
func (s *Sealer) Blind(value string) string {
	h := hmac.New(sha256.New, s.blindKey)
	_, _ = h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}
