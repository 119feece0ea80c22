// Package secrets encrypts credential values stored in the database.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	prefix    = "sb1:"
	nonceSize = 24
	keyInfo   = "ticketforge credentials v1"
)

var (
	// ErrEmptyKey is returned when no key material is configured.
	ErrEmptyKey = errors.New("secrets: key is empty")
	// ErrDecrypt is returned for tampered values or values sealed with another key.
	ErrDecrypt = errors.New("secrets: cannot decrypt value")
)

// Box seals and opens strings with NaCl secretbox.
type Box struct {
	key [32]byte
}

// NewBox derives a 32 byte key from secret with HKDF-SHA256.
func NewBox(secret string) (*Box, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrEmptyKey
	}
	b := &Box{}
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	if _, err := io.ReadFull(kdf, b.key[:]); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}
	return b, nil
}

// Seal encrypts plain. Empty input stays empty.
func (b *Box) Seal(plain string) (string, error) {
	if b == nil || plain == "" {
		return plain, nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &b.key)
	return prefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts a sealed value. Values without the sealed prefix are
// returned unchanged so rows written before encryption keep working.
func (b *Box) Open(value string) (string, error) {
	if !Sealed(value) {
		return value, nil
	}
	if b == nil {
		return "", fmt.Errorf("%w: no key configured", ErrDecrypt)
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// Sealed reports whether value carries the sealed prefix.
func Sealed(value string) bool {
	return strings.HasPrefix(value, prefix)
}
