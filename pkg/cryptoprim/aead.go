// Copyright 2025 GridTokenX
//
// Authenticated-encryption primitive used by wallet custody (pkg/wallet)
// to seal private keys at rest under a versioned master secret.

package cryptoprim

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/gridtokenx/apigateway-core/pkg/apperrors"
)

// SaltSize is the minimum entropy required of a freshly generated salt
// (spec §4A: "at least 16 bytes").
const SaltSize = 16

// NonceSize is the length required by the standard (non-X) AEAD
// construction this primitive uses (spec §4A: "typically 12 bytes").
const NonceSize = chacha20poly1305.NonceSize

const keySize = chacha20poly1305.KeySize

// deriveKey derives a per-record AEAD key from the master secret and a
// per-record salt via HKDF-SHA256, so no two records ever share a key even
// under the same master secret.
func deriveKey(masterSecret, salt []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, masterSecret, salt, []byte("gridtokenx-wallet-v1"))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive record key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under masterSecret, generating a fresh salt and
// nonce. Associated data is empty; use EncryptVersioned to bind a version
// byte into the AAD for rotation-aware records.
func Encrypt(plaintext, masterSecret []byte) (ciphertext, salt, nonce []byte, err error) {
	return EncryptVersioned(plaintext, masterSecret, nil)
}

// Decrypt opens a blob produced by Encrypt. Any tampering with ciphertext,
// salt, or nonce surfaces apperrors.ErrAuthenticationFailed.
func Decrypt(ciphertext, salt, nonce, masterSecret []byte) ([]byte, error) {
	return DecryptVersioned(ciphertext, salt, nonce, masterSecret, nil)
}

// EncryptVersioned seals plaintext with aad bound into the authentication
// tag (used by key rotation to bind the active master-key version without
// storing it in the ciphertext body).
func EncryptVersioned(plaintext, masterSecret, aad []byte) (ciphertext, salt, nonce []byte, err error) {
	salt = make([]byte, SaltSize)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, nil, fmt.Errorf("generate salt: %w", err)
	}

	key, err := deriveKey(masterSecret, salt)
	if err != nil {
		return nil, nil, nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("construct aead: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, aad)
	return ciphertext, salt, nonce, nil
}

// DecryptVersioned opens a blob produced by EncryptVersioned; aad must
// match exactly what was supplied at encryption time.
func DecryptVersioned(ciphertext, salt, nonce, masterSecret, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrParameter, NonceSize, len(nonce))
	}

	key, err := deriveKey(masterSecret, salt)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("construct aead: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, apperrors.ErrAuthenticationFailed
	}
	return plaintext, nil
}

// ErrParameter is returned when a caller-supplied nonce is not NonceSize
// bytes long; salt length is not checked here.
var ErrParameter = fmt.Errorf("invalid cryptographic parameter")
