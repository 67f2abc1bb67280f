// Package aead implements the EncroCrypt per-packet authenticated
// encryption: AES-128-GCM with a 128-bit key, a 128-bit nonce, and a
// 128-bit tag, no associated data. The DATA packet's timestamp field lives
// outside this layer entirely and is never authenticated by it.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const (
	// KeyLength is the length in bytes of the symmetric key.
	KeyLength = 16
	// NonceLength is the length in bytes of the AEAD nonce. This is wider
	// than AES-GCM's conventional 96-bit nonce, so GCM is configured with
	// an explicit nonce size.
	NonceLength = 16
	// TagLength is the length in bytes of the authentication tag.
	TagLength = 16
)

// ErrMacInvalid is returned by OpenChunk when the authentication tag does
// not verify. No partial plaintext is returned alongside this error.
var ErrMacInvalid = errors.New("aead: MAC validation failed")

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("aead: invalid key length: %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, NonceLength)
}

// SealChunk encrypts and authenticates plaintext under key and nonce,
// returning ciphertext (the same length as plaintext) and a detached
// 16-byte tag. key must be KeyLength bytes and nonce must be NonceLength
// bytes.
func SealChunk(key, nonce, plaintext []byte) (ciphertext, tag []byte, err error) {
	if len(nonce) != NonceLength {
		return nil, nil, fmt.Errorf("aead: invalid nonce length: %d", len(nonce))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return sealed[:len(sealed)-TagLength], sealed[len(sealed)-TagLength:], nil
}

// OpenChunk verifies tag and decrypts ciphertext under key and nonce. On
// authentication failure it returns ErrMacInvalid and no plaintext.
func OpenChunk(key, nonce, ciphertext, tag []byte) ([]byte, error) {
	if len(nonce) != NonceLength {
		return nil, fmt.Errorf("aead: invalid nonce length: %d", len(nonce))
	}
	if len(tag) != TagLength {
		return nil, fmt.Errorf("aead: invalid tag length: %d", len(tag))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrMacInvalid
	}
	return plaintext, nil
}
