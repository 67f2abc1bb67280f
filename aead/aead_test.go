package aead

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/x41sec/encrocrypt/csrand"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := csrand.Key(KeyLength)
	require.NoError(t, err)
	nonce, err := csrand.Key(NonceLength)
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ciphertext, tag, err := SealChunk(key, nonce, plaintext)
	require.NoError(t, err)
	require.Len(t, ciphertext, len(plaintext))
	require.Len(t, tag, TagLength)

	got, err := OpenChunk(key, nonce, ciphertext, tag)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestOpenChunkRejectsTamperedCiphertext(t *testing.T) {
	key, _ := csrand.Key(KeyLength)
	nonce, _ := csrand.Key(NonceLength)
	ciphertext, tag, err := SealChunk(key, nonce, []byte("authenticate me"))
	require.NoError(t, err)

	tampered := append([]byte{}, ciphertext...)
	tampered[0] ^= 0xFF

	_, err = OpenChunk(key, nonce, tampered, tag)
	require.ErrorIs(t, err, ErrMacInvalid)
}

func TestOpenChunkRejectsTamperedTag(t *testing.T) {
	key, _ := csrand.Key(KeyLength)
	nonce, _ := csrand.Key(NonceLength)
	ciphertext, tag, err := SealChunk(key, nonce, []byte("authenticate me"))
	require.NoError(t, err)

	tampered := append([]byte{}, tag...)
	tampered[0] ^= 0xFF

	_, err = OpenChunk(key, nonce, ciphertext, tampered)
	require.ErrorIs(t, err, ErrMacInvalid)
}

func TestSealChunkEmptyPlaintext(t *testing.T) {
	key, _ := csrand.Key(KeyLength)
	nonce, _ := csrand.Key(NonceLength)

	ciphertext, tag, err := SealChunk(key, nonce, nil)
	require.NoError(t, err)
	require.Len(t, ciphertext, 0)
	require.Len(t, tag, TagLength)

	plaintext, err := OpenChunk(key, nonce, ciphertext, tag)
	require.NoError(t, err)
	require.Len(t, plaintext, 0)
}
