// Package keyenvelope wraps and unwraps EncroCrypt's per-session symmetric
// key inside a signed, encrypted OpenPGP message, delegating the wire
// format of the envelope itself to github.com/ProtonMail/go-crypto/openpgp
// (the maintained successor to golang.org/x/crypto/openpgp, and the library
// the wider ecosystem already uses for exactly this — see the vendored
// rclone packet reader this codec was grounded on).
//
// This is the single point in the codec where an OpenPGP-capable library is
// used; everything above it deals only in raw key bytes.
package keyenvelope

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// Fingerprint is an opaque, verbatim-compared public key identity. The
// adapter never parses or normalises it beyond what the keyring's own
// fingerprint equality check performs.
type Fingerprint string

var (
	// ErrWrapFailed covers every way wrapping a key can fail: missing
	// keystore, unknown recipient or signer fingerprint, signing key
	// locked or absent. Unwrap also returns it when the keystore cannot be
	// loaded.
	ErrWrapFailed = errors.New("keyenvelope: failed to wrap key")
	// ErrDecryptFailed covers malformed or undecryptable KEY packets.
	ErrDecryptFailed = errors.New("keyenvelope: failed to decrypt key envelope")
	// ErrSignatureMismatch is returned when a KEY packet decrypts cleanly
	// but was not signed by the expected fingerprint.
	ErrSignatureMismatch = errors.New("keyenvelope: signature does not match expected fingerprint")
)

// loadKeyring reads an ASCII-armored or binary OpenPGP keyring from path.
// An empty path means no keystore was configured, which is always a wrap
// or unwrap failure.
func loadKeyring(path string) (openpgp.EntityList, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no keystore path configured", ErrWrapFailed)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWrapFailed, err)
	}
	defer f.Close()

	// Try armored first, then fall back to binary — GnuPG-style keystores
	// are usually armored but either form is accepted.
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWrapFailed, err)
	}
	if ring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data)); err == nil {
		return ring, nil
	}
	ring, err := openpgp.ReadKeyRing(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWrapFailed, err)
	}
	return ring, nil
}

func findByFingerprint(ring openpgp.EntityList, fpr Fingerprint) *openpgp.Entity {
	want := string(fpr)
	for _, e := range ring {
		if e.PrimaryKey == nil {
			continue
		}
		if fmt.Sprintf("%X", e.PrimaryKey.Fingerprint) == want {
			return e
		}
	}
	return nil
}

// Wrap encrypts and signs key (which must be aead.KeyLength bytes; Wrap
// itself does not check the length) into an opaque KEY packet payload. recipientFpr selects
// the encryption target from keystorePath; signerFpr selects the signing
// identity, and must have usable private key material in the same keyring.
func Wrap(key []byte, recipientFpr, signerFpr Fingerprint, keystorePath string) ([]byte, error) {
	ring, err := loadKeyring(keystorePath)
	if err != nil {
		return nil, err
	}

	recipient := findByFingerprint(ring, recipientFpr)
	if recipient == nil {
		return nil, fmt.Errorf("%w: recipient fingerprint %s not in keystore", ErrWrapFailed, recipientFpr)
	}
	signer := findByFingerprint(ring, signerFpr)
	if signer == nil {
		return nil, fmt.Errorf("%w: signer fingerprint %s not in keystore", ErrWrapFailed, signerFpr)
	}
	if signer.PrivateKey == nil || signer.PrivateKey.Encrypted {
		return nil, fmt.Errorf("%w: signer %s has no usable private key", ErrWrapFailed, signerFpr)
	}

	var buf bytes.Buffer
	w, err := openpgp.Encrypt(&buf, []*openpgp.Entity{recipient}, signer, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWrapFailed, err)
	}
	if _, err := w.Write(key); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWrapFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWrapFailed, err)
	}

	return buf.Bytes(), nil
}

// Unwrap decrypts a KEY packet payload and verifies it was signed by
// expectedSignerFpr. On success it returns exactly the raw key bytes and
// the fingerprint that signed them (always expectedSignerFpr, since any
// other signer is rejected). A successful decryption whose signature does
// not match is rejected with ErrSignatureMismatch, never silently
// accepted.
func Unwrap(payload []byte, expectedSignerFpr Fingerprint, keystorePath string) ([]byte, Fingerprint, error) {
	ring, err := loadKeyring(keystorePath)
	if err != nil {
		return nil, "", err
	}

	md, err := openpgp.ReadMessage(bytes.NewReader(payload), ring, nil, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrDecryptFailed, err)
	}

	key, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrDecryptFailed, err)
	}

	// Reading UnverifiedBody to EOF is what populates SignedBy/SignatureError.
	if md.SignatureError != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrDecryptFailed, md.SignatureError)
	}
	if md.SignedBy == nil {
		return nil, "", fmt.Errorf("%w: message was not signed", ErrSignatureMismatch)
	}
	got := Fingerprint(fmt.Sprintf("%X", md.SignedBy.PublicKey.Fingerprint))
	if got != expectedSignerFpr {
		return nil, "", fmt.Errorf("%w: signed by %s, expected %s", ErrSignatureMismatch, got, expectedSignerFpr)
	}

	// EncroCrypt session keys are always 16 bytes; a different length means
	// the envelope was built for something else and must not be handed to
	// the AEAD layer.
	const sessionKeyLength = 16
	if len(key) != sessionKeyLength {
		return nil, "", fmt.Errorf("%w: unwrapped key is %d bytes, want %d", ErrDecryptFailed, len(key), sessionKeyLength)
	}

	return key, got, nil
}
