package keyenvelope

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/stretchr/testify/require"
)

// writeTestKeyring generates a single self-signed entity usable both as the
// encryption recipient and the signer, and serializes its private key
// material (which also carries the public half) to a keyring file.
func writeTestKeyring(t *testing.T) (path string, fpr Fingerprint) {
	t.Helper()

	entity, err := openpgp.NewEntity("Test Operator", "encrocrypt test fixture", "operator@example.test", nil)
	require.NoError(t, err)

	dir := t.TempDir()
	path = filepath.Join(dir, "keyring.gpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, entity.SerializePrivate(f, nil))

	return path, Fingerprint(fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint))
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	keyring, fpr := writeTestKeyring(t)

	key := []byte("0123456789ABCDEF") // 16 bytes
	wrapped, err := Wrap(key, fpr, fpr, keyring)
	require.NoError(t, err)

	got, signer, err := Unwrap(wrapped, fpr, keyring)
	require.NoError(t, err)
	require.Equal(t, key, got)
	require.Equal(t, fpr, signer)
}

func TestUnwrapRejectsWrongSigner(t *testing.T) {
	keyring, fpr := writeTestKeyring(t)

	key := []byte("0123456789ABCDEF")
	wrapped, err := Wrap(key, fpr, fpr, keyring)
	require.NoError(t, err)

	_, _, err = Unwrap(wrapped, Fingerprint("0000000000000000000000000000000000000000"), keyring)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestWrapUnknownRecipientFails(t *testing.T) {
	keyring, fpr := writeTestKeyring(t)

	_, err := Wrap([]byte("0123456789ABCDEF"), "deadbeef", fpr, keyring)
	require.ErrorIs(t, err, ErrWrapFailed)
}

func TestUnwrapMissingKeystoreFails(t *testing.T) {
	_, _, err := Unwrap([]byte("not a real message"), "deadbeef", "")
	require.ErrorIs(t, err, ErrWrapFailed)
}
