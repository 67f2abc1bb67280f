package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/x41sec/encrocrypt/keyenvelope"
	"github.com/x41sec/encrocrypt/session"
)

var encryptFpr string

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Read plaintext from stdin, write a framed EncroCrypt container to stdout",
	RunE:  runEncrypt,
}

func init() {
	encryptCmd.Flags().StringVar(&encryptFpr, "encrypt-fpr", "", "recipient fingerprint the session key is wrapped to")
	_ = viper.BindPFlag("encrypt-fpr", encryptCmd.Flags().Lookup("encrypt-fpr"))
	rootCmd.AddCommand(encryptCmd)
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	keyring, err := keystorePath()
	if err != nil {
		return err
	}
	signFpr, err := signingFingerprint()
	if err != nil {
		return err
	}
	encFpr := viper.GetString("encrypt-fpr")
	if encFpr == "" {
		return fmt.Errorf("encrocryptctl: --encrypt-fpr is required")
	}

	w, err := session.NewWriter(session.Config{
		SigningFingerprint: signFpr,
		EncryptFingerprint: keyenvelope.Fingerprint(encFpr),
		KeystorePath:       keyring,
	})
	if err != nil {
		return err
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	buf := make([]byte, 1<<20)
	for {
		n, rerr := os.Stdin.Read(buf)
		if n > 0 {
			packed, werr := w.Encrypt(buf[:n])
			if werr != nil {
				return fmt.Errorf("encrocryptctl: encrypt failed: %w", werr)
			}
			if _, werr := out.Write(packed); werr != nil {
				return fmt.Errorf("encrocryptctl: write failed: %w", werr)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return out.Flush()
			}
			return fmt.Errorf("encrocryptctl: read failed: %w", rerr)
		}
	}
}
