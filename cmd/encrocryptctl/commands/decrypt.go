package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/x41sec/encrocrypt/session"
)

var seekUntilFlag string

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Read a framed EncroCrypt container from stdin, write plaintext to stdout",
	RunE:  runDecrypt,
}

func init() {
	decryptCmd.Flags().StringVar(&seekUntilFlag, "seek-until", "", "RFC3339 timestamp; DATA packets stored before it are skipped undecrypted")
	rootCmd.AddCommand(decryptCmd)
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	keyring, err := keystorePath()
	if err != nil {
		return err
	}
	signFpr, err := signingFingerprint()
	if err != nil {
		return err
	}

	var seekUntil *time.Time
	if seekUntilFlag != "" {
		t, terr := time.Parse(time.RFC3339, seekUntilFlag)
		if terr != nil {
			return fmt.Errorf("encrocryptctl: invalid --seek-until: %w", terr)
		}
		seekUntil = &t
	}

	r, err := session.NewReader(session.Config{
		SigningFingerprint: signFpr,
		KeystorePath:       keyring,
	})
	if err != nil {
		return err
	}

	if err := r.Decrypt(os.Stdin, os.Stdout, seekUntil); err != nil {
		return fmt.Errorf("encrocryptctl: decrypt failed: %w", err)
	}
	return nil
}
