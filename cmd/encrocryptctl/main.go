// Command encrocryptctl is the thin command-line driver around the
// framing/aead/keyenvelope/session packages: it owns process wiring
// (flags, config file, stdin/stdout plumbing, object storage upload,
// retention pruning) and nothing else. None of its logic is imported back by those packages.
package main

import (
	"fmt"
	"os"

	"github.com/x41sec/encrocrypt/cmd/encrocryptctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
