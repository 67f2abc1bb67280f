package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/x41sec/encrocrypt/keyenvelope"
)

var cfgFile string

// rootCmd is the base command; subcommands are added via their own init().
var rootCmd = &cobra.Command{
	Use:   "encrocryptctl",
	Short: "Encrypt, decrypt, and manage EncroCrypt containers",
	Long: `encrocryptctl drives the EncroCrypt container codec from the command
line: streaming encrypt/decrypt over stdin/stdout, uploading finished
containers to object storage, and pruning old ones by retention window.

Configuration sources (highest precedence first):
  1. Command-line flags
  2. Environment variables (ENCROCRYPT_*)
  3. Config file (--config, default $HOME/.encrocryptctl.yaml)`,
	SilenceUsage: true,
}

// Execute runs the root command; called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.encrocryptctl.yaml)")
	rootCmd.PersistentFlags().String("keyring", "", "path to the OpenPGP keyring file")
	rootCmd.PersistentFlags().String("sign-fpr", "", "pinned signing fingerprint (hex)")
	rootCmd.PersistentFlags().String("log-level", "info", "logrus level: debug, info, warn, error")

	_ = viper.BindPFlag("keyring", rootCmd.PersistentFlags().Lookup("keyring"))
	_ = viper.BindPFlag("sign-fpr", rootCmd.PersistentFlags().Lookup("sign-fpr"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".encrocryptctl")
		}
	}

	viper.SetEnvPrefix("ENCROCRYPT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logrus.WithField("file", viper.ConfigFileUsed()).Debug("loaded config file")
	}

	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// keystorePath returns the configured keyring path, erroring if unset.
func keystorePath() (string, error) {
	path := viper.GetString("keyring")
	if path == "" {
		return "", fmt.Errorf("encrocryptctl: --keyring (or ENCROCRYPT_KEYRING) is required")
	}
	return path, nil
}

// signingFingerprint returns the configured pinned signer, erroring if unset.
func signingFingerprint() (keyenvelope.Fingerprint, error) {
	fpr := viper.GetString("sign-fpr")
	if fpr == "" {
		return "", fmt.Errorf("encrocryptctl: --sign-fpr (or ENCROCRYPT_SIGN_FPR) is required")
	}
	return keyenvelope.Fingerprint(fpr), nil
}
