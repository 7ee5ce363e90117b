package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/sshconnector/internal/config"
)

var secretKeyCmd = &cobra.Command{
	Use:   "secret-key",
	Short: "Generate a key for stored sudo passwords",
	Long: `Prints a new key for encrypting sudo passwords in the config file.

Export it before storing a password:
  export SSHCONNECTOR_SECRET_KEY=$(sshconnector secret-key)
  sshconnector server set-sudo production password --store

To rotate, put the new key first and keep the old one after a comma until
the passwords have been stored again.`,
	Args: cobra.NoArgs,
	RunE: runSecretKey,
}

func init() {
	rootCmd.AddCommand(secretKeyCmd)
}

func runSecretKey(cmd *cobra.Command, args []string) error {
	key, err := config.GenerateSecretKey()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}
