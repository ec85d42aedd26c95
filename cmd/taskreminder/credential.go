package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/task-reminders/internal/credential"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage secrets stored in the system keyring",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a secret",
	Args:  cobra.ExactArgs(2),
	RunE:  runCredentialSet,
}

var credentialDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialDelete,
}

func init() {
	rootCmd.AddCommand(credentialCmd)
	credentialCmd.AddCommand(credentialSetCmd)
	credentialCmd.AddCommand(credentialDeleteCmd)

	known := "Known keys: " + strings.Join(credential.Known, ", ")
	credentialSetCmd.Long = known
	credentialDeleteCmd.Long = known
}

func checkCredentialKey(key string) error {
	if !credential.IsKnown(key) {
		return fmt.Errorf("unknown credential %q (known: %s)", key, strings.Join(credential.Known, ", "))
	}
	return nil
}

func runCredentialSet(cmd *cobra.Command, args []string) error {
	if err := checkCredentialKey(args[0]); err != nil {
		return err
	}
	creds, err := credential.Open()
	if err != nil {
		return err
	}
	if err := creds.Set(args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
	return nil
}

func runCredentialDelete(cmd *cobra.Command, args []string) error {
	if err := checkCredentialKey(args[0]); err != nil {
		return err
	}
	creds, err := credential.Open()
	if err != nil {
		return err
	}
	if err := creds.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}
