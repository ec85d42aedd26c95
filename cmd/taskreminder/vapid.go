package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/task-reminders/internal/model"
	"github.com/nhle/task-reminders/internal/notify/push"
)

var vapidKeysCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID keypair for Web Push",
	Args:  cobra.NoArgs,
	RunE:  runVAPIDKeys,
}

var vapidKeysSave bool

func init() {
	rootCmd.AddCommand(vapidKeysCmd)

	vapidKeysCmd.Flags().BoolVar(&vapidKeysSave, "save", false, "Write the keypair into the config file")
}

func runVAPIDKeys(cmd *cobra.Command, args []string) error {
	publicKey, privateKey, err := push.GenerateVAPIDKeys()
	if err != nil {
		return err
	}

	if vapidKeysSave {
		cfg, err := model.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg.Push.VAPIDPublicKey = publicKey
		cfg.Push.VAPIDPrivateKey = privateKey
		if err := model.SaveConfig(configPath, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved VAPID keypair to %s\n", configPath)
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "PUBLIC_VAPID_KEY=%s\n", publicKey)
	fmt.Fprintf(out, "PRIVATE_VAPID_KEY=%s\n", privateKey)
	return nil
}
