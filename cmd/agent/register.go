package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-paynotify/internal/agent/collab"
)

func registerCmd(configPath *string) *cobra.Command {
	var commerceID string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this device with the backend and print its UUID and token",
		Long: `Register enrolls the device under a commerce. When device_uuid is not
configured a new UUID is generated. Store the printed values as
PAYNOTIFY_DEVICE_UUID and PAYNOTIFY_TOKEN (or in agent.yaml).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			reg, err := collab.Register(cmd.Context(), e.cfg.BackendURL, e.httpClient(), commerceID, e.cfg.DeviceUUID)
			if err != nil {
				return fmt.Errorf("register device: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "device_id:   %s\n", reg.Device.DeviceID)
			fmt.Fprintf(out, "device_uuid: %s\n", reg.Device.UUID)
			fmt.Fprintf(out, "commerce_id: %s\n", reg.Device.CommerceID)
			if reg.Token != "" {
				fmt.Fprintf(out, "token:       %s\n", reg.Token)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&commerceID, "commerce", "", "commerce the device belongs to")
	_ = cmd.MarkFlagRequired("commerce")
	return cmd
}
