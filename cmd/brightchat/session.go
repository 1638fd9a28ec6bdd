package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"brightchat/internal/session"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or reset the stored chat session id",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored session id, creating one if absent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			store, err := session.Open(cfg.Client.Storage, cfg.Client.StoragePath, logger)
			if err != nil {
				return fmt.Errorf("open session storage: %w", err)
			}
			defer store.Close()

			id, err := session.GetOrCreate(cmd.Context(), store)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the stored session id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			store, err := session.Open(cfg.Client.Storage, cfg.Client.StoragePath, logger)
			if err != nil {
				return fmt.Errorf("open session storage: %w", err)
			}
			defer store.Close()

			if err := session.Reset(cmd.Context(), store); err != nil {
				return err
			}
			fmt.Println("Session cleared.")
			return nil
		},
	})

	return cmd
}
