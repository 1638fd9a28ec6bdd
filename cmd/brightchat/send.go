package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"brightchat/internal/client"
	"brightchat/internal/domain"
	"brightchat/internal/session"
)

func sendCmd() *cobra.Command {
	var (
		baseURL string
		sender  string
		chatID  string
	)

	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send one message to /api/chat and print the raw reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			if baseURL == "" {
				baseURL = cfg.Client.BaseURL
			}

			if chatID == "" {
				store, err := session.Open(cfg.Client.Storage, cfg.Client.StoragePath, logger)
				if err != nil {
					return fmt.Errorf("open session storage: %w", err)
				}
				defer store.Close()
				if chatID, err = session.GetOrCreate(cmd.Context(), store); err != nil {
					return err
				}
			}

			msg := domain.ChatMessage{
				Message:   strings.Join(args, " "),
				Sender:    domain.Sender(sender),
				Timestamp: time.Now().UTC().Format(domain.TimestampLayout),
				ChatID:    chatID,
			}
			raw, err := client.New(baseURL, nil).SendRaw(cmd.Context(), msg)
			if err != nil {
				return err
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, raw, "", "  "); err != nil {
				fmt.Println(string(raw))
				return nil
			}
			fmt.Println(pretty.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "chat server base URL (default: client.baseURL from config)")
	cmd.Flags().StringVar(&sender, "sender", string(domain.SenderUser), "sender field (user|agent)")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "chat id to use instead of the stored session id")
	return cmd
}
