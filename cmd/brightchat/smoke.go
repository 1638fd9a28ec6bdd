package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"brightchat/internal/smoke"
)

func smokeCmd() *cobra.Command {
	var (
		message string
		timeout time.Duration
		headful bool
	)

	cmd := &cobra.Command{
		Use:   "smoke [url]",
		Short: "Drive the widget in Chrome and check for a reply",
		Long: `Opens the widget in a browser, starts the chat, waits for the greeting,
sends a message and waits for the agent's reply. Needs Chrome or Chromium
installed. The URL defaults to client.baseURL from config.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			target := cfg.Client.BaseURL
			if len(args) == 1 {
				target = args[0]
			}

			checker := smoke.New(smoke.Config{
				Headless: !headful,
				Timeout:  timeout,
				Logger:   logger,
			})
			res, err := checker.Run(cmd.Context(), target, message)
			if err != nil {
				return fmt.Errorf("smoke check failed: %w", err)
			}

			fmt.Printf("URL:        %s\n", res.URL)
			fmt.Printf("Session:    %s\n", res.SessionID)
			for _, g := range res.Greeting {
				fmt.Printf("Greeting:   %s\n", g)
			}
			fmt.Printf("Reply:      %s\n", res.Reply)
			fmt.Printf("Duration:   %s\n", res.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "Hello, I'm looking for car insurance.", "message to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "overall time limit")
	cmd.Flags().BoolVar(&headful, "headful", false, "show the browser window")
	return cmd
}
