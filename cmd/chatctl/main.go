// chatctl is a terminal client for the messenger backend.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"

	"messenger/internal/client"
	"messenger/internal/model"
)

var (
	serverURL string
	logLevel  string
	logger    *slog.Logger
)

func main() {
	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Terminal client for the messenger backend",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logs.GetLoggerFromString(logLevel)
		},
	}

	root.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("MESSENGER_URL", "http://localhost:9000"), "backend base URL")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "WARN", "DEBUG, INFO, WARN or ERROR")

	root.AddCommand(loginCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(watchCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loginCmd() *cobra.Command {
	var email, username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Create or update an account and print its realtime token",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewHTTPClient(serverURL, nil)
			resp, err := c.SaveAccount(cmd.Context(), model.AccountInput{
				Email:    email,
				Username: username,
				Password: password,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s <%s>\n", resp.Message, resp.User.Username, resp.User.Email)
			if resp.Token != "" {
				fmt.Println(resp.Token)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVarP(&username, "username", "u", "", "display name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	return cmd
}

func sendCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewHTTPClient(serverURL, nil)
			m, err := c.Send(cmd.Context(), model.MessageInput{
				Author: username,
				Body:   args[0],
				SentAt: model.SentAtMillis(time.Now().UnixMilli()),
			})
			if err != nil {
				return err
			}
			fmt.Println(m.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", os.Getenv("USER"), "author name")
	return cmd
}
