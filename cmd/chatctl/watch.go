package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"messenger/internal/client"
	"messenger/internal/messaging"
	"messenger/internal/model"
)

func watchCmd() *cobra.Command {
	var (
		username string
		token    string
		busURL   string
		channel  string
		event    string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the conversation live; lines typed on stdin are sent",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus, closeBus, err := openSubscriber(busURL, token)
			if err != nil {
				return err
			}
			defer closeBus()

			c := client.NewHTTPClient(serverURL, nil)
			syncer := client.NewSyncer(c, c, bus, channel, event, logger)
			syncer.SetIdentity(username)

			go readLines(ctx, os.Stdin, syncer, bus != nil)

			done := make(chan error, 1)
			go func() { done <- syncer.Run(ctx) }()

			for {
				select {
				case v := <-syncer.Updates():
					render(os.Stdout, v)
				case err := <-done:
					return err
				}
			}
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", os.Getenv("USER"), "your display name")
	cmd.Flags().StringVar(&token, "token", os.Getenv("MESSENGER_TOKEN"), "realtime token from login, enables the websocket relay")
	cmd.Flags().StringVar(&busURL, "bus-url", "", "subscribe to RabbitMQ directly instead of the relay")
	cmd.Flags().StringVar(&channel, "channel", "messages", "notification channel")
	cmd.Flags().StringVar(&event, "event", "newmessages", "notification event name")
	return cmd
}

// openSubscriber picks the notification source. Without one the view is
// loaded once and only refreshed when a line is sent.
func openSubscriber(busURL, token string) (messaging.Subscriber, func(), error) {
	switch {
	case busURL != "":
		rabbit, err := messaging.NewRabbitClient(busURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return rabbit, func() { _ = rabbit.Close() }, nil
	case token != "":
		return client.NewWSSubscriber(serverURL, token, logger), func() {}, nil
	default:
		logger.Warn("No --token or --bus-url, live updates are off")
		return nil, func() {}, nil
	}
}

// readLines sends each non empty line. With a live subscription the sent
// message arrives through its notification; without one a refresh is asked for.
func readLines(ctx context.Context, r io.Reader, syncer *client.Syncer, live bool) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if _, err := syncer.Send(ctx, text); err != nil {
			fmt.Fprintln(os.Stderr, color.Red.Render("send failed: "+err.Error()))
			continue
		}
		if !live {
			syncer.Refresh()
		}
	}
}

func render(w io.Writer, v client.View) {
	fmt.Fprint(w, "\033[H\033[2J")

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "Author", "Message"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)

	for _, m := range v.Messages {
		author := m.Author
		if author == v.Identity {
			author = color.New(color.FgGreen, color.OpBold).Render(author)
		}
		table.Append([]string{formatSentAt(m.SentAt), author, m.Body})
	}
	table.Render()

	status := fmt.Sprintf("[%s] %d messages as %s", v.State, len(v.Messages), v.Identity)
	switch v.State {
	case client.StateStale:
		status = color.Yellow.Render(status + " (last refresh failed)")
	case client.StateFetching:
		status = color.Cyan.Render(status)
	}
	fmt.Fprintln(w, status)
}

func formatSentAt(s model.SentAt) string {
	if t, ok := s.Time(); ok {
		return t.Local().Format(time.DateTime)
	}
	return s.String()
}
