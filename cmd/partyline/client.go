package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/HMasataka/partyline/internal/logging"
	"github.com/HMasataka/partyline/pkg/transport/websocket"
	"github.com/spf13/cobra"
)

func newClientCommand() *cobra.Command {
	var (
		url      string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a relay, send stdin lines and print broadcasts",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(logging.Config{Level: logLevel, Format: "text", Output: cmd.ErrOrStderr()})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runClient(ctx, url, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().StringVar(&url, "url", "ws://localhost:5000/ws", "relay WebSocket URL")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")

	return cmd
}

// runClient returns when ctx is done, stdin is exhausted or the relay
// closes the connection.
func runClient(ctx context.Context, url string, in io.Reader, out io.Writer, logger *logging.Logger) error {
	client, err := websocket.Dial(ctx, url, logger, websocket.DefaultClientOptions(), func(message []byte) error {
		_, err := fmt.Fprintln(out, string(message))
		return err
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
		client.Wait()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-client.Context().Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Context().Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if err := client.Send(ctx, []byte(line)); err != nil {
				return err
			}
		}
	}
}
