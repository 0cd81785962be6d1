package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/pmpcs/internal/domain"
)

func watchCmd(client clientFunc) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "watch [session_id]",
		Short: "Stream session events until the session closes or Ctrl+C",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(ctx, client().WatchURL(args[0]), count, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many events (0 streams until the session is received)")

	return cmd
}

// watch prints events from url. It returns after count events, after the
// session reaches received, or when the server closes the connection.
func watch(ctx context.Context, url string, count int, out io.Writer) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	seen := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var event domain.SessionEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}
		fmt.Fprintf(out, "[%s] %s", event.Type, event.SessionID)
		if event.From != "" {
			fmt.Fprintf(out, " %s -> %s", event.From, event.To)
		} else {
			fmt.Fprintf(out, " %s", event.To)
		}
		if event.PaidAmount != "" {
			fmt.Fprintf(out, " paid=%s", event.PaidAmount)
		}
		fmt.Fprintln(out)

		seen++
		if (count > 0 && seen >= count) || event.To == domain.SessionStatusReceived {
			return nil
		}
	}
}
