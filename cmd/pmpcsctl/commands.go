package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/pmpcs/internal/codec"
)

type clientFunc func() *Client

func requestCmd(client clientFunc) *cobra.Command {
	var (
		amount      string
		currency    string
		recipient   string
		description string
		prefs       []string
		expiresIn   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Open a payment session",
		Example: `  pmpcsctl request --amount 100.00 --currency USD --recipient merchant_abc \
    --pref method=BTC,wallet=bc1q...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			preferences := make([]map[string]string, 0, len(prefs))
			for _, raw := range prefs {
				p, err := parsePreference(raw)
				if err != nil {
					return err
				}
				preferences = append(preferences, p)
			}

			body := map[string]interface{}{
				"amount":       json.Number(amount),
				"currency":     currency,
				"recipient_id": recipient,
				"description":  description,
				"preferences":  preferences,
				"expiry":       time.Now().Add(expiresIn).UTC().Format(time.RFC3339),
			}
			var out map[string]interface{}
			if err := client().Do(cmd.Context(), http.MethodPost, "/v1/paymentRequest", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "Requested amount")
	cmd.Flags().StringVar(&currency, "currency", "USD", "ISO 4217 currency code")
	cmd.Flags().StringVar(&recipient, "recipient", "", "Recipient ID")
	cmd.Flags().StringVar(&description, "description", "", "Free-form description")
	cmd.Flags().StringArrayVar(&prefs, "pref", nil, "Payment preference as key=value pairs, e.g. method=BTC,wallet=addr (repeatable)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", time.Hour, "Time until the session expires")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("recipient")

	return cmd
}

func sentCmd(client clientFunc) *cobra.Command {
	var paid, proof string

	cmd := &cobra.Command{
		Use:   "sent [session_id]",
		Short: "Report that funds were sent for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"session_id":  args[0],
				"paid_amount": json.Number(paid),
			}
			if proof != "" {
				body["transaction_proof"] = proof
			}
			var out map[string]interface{}
			if err := client().Do(cmd.Context(), http.MethodPost, "/v1/paymentSent", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&paid, "paid", "", "Amount paid")
	cmd.Flags().StringVar(&proof, "proof", "", "Transaction proof, e.g. a tx hash")
	_ = cmd.MarkFlagRequired("paid")

	return cmd
}

func receivedCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "received [confirmation_token]",
		Short: "Submit a sent confirmation and close the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			body := map[string]string{"encoded_message": args[0]}
			if err := client().Do(cmd.Context(), http.MethodPost, "/v1/paymentReceived", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func statusCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status [session_id]",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := client().Do(cmd.Context(), http.MethodGet, "/v1/session/"+args[0], nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func messagesCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "messages [session_id]",
		Short: "List the messages recorded for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := client().Do(cmd.Context(), http.MethodGet, "/v1/session/"+args[0]+"/messages", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode [token]",
		Short: "Decode a protocol token locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := codec.Decode(args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

// parsePreference reads "method=BTC,wallet=addr".
func parsePreference(raw string) (map[string]string, error) {
	p := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid preference %q: want key=value pairs", raw)
		}
		p[key] = val
	}
	if p["method"] == "" {
		return nil, fmt.Errorf("invalid preference %q: method is required", raw)
	}
	return p, nil
}

func printJSON(w io.Writer, v interface{}) error {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(formatted))
	return err
}
