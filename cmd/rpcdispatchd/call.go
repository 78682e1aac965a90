package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/rpcdispatch/client"
)

var (
	callURL     string
	callTimeout time.Duration
	callNotify  bool
	callToken   string
)

var callCmd = &cobra.Command{
	Use:   "call METHOD [PARAMS]",
	Short: "Call a method on a running server",
	Long: `Sends one request to a running server and prints the result.
PARAMS is a JSON object or array. ws:// and wss:// URLs use the websocket
transport, anything else is posted over HTTP.`,
	Example: `  rpcdispatchd call add '{"a":5,"b":3}'
  rpcdispatchd call --url http://localhost:8081/rpc subtract '[5,3]'
  rpcdispatchd call --notify log '{"message":"hello"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params any
		if len(args) == 2 {
			raw := json.RawMessage(args[1])
			if !json.Valid(raw) {
				return fmt.Errorf("params are not valid JSON: %s", args[1])
			}
			params = raw
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
		defer cancel()

		tr, err := dialURL(ctx, callURL)
		if err != nil {
			return err
		}
		c := client.New(tr, client.WithTimeout(callTimeout))
		defer c.Close()

		if callNotify {
			if err := c.Notify(ctx, args[0], params); err != nil {
				return err
			}
			successColor.Fprintln(cmd.OutOrStdout(), "✓ Notification sent")
			return nil
		}

		var result any
		if err := c.Call(ctx, args[0], params, &result); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

func init() {
	callCmd.Flags().StringVar(&callURL, "url", "ws://localhost:8080/", "Server URL")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 10*time.Second, "Request timeout")
	callCmd.Flags().BoolVar(&callNotify, "notify", false, "Send a notification instead of a call")
	callCmd.Flags().StringVar(&callToken, "token", "", "Bearer token sent with the request")
	rootCmd.AddCommand(callCmd)
}

func dialURL(ctx context.Context, url string) (client.Transport, error) {
	if strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://") {
		var header map[string][]string
		if callToken != "" {
			header = map[string][]string{"Authorization": {"Bearer " + callToken}}
		}
		return client.DialWebSocket(ctx, url, header)
	}

	var opts []client.HTTPOption
	if callToken != "" {
		opts = append(opts, client.WithHeader("Authorization", "Bearer "+callToken))
	}
	return client.NewHTTPTransport(url, opts...), nil
}
