package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawdash/clawdash/internal/config"
	"github.com/clawdash/clawdash/internal/gateway"
	"github.com/clawdash/clawdash/pkg/protocol"
)

func logsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Follow the gateway's log stream",
		Run: func(cmd *cobra.Command, args []string) {
			runLogs(limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "max lines per poll")
	return cmd
}

func runLogs(limit int) {
	setupLogging()
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	client := gateway.New(gateway.Options{
		URL:            cfg.Gateway.URL,
		Token:          cfg.Gateway.Token,
		ClientVersion:  Version,
		AutoReconnect:  true,
		DialTimeout:    cfg.Gateway.DialTimeout(),
		RequestTimeout: cfg.Gateway.RequestTimeout(),
	})
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}

	cursor := ""
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := client.Request(ctx, protocol.MethodLogsTail, protocol.LogsTailParams{
			Cursor: cursor,
			Limit:  limit,
		})
		if err != nil {
			// Requests fail while a reconnect is in flight; back off and
			// resume from the same cursor.
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		var result protocol.LogsTailResult
		if err := json.Unmarshal(payload, &result); err != nil {
			fmt.Fprintf(os.Stderr, "logs.tail: parse: %v\n", err)
			os.Exit(1)
		}
		for _, line := range result.Lines {
			fmt.Println(line)
		}
		if result.Cursor != "" {
			cursor = result.Cursor
		}
		if len(result.Lines) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}
