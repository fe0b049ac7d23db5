package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawdash/clawdash/internal/config"
	"github.com/clawdash/clawdash/internal/gateway"
	"github.com/clawdash/clawdash/internal/state"
)

func sendCmd() *cobra.Command {
	var agentID string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one chat message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runSend(agentID, strings.Join(args, " "), wait)
		},
	}
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "target agent id (default: primary roster agent)")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "how long to wait for the reply")
	return cmd
}

func runSend(agentID, message string, wait time.Duration) {
	setupLogging()
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if agentID == "" {
		primary := cfg.PrimaryAgent()
		if primary == nil {
			fmt.Fprintln(os.Stderr, "no agents configured; set --agent or add one to the config")
			os.Exit(1)
		}
		agentID = primary.ID
	}

	client := gateway.New(gateway.Options{
		URL:            cfg.Gateway.URL,
		Token:          cfg.Gateway.Token,
		ClientVersion:  Version,
		DialTimeout:    cfg.Gateway.DialTimeout(),
		RequestTimeout: cfg.Gateway.RequestTimeout(),
	})
	defer client.Close()

	dash := state.New(client, cfg)
	detach := dash.Attach()
	defer detach()

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	if _, err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	if err := dash.SendChat(ctx, agentID, message); err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
		os.Exit(1)
	}

	reply, ok := awaitReply(ctx, dash, agentID)
	if !ok {
		abortCtx, abortCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := dash.AbortChat(abortCtx, agentID); err != nil {
			slog.Debug("abort failed", "error", err)
		}
		abortCancel()
		fmt.Fprintln(os.Stderr, "no reply before the deadline")
		os.Exit(1)
	}
	fmt.Println(reply.Text)
	if reply.Delivery == state.DeliveryError {
		os.Exit(1)
	}
}

// awaitReply polls until the agent's turn reaches a terminal state, then
// returns its last assistant message.
func awaitReply(ctx context.Context, dash *state.Dashboard, agentID string) (state.ChatMessage, bool) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return state.ChatMessage{}, false
		case <-ticker.C:
			a, found := dash.Agent(agentID)
			if !found || a.Streaming {
				continue
			}
			msgs := dash.Messages(agentID)
			for i := len(msgs) - 1; i >= 0; i-- {
				if msgs[i].Role == "assistant" {
					return msgs[i], true
				}
			}
		}
	}
}
