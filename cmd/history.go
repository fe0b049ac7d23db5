package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawdash/clawdash/internal/config"
	"github.com/clawdash/clawdash/internal/gateway"
	"github.com/clawdash/clawdash/internal/state"
)

func historyCmd() *cobra.Command {
	var agentID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print an agent's recent chat transcript",
		Run: func(cmd *cobra.Command, args []string) {
			runHistory(agentID, limit)
		},
	}
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "agent id (default: primary roster agent)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "max messages")
	return cmd
}

func runHistory(agentID string, limit int) {
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	if err := dash.LoadHistory(ctx, agentID, limit); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	for _, msg := range dash.Messages(agentID) {
		stamp := ""
		if !msg.CreatedAt.IsZero() {
			stamp = msg.CreatedAt.Format("Jan 02 15:04 ")
		}
		fmt.Printf("%s%s: %s\n", stamp, msg.Role, msg.Text)
	}
}
