package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawdash/clawdash/internal/config"
	"github.com/clawdash/clawdash/internal/gateway"
	"github.com/clawdash/clawdash/internal/state"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "One-shot snapshot of agents, crons and gateway health",
		Run: func(cmd *cobra.Command, args []string) {
			runStatus()
		},
	}
}

func runStatus() {
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
		DialTimeout:    cfg.Gateway.DialTimeout(),
		RequestTimeout: cfg.Gateway.RequestTimeout(),
	})
	defer client.Close()

	dash := state.New(client, cfg)
	detach := dash.Attach()
	defer detach()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := client.Connect(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("gateway %s, up %s, tick %s\n\n", cfg.Gateway.URL, snap.Uptime.Round(time.Second), snap.TickInterval)
	fmt.Print(renderAgentTable(dash.Agents()))

	// The cron refresh runs off the connected event; give it a moment.
	deadline := time.Now().Add(3 * time.Second)
	for len(dash.CronJobs()) == 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if crons := dash.CronJobs(); len(crons) > 0 {
		fmt.Println()
		fmt.Print(renderCronBoard(crons))
	}

	if sessions, err := dash.ActiveSessions(ctx, 60); err == nil && len(sessions) > 0 {
		fmt.Println()
		fmt.Print(renderSessionsTable(sessions))
	}

	if health := dash.Health(); health != nil {
		var pretty map[string]any
		if json.Unmarshal(health, &pretty) == nil {
			fmt.Printf("\nhealth: %v\n", pretty)
		}
	}
}
