package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clawdash/clawdash/internal/config"
	"github.com/clawdash/clawdash/internal/gateway"
	"github.com/clawdash/clawdash/internal/state"
)

// streamingGracePeriod is how long a turn may stay in streaming state with
// no terminal frame before the watchdog force-closes it.
const streamingGracePeriod = 60 * time.Second

// errConfigChanged signals that the session should restart with a freshly
// loaded config.
var errConfigChanged = errors.New("config changed")

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live agent dashboard in the terminal",
		Run: func(cmd *cobra.Command, args []string) {
			runWatch()
		},
	}
}

func runWatch() {
	setupLogging()
	for {
		err := runWatchSession()
		if errors.Is(err, errConfigChanged) {
			slog.Info("config changed, restarting session")
			continue
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("watch session failed", "error", err)
			os.Exit(1)
		}
		return
	}
}

func runWatchSession() error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client := gateway.New(gateway.Options{
		URL:            cfg.Gateway.URL,
		Token:          cfg.Gateway.Token,
		ClientVersion:  Version,
		AutoReconnect:  cfg.Gateway.Reconnect(),
		MaxBackoff:     cfg.Gateway.MaxBackoff(),
		DialTimeout:    cfg.Gateway.DialTimeout(),
		RequestTimeout: cfg.Gateway.RequestTimeout(),
	})
	defer client.Close()

	dash := state.New(client, cfg)
	detach := dash.Attach()
	defer detach()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if _, err := client.Connect(ctx); err != nil {
			if !cfg.Gateway.Reconnect() {
				return fmt.Errorf("connect: %w", err)
			}
			slog.Warn("initial connect failed, retrying in background", "error", err)
		}
		<-ctx.Done()
		return ctx.Err()
	})
	g.Go(func() error { return renderLoop(ctx, client, dash) })
	g.Go(func() error { return streamingWatchdog(ctx, dash) })
	g.Go(func() error { return resyncLoop(ctx, client, dash) })
	g.Go(func() error { return watchConfigFile(ctx, cfgPath) })

	return g.Wait()
}

func renderLoop(ctx context.Context, client *gateway.Client, dash *state.Dashboard) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fmt.Print(renderView(client, dash))
		}
	}
}

// streamingWatchdog force-closes turns that never received a terminal
// frame: an agent continuously streaming past the grace period gets a
// synthetic timeout message.
func streamingWatchdog(ctx context.Context, dash *state.Dashboard) error {
	since := make(map[string]time.Time)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, a := range dash.Agents() {
				if !a.Streaming {
					delete(since, a.ID)
					continue
				}
				start, ok := since[a.ID]
				if !ok {
					since[a.ID] = now
					continue
				}
				if now.Sub(start) >= streamingGracePeriod {
					if dash.ClearStreaming(a.ID) {
						slog.Warn("streaming turn timed out", "agent", a.ID)
					}
					delete(since, a.ID)
				}
			}
		}
	}
}

// resyncLoop periodically re-fetches presence and health, covering events
// lost while a socket was down.
func resyncLoop(ctx context.Context, client *gateway.Client, dash *state.Dashboard) error {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if client.State() != gateway.StateConnected {
				continue
			}
			if err := dash.RefreshPresence(ctx); err != nil {
				slog.Debug("presence resync failed", "error", err)
			}
			if err := dash.RefreshHealth(ctx); err != nil {
				slog.Debug("health resync failed", "error", err)
			}
		}
	}
}

// watchConfigFile waits for the config file to change on disk, then asks
// for a session restart so the new token and roster take effect.
func watchConfigFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Debug("config watch unavailable", "error", err)
		<-ctx.Done()
		return ctx.Err()
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file, which re-creates it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		slog.Debug("config watch unavailable", "path", path, "error", err)
		<-ctx.Done()
		return ctx.Err()
	}
	base := filepath.Base(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Let the editor finish writing before the reload.
			time.Sleep(200 * time.Millisecond)
			return errConfigChanged
		case err, ok := <-watcher.Errors:
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			slog.Debug("config watch error", "error", err)
		}
	}
}
