package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/clawdash/clawdash/pkg/protocol"
)

// CronEntry is one scheduled job on the cron board, with its next run
// computed locally from the cron expression.
type CronEntry struct {
	Name     string
	Schedule string
	Enabled  bool
	LastRun  time.Time
	NextRun  time.Time
}

// CronJobs returns the cron board from the last cron.list refresh.
func (d *Dashboard) CronJobs() []CronEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]CronEntry(nil), d.crons...)
}

// refreshCrons fetches cron.list and rebuilds the board. Called after each
// handshake; failures leave the previous board in place.
func (d *Dashboard) refreshCrons() {
	if d.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload, err := d.client.Request(ctx, protocol.MethodCronList, nil)
	if err != nil {
		slog.Debug("state: cron.list failed", "error", err)
		return
	}
	var result protocol.CronListResult
	if err := json.Unmarshal(payload, &result); err != nil {
		slog.Debug("state: bad cron.list payload", "error", err)
		return
	}

	entries := buildCronBoard(result.Jobs, time.Now())
	d.mu.Lock()
	d.crons = entries
	d.mu.Unlock()
}

func buildCronBoard(jobs []protocol.CronJob, now time.Time) []CronEntry {
	gron := gronx.New()
	entries := make([]CronEntry, 0, len(jobs))
	for _, job := range jobs {
		entry := CronEntry{
			Name:     job.Name,
			Schedule: job.Schedule,
			Enabled:  job.Enabled,
		}
		if job.LastRun > 0 {
			entry.LastRun = time.UnixMilli(job.LastRun)
		}
		if job.Enabled && gron.IsValid(job.Schedule) {
			if next, err := gronx.NextTickAfter(job.Schedule, now, false); err == nil {
				entry.NextRun = next
			}
		}
		entries = append(entries, entry)
	}
	return entries
}
