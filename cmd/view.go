package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/clawdash/clawdash/internal/gateway"
	"github.com/clawdash/clawdash/internal/state"
	"github.com/clawdash/clawdash/pkg/protocol"
)

const feedTail = 5

// renderView composes one full refresh: connection banner, agent table,
// cron board and the feed tail. Uses a cursor-home clear so the view
// repaints in place.
func renderView(client *gateway.Client, dash *state.Dashboard) string {
	var b strings.Builder
	b.WriteString("\033[H\033[2J")

	b.WriteString(connBanner(client.State()))
	b.WriteString("\n\n")
	b.WriteString(renderAgentTable(dash.Agents()))

	if crons := dash.CronJobs(); len(crons) > 0 {
		b.WriteString("\n")
		b.WriteString(renderCronBoard(crons))
	}

	if feed := dash.Feed(); len(feed) > 0 {
		b.WriteString("\nrecent:\n")
		if len(feed) > feedTail {
			feed = feed[:feedTail]
		}
		for _, e := range feed {
			b.WriteString("  " + formatFeedEntry(e) + "\n")
		}
	}
	return b.String()
}

func connBanner(s gateway.ConnState) string {
	switch s {
	case gateway.StateConnected:
		return "● gateway connected"
	case gateway.StateConnecting:
		return "◌ connecting..."
	case gateway.StateReconnecting:
		return "◌ connection lost, reconnecting..."
	default:
		return "○ disconnected"
	}
}

func renderAgentTable(agents []state.Agent) string {
	headers := []string{"AGENT", "STATUS", "TASK", "LAST ACTIVITY"}
	rows := make([][]string, 0, len(agents))
	for _, a := range agents {
		status := string(a.Status)
		if a.Streaming {
			status += " ⋯"
		}
		rows = append(rows, []string{
			a.DisplayName,
			status,
			a.CurrentTask,
			formatLastActivity(a.LastActivity),
		})
	}
	return renderTable(headers, rows)
}

func renderCronBoard(crons []state.CronEntry) string {
	headers := []string{"CRON", "SCHEDULE", "NEXT RUN"}
	rows := make([][]string, 0, len(crons))
	for _, c := range crons {
		next := "-"
		if !c.Enabled {
			next = "disabled"
		} else if !c.NextRun.IsZero() {
			next = formatDelay(time.Until(c.NextRun))
		}
		rows = append(rows, []string{c.Name, c.Schedule, next})
	}
	return renderTable(headers, rows)
}

func renderSessionsTable(sessions []protocol.SessionInfo) string {
	headers := []string{"SESSION", "LABEL", "LAST ACTIVITY"}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		last := "-"
		if s.LastActivity > 0 {
			last = formatLastActivity(time.UnixMilli(s.LastActivity))
		}
		rows = append(rows, []string{s.Key, s.Label, last})
	}
	return renderTable(headers, rows)
}

// renderTable lays out rows with runewidth-aware column padding, so CJK
// display names and status glyphs keep the columns aligned.
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			if pad := widths[i] - runewidth.StringWidth(cell); pad > 0 && i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", pad))
			}
		}
		b.WriteString("\n")
	}
	writeRow(headers)
	for _, row := range rows {
		writeRow(row)
	}
	return b.String()
}

func formatFeedEntry(e state.FeedEntry) string {
	text := e.Text
	if runewidth.StringWidth(text) > 60 {
		text = runewidth.Truncate(text, 60, "…")
	}
	return fmt.Sprintf("%s  %s: %s", e.Time.Format("15:04:05"), e.Title, text)
}

func formatLastActivity(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return formatDelay(time.Since(t)) + " ago"
}

func formatDelay(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
}
