package config

import "time"

// Config is the root configuration for clawdash.
type Config struct {
	Gateway GatewayConfig `json:"gateway"`
	Agents  []AgentSpec   `json:"agents,omitempty"`
	Feed    FeedConfig    `json:"feed,omitempty"`
}

// GatewayConfig describes the gateway connection. Endpoint selection, token
// sourcing and backoff constants are configuration, not protocol.
type GatewayConfig struct {
	URL           string `json:"url"`
	Token         string `json:"-"` // from env CLAWDASH_TOKEN only, never persisted
	AutoReconnect *bool  `json:"auto_reconnect,omitempty"` // default true
	MaxBackoffMS  int    `json:"max_backoff_ms,omitempty"`
	RequestMS     int    `json:"request_timeout_ms,omitempty"`
	DialMS        int    `json:"dial_timeout_ms,omitempty"`
}

// AgentSpec is one entry of the fixed roster of known agents. Presence
// entries are matched against Tags (then ID and DisplayName) to derive
// per-agent status.
type AgentSpec struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name,omitempty"`
	Color       string   `json:"color,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Primary     bool     `json:"primary,omitempty"` // fallback target for unmatched session keys
}

// FeedConfig tunes the notification feed.
type FeedConfig struct {
	MaxEntries   int `json:"max_entries,omitempty"`    // default 100
	MinTextRunes int `json:"min_text_runes,omitempty"` // default 3; shorter finals are control tokens
}

// Max returns the feed size cap.
func (f FeedConfig) Max() int {
	if f.MaxEntries > 0 {
		return f.MaxEntries
	}
	return 100
}

// MinRunes returns the minimum rune count for a final turn to reach the
// feed. Shorter texts are treated as control tokens.
func (f FeedConfig) MinRunes() int {
	if f.MinTextRunes > 0 {
		return f.MinTextRunes
	}
	return 3
}

// Reconnect reports whether auto-reconnect is enabled (default true).
func (g GatewayConfig) Reconnect() bool {
	return g.AutoReconnect == nil || *g.AutoReconnect
}

// MaxBackoff returns the reconnect delay cap.
func (g GatewayConfig) MaxBackoff() time.Duration {
	if g.MaxBackoffMS > 0 {
		return time.Duration(g.MaxBackoffMS) * time.Millisecond
	}
	return 30 * time.Second
}

// RequestTimeout returns the default per-request timeout.
func (g GatewayConfig) RequestTimeout() time.Duration {
	if g.RequestMS > 0 {
		return time.Duration(g.RequestMS) * time.Millisecond
	}
	return 30 * time.Second
}

// DialTimeout returns the WebSocket dial + handshake timeout.
func (g GatewayConfig) DialTimeout() time.Duration {
	if g.DialMS > 0 {
		return time.Duration(g.DialMS) * time.Millisecond
	}
	return 10 * time.Second
}

// Primary returns the orchestrator agent — the explicit Primary entry, or
// the first roster entry when none is flagged. Returns nil for an empty
// roster.
func (c *Config) PrimaryAgent() *AgentSpec {
	for i := range c.Agents {
		if c.Agents[i].Primary {
			return &c.Agents[i]
		}
	}
	if len(c.Agents) > 0 {
		return &c.Agents[0]
	}
	return nil
}
