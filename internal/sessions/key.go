// Package sessions — session key parser and builders.
//
// Session keys follow the gateway's canonical format:
//
//	agent:{agentId}:{rest}
//
// Where {rest} depends on the session type:
//
//	Main:     main
//	DM:       {channel}:direct:{peerId}
//	Group:    {channel}:group:{groupId}
//	Subagent: subagent:{label}
//	Cron:     cron:{jobId}:run:{runId}
//	Hook:     hook:{name}
//
// Examples:
//
//	agent:kiln:main
//	agent:kiln:telegram:direct:386246614
//	agent:razor:subagent:indexer
//	agent:hex:cron:reminder:run:abc123
package sessions

import (
	"fmt"
	"strings"
)

// BuildMainSessionKey builds the shared "main" session key for an agent —
// the session a dashboard chat pane talks to.
//
//	agent:{agentId}:main
func BuildMainSessionKey(agentID string) string {
	return fmt.Sprintf("agent:%s:main", agentID)
}

// ParseSessionKey extracts the agentID and rest from a canonical session key.
// Returns ("", "") if the key is not in the expected format.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}

// IsSubagentSession checks if a session key indicates a subagent session.
func IsSubagentSession(key string) bool {
	_, rest := ParseSessionKey(key)
	return strings.HasPrefix(strings.ToLower(rest), "subagent:")
}

// IsCronSession checks if a session key indicates a cron run session.
func IsCronSession(key string) bool {
	_, rest := ParseSessionKey(key)
	return strings.HasPrefix(strings.ToLower(rest), "cron:")
}

// IsHookSession checks if a session key indicates a hook-triggered session.
func IsHookSession(key string) bool {
	_, rest := ParseSessionKey(key)
	return strings.HasPrefix(strings.ToLower(rest), "hook:")
}

// IsBackgroundSession reports whether the session is machine-originated
// (cron, subagent, or hook). Background sessions never produce
// notification-feed entries.
func IsBackgroundSession(key string) bool {
	return IsCronSession(key) || IsSubagentSession(key) || IsHookSession(key)
}
