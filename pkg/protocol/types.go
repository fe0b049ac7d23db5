package protocol

import "encoding/json"

// ConnectParams is the body of the connect request sent in response to the
// server's connect.challenge event.
type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
	Role        string     `json:"role"`
	Scopes      []string   `json:"scopes,omitempty"`
	Auth        *AuthInfo  `json:"auth,omitempty"`
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

// AuthInfo carries the optional bearer token.
type AuthInfo struct {
	Token string `json:"token"`
}

// HelloPayload is the connect response payload.
type HelloPayload struct {
	Type     string       `json:"type"` // "hello-ok"
	Snapshot SnapshotData `json:"snapshot"`
	Policy   HelloPolicy  `json:"policy"`
}

// HelloPolicy carries server-dictated client behavior.
type HelloPolicy struct {
	TickIntervalMS int `json:"tickIntervalMs"`
}

// SnapshotData is the one-time state bundle delivered at handshake completion.
type SnapshotData struct {
	Presence     []PresenceEntry `json:"presence"`
	Health       json.RawMessage `json:"health"`
	StateVersion StateVersion    `json:"stateVersion"`
	UptimeMS     int64           `json:"uptimeMs"`
}

// PresenceEntry is a server-reported liveness record for one agent process.
type PresenceEntry struct {
	Tag          string `json:"tag,omitempty"`
	Role         string `json:"role,omitempty"`
	Text         string `json:"text,omitempty"`
	Status       string `json:"status,omitempty"`
	LastActivity int64  `json:"lastActivity,omitempty"` // unix millis
}

// PresencePayload is the body of the presence event.
type PresencePayload struct {
	Entries []PresenceEntry `json:"entries"`
}

// ChatEventPayload is the body of the chat event. Message is left raw:
// gateways emit a plain string, an array of content blocks, or a nested
// content object depending on the agent runtime.
type ChatEventPayload struct {
	RunID        string          `json:"runId"`
	SessionKey   string          `json:"sessionKey"`
	Seq          int64           `json:"seq,omitempty"`
	State        string          `json:"state"`
	Message      json.RawMessage `json:"message,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// ChatSendParams is the body of the chat.send request.
type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ChatSendResult is the chat.send response payload.
type ChatSendResult struct {
	RunID string `json:"runId"`
}

// ChatHistoryParams is the body of the chat.history request.
type ChatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit,omitempty"`
}

// HistoryMessage is one persisted message in a chat.history response.
// Content uses the same raw shapes as ChatEventPayload.Message.
type HistoryMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content,omitempty"`
	RunID     string          `json:"runId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // unix millis
}

// ChatHistoryResult is the chat.history response payload, oldest first.
type ChatHistoryResult struct {
	Messages []HistoryMessage `json:"messages"`
}

// ChatAbortParams is the body of the chat.abort request.
type ChatAbortParams struct {
	SessionKey string `json:"sessionKey"`
	RunID      string `json:"runId,omitempty"`
}

// SessionsListParams is the body of the sessions.list request.
type SessionsListParams struct {
	Limit         int `json:"limit,omitempty"`
	ActiveMinutes int `json:"activeMinutes,omitempty"`
}

// SessionInfo is one entry of the sessions.list response.
type SessionInfo struct {
	Key          string `json:"key"`
	Label        string `json:"label,omitempty"`
	LastActivity int64  `json:"lastActivity,omitempty"` // unix millis
}

// SessionsListResult is the sessions.list response payload.
type SessionsListResult struct {
	Sessions []SessionInfo `json:"sessions"`
}

// LogsTailParams is the body of the logs.tail request. An empty cursor
// starts from the current end of the log.
type LogsTailParams struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// LogsTailResult is the logs.tail response payload. Cursor resumes the
// tail in the next request.
type LogsTailResult struct {
	Lines  []string `json:"lines"`
	Cursor string   `json:"cursor,omitempty"`
}

// AgentIdentityParams is the body of the agent.identity request.
type AgentIdentityParams struct {
	AgentID string `json:"agentId"`
}

// AgentIdentityResult is the agent.identity response payload.
type AgentIdentityResult struct {
	AgentID     string `json:"agentId"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// CronFiredPayload is the body of the cron.fired event.
type CronFiredPayload struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// CronJob is one entry of the cron.list response.
type CronJob struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"` // cron expression
	Enabled  bool   `json:"enabled"`
	LastRun  int64  `json:"lastRun,omitempty"` // unix millis
}

// CronListResult is the cron.list response payload.
type CronListResult struct {
	Jobs []CronJob `json:"jobs"`
}
