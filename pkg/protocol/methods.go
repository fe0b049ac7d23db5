package protocol

// RPC method name constants consumed by dashboard clients.
const (
	// System
	MethodConnect = "connect"
	MethodTick    = "tick"

	// Chat
	MethodChatSend    = "chat.send"
	MethodChatHistory = "chat.history"
	MethodChatAbort   = "chat.abort"

	// Sessions
	MethodSessionsList = "sessions.list"

	// Cron
	MethodCronList = "cron.list"

	// State snapshots on demand
	MethodSystemPresence = "system-presence"
	MethodSystemHealth   = "system-health"

	// Logs
	MethodLogsTail = "logs.tail"

	// Agent
	MethodAgentIdentity = "agent.identity"
)
