// Package plugins defines the capability contract every protocol binding supplies
// and a registry that resolves one binding by name at startup.
package plugins

// Plugin is one protocol binding. M is the data-plane message type, S the control-plane
// system message type. The server and agent loops are written once against this interface.
type Plugin[M, S any] interface {
	// GenerateHeartbeat builds the first message of a conversation. No network I/O.
	GenerateHeartbeat() (M, error)
	// AgentRuntime steps the agent state machine. ok=false ends the conversation.
	AgentRuntime(incoming M) (next M, ok bool, err error)
	// ServerRuntime produces exactly one reply per inbound datagram and never mutates the pool.
	ServerRuntime(incoming M) (M, error)
	// PoolHandler is the only operation allowed to mutate pool state. Callers hold exclusive access.
	PoolHandler(incoming S) (S, error)
	// ShutdownCheck is read-only and evaluated once per completed control exchange.
	ShutdownCheck() (bool, error)
}
