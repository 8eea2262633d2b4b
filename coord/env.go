package coord

// Session-scoped environment keys the bridge stamps onto every worker
// session at creation. The stop hook reads them back through tmux, so the
// names are part of the bridge/hook contract.
const (
	EnvPort        = "PORT"
	EnvPrefix      = "TMUX_PREFIX"
	EnvSessionsDir = "SESSIONS_DIR"
	EnvBridgeURL   = "BRIDGE_URL"
)
