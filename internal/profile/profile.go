package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the bridge. Set once at startup and
// read-only thereafter.
type Profile struct {
	// Server
	Mode    string // "dev" or "prod"
	Addr    string
	Port    int    // boundary server port, also written to <data>/port for the hook
	Data    string // node root: last_chat_id, last_active, port
	Version string

	// Multiplexer / coordination
	SessionsRoot  string // per-worker coordination dirs (pending, chat_id, inbox)
	SessionPrefix string // multiplexer session name prefix, e.g. "cm-"

	// Chat transport
	BotToken      string
	WebhookSecret string // optional shared secret for webhook ingress
	WebhookURL    string // public URL registered with the transport (optional)
	AdminChatID   int64  // optional pre-set admin; 0 means learn from first message

	// Agent program
	AgentCommand    string   // binary started inside each worker session
	AgentArgs       []string // extra args appended to the agent command
	SandboxCommand  string   // optional wrapper template; "%s" is replaced by the agent command line
	MinAgentVersion string   // warn at startup when the agent CLI reports a lower version

	// Routing surface
	ReservedNames   []string // names refused by hire
	BlockedCommands []string // slash heads answered with BlockedReply instead of pass-through
	BlockedReply    string

	// Behavior toggles
	PaneFallback   bool  // hook falls back to pane capture when extraction is empty
	MetricsEnabled bool  // expose GET /metrics
	MaxMediaMB     int64 // inbound and outbound media cap
	LogLevel       string
}

// defaultReservedNames are worker names that collide with the command
// surface or with transport keywords. hire refuses them.
var defaultReservedNames = []string{
	"hire", "end", "team", "focus", "progress", "pause", "relaunch", "settings", "learn",
	"new", "use", "list", "kill", "status", "stop", "restart", "system",
	"all", "start", "help",
}

// defaultBlockedCommands are slash heads that belong to the agent's own
// interactive UI. Passing them through a blind text send would wedge the
// session, so the bridge answers with BlockedReply instead.
var defaultBlockedCommands = []string{
	"mcp", "help", "config", "model", "compact", "cost", "doctor", "init",
	"login", "logout", "memory", "permissions", "pr", "review", "terminal",
	"vim", "approved-tools", "listen", "ide",
}

const defaultBlockedReply = "That command drives the agent's own UI and is not available through chat."

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAdminPreset reports whether the admin chat was fixed by configuration
// rather than learned from the first inbound message.
func (p *Profile) IsAdminPreset() bool {
	return p.AdminChatID != 0
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultBool returns environment variable value as bool or default value.
func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// splitList splits a comma-separated environment value into trimmed,
// lowercased entries. Empty entries are dropped.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FromEnv loads configuration from environment variables. Values already
// set on the profile (e.g. from flags) win over the environment.
func (p *Profile) FromEnv() {
	if p.BotToken == "" {
		p.BotToken = getEnvOrDefault("CREWMUX_BOT_TOKEN", "")
	}
	if p.WebhookSecret == "" {
		p.WebhookSecret = getEnvOrDefault("CREWMUX_WEBHOOK_SECRET", "")
	}
	if p.WebhookURL == "" {
		p.WebhookURL = getEnvOrDefault("CREWMUX_WEBHOOK_URL", "")
	}
	if p.AdminChatID == 0 {
		if v := os.Getenv("CREWMUX_ADMIN_CHAT_ID"); v != "" {
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				p.AdminChatID = id
			} else {
				slog.Warn("profile: ignoring malformed CREWMUX_ADMIN_CHAT_ID", "value", v)
			}
		}
	}

	if p.SessionsRoot == "" {
		p.SessionsRoot = getEnvOrDefault("CREWMUX_SESSIONS_ROOT", "")
	}
	if p.SessionPrefix == "" {
		p.SessionPrefix = getEnvOrDefault("CREWMUX_SESSION_PREFIX", "cm-")
	}

	if p.AgentCommand == "" {
		p.AgentCommand = getEnvOrDefault("CREWMUX_AGENT_CMD", "claude")
	}
	if len(p.AgentArgs) == 0 {
		if v := os.Getenv("CREWMUX_AGENT_ARGS"); v != "" {
			p.AgentArgs = strings.Fields(v)
		}
	}
	if p.SandboxCommand == "" {
		p.SandboxCommand = getEnvOrDefault("CREWMUX_SANDBOX_CMD", "")
	}
	p.MinAgentVersion = getEnvOrDefault("CREWMUX_AGENT_MIN_VERSION", p.MinAgentVersion)

	if v := os.Getenv("CREWMUX_RESERVED_NAMES"); v != "" {
		p.ReservedNames = splitList(v)
	}
	if v := os.Getenv("CREWMUX_BLOCKED_COMMANDS"); v != "" {
		p.BlockedCommands = splitList(v)
	}
	if p.BlockedReply == "" {
		p.BlockedReply = getEnvOrDefault("CREWMUX_BLOCKED_REPLY", defaultBlockedReply)
	}

	p.PaneFallback = getEnvOrDefaultBool("CREWMUX_PANE_FALLBACK", true)
	p.MetricsEnabled = getEnvOrDefaultBool("CREWMUX_METRICS", true)
	p.MaxMediaMB = int64(getEnvOrDefaultInt("CREWMUX_MAX_MEDIA_MB", 20))
	if p.LogLevel == "" {
		p.LogLevel = getEnvOrDefault("CREWMUX_LOG_LEVEL", "info")
	}
}

// DefaultSessionsRoot returns the coordination root used when none is
// configured.
func DefaultSessionsRoot() string {
	return filepath.Join(os.TempDir(), "crewmux-sessions")
}

// DefaultDataDir returns the node data directory for a mode without
// creating it. The stop hook uses the same resolution to find the port
// file when no environment hints are available.
func DefaultDataDir(mode string) string {
	if mode == "prod" && runtime.GOOS != "windows" {
		return "/var/opt/crewmux"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "crewmux")
	}
	return filepath.Join(home, ".crewmux")
}

func ensureDir(dir string, perm os.FileMode) (string, error) {
	if !filepath.IsAbs(dir) {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return "", err
		}
		dir = absDir
	}
	dir = strings.TrimRight(dir, "\\/")
	if err := os.MkdirAll(dir, perm); err != nil {
		return "", errors.Wrapf(err, "unable to create directory %s", dir)
	}
	return dir, nil
}

// Validate normalizes the profile and fills derived defaults. It must be
// called once before the profile is shared.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.BotToken == "" {
		return errors.New("bot token is required (flag --bot-token or CREWMUX_BOT_TOKEN)")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}

	if p.Data == "" {
		p.Data = DefaultDataDir(p.Mode)
	}
	dataDir, err := ensureDir(p.Data, 0o700)
	if err != nil {
		slog.Error("profile: failed to prepare data dir", "data", p.Data, "error", err)
		return err
	}
	p.Data = dataDir

	if p.SessionsRoot == "" {
		p.SessionsRoot = DefaultSessionsRoot()
	}
	sessionsRoot, err := ensureDir(p.SessionsRoot, 0o700)
	if err != nil {
		slog.Error("profile: failed to prepare sessions root", "sessions_root", p.SessionsRoot, "error", err)
		return err
	}
	p.SessionsRoot = sessionsRoot

	if p.SessionPrefix == "" {
		p.SessionPrefix = "cm-"
	}
	for _, r := range p.SessionPrefix {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return errors.Errorf("session prefix %q may only contain [a-z0-9-_]", p.SessionPrefix)
		}
	}

	if p.AgentCommand == "" {
		p.AgentCommand = "claude"
	}
	if len(p.ReservedNames) == 0 {
		p.ReservedNames = append([]string(nil), defaultReservedNames...)
	}
	if len(p.BlockedCommands) == 0 {
		p.BlockedCommands = append([]string(nil), defaultBlockedCommands...)
	}
	if p.BlockedReply == "" {
		p.BlockedReply = defaultBlockedReply
	}
	if p.MaxMediaMB <= 0 {
		p.MaxMediaMB = 20
	}

	return nil
}

// PublicURL returns the advertised base URL of the boundary server, used
// for webhook registration and for the session-scoped BRIDGE_URL env.
func (p *Profile) PublicURL() string {
	if p.WebhookURL != "" {
		return strings.TrimRight(p.WebhookURL, "/")
	}
	host := p.Addr
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, p.Port)
}
