package profile

import (
	"os"
	"path/filepath"
	"testing"
)

// clearBridgeEnvVars clears every CREWMUX_* variable the profile reads.
func clearBridgeEnvVars() {
	suffixes := []string{
		"BOT_TOKEN", "WEBHOOK_SECRET", "WEBHOOK_URL", "ADMIN_CHAT_ID",
		"SESSIONS_ROOT", "SESSION_PREFIX",
		"AGENT_CMD", "AGENT_ARGS", "SANDBOX_CMD", "AGENT_MIN_VERSION",
		"RESERVED_NAMES", "BLOCKED_COMMANDS", "BLOCKED_REPLY",
		"PANE_FALLBACK", "METRICS", "MAX_MEDIA_MB", "LOG_LEVEL",
	}
	for _, suffix := range suffixes {
		os.Unsetenv("CREWMUX_" + suffix)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearBridgeEnvVars()

	p := &Profile{}
	p.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"SessionPrefix default", "cm-", p.SessionPrefix},
		{"AgentCommand default", "claude", p.AgentCommand},
		{"BlockedReply default", defaultBlockedReply, p.BlockedReply},
		{"LogLevel default", "info", p.LogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if !p.PaneFallback {
		t.Error("PaneFallback should default to true")
	}
	if !p.MetricsEnabled {
		t.Error("MetricsEnabled should default to true")
	}
	if p.MaxMediaMB != 20 {
		t.Errorf("MaxMediaMB = %d, want 20", p.MaxMediaMB)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		check    func(*Profile) bool
	}{
		{
			name:     "bot token",
			envVar:   "CREWMUX_BOT_TOKEN",
			envValue: "123:abc",
			check:    func(p *Profile) bool { return p.BotToken == "123:abc" },
		},
		{
			name:     "admin chat id",
			envVar:   "CREWMUX_ADMIN_CHAT_ID",
			envValue: "42",
			check:    func(p *Profile) bool { return p.AdminChatID == 42 },
		},
		{
			name:     "malformed admin chat id ignored",
			envVar:   "CREWMUX_ADMIN_CHAT_ID",
			envValue: "not-a-number",
			check:    func(p *Profile) bool { return p.AdminChatID == 0 },
		},
		{
			name:     "reserved names list",
			envVar:   "CREWMUX_RESERVED_NAMES",
			envValue: "Alpha, beta ,,gamma",
			check: func(p *Profile) bool {
				return len(p.ReservedNames) == 3 && p.ReservedNames[0] == "alpha" && p.ReservedNames[2] == "gamma"
			},
		},
		{
			name:     "pane fallback off",
			envVar:   "CREWMUX_PANE_FALLBACK",
			envValue: "false",
			check:    func(p *Profile) bool { return !p.PaneFallback },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearBridgeEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer os.Unsetenv(tt.envVar)

			p := &Profile{}
			p.FromEnv()
			if !tt.check(p) {
				t.Errorf("%s: env %s=%q not applied", tt.name, tt.envVar, tt.envValue)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Profile {
		t.Helper()
		return &Profile{
			Mode:         "dev",
			Port:         28280,
			BotToken:     "123:abc",
			Data:         t.TempDir(),
			SessionsRoot: filepath.Join(t.TempDir(), "sessions"),
		}
	}

	t.Run("valid profile", func(t *testing.T) {
		p := base(t)
		if err := p.Validate(); err != nil {
			t.Fatalf("Validate() = %v, want nil", err)
		}
		if len(p.ReservedNames) == 0 || len(p.BlockedCommands) == 0 {
			t.Error("Validate should install default reserved/blocked sets")
		}
		if fi, err := os.Stat(p.SessionsRoot); err != nil || !fi.IsDir() {
			t.Errorf("sessions root not created: %v", err)
		}
	})

	t.Run("missing bot token", func(t *testing.T) {
		p := base(t)
		p.BotToken = ""
		if err := p.Validate(); err == nil {
			t.Error("Validate() = nil, want error for missing bot token")
		}
	})

	t.Run("invalid port", func(t *testing.T) {
		p := base(t)
		p.Port = -1
		if err := p.Validate(); err == nil {
			t.Error("Validate() = nil, want error for invalid port")
		}
	})

	t.Run("bad prefix", func(t *testing.T) {
		p := base(t)
		p.SessionPrefix = "CM!"
		if err := p.Validate(); err == nil {
			t.Error("Validate() = nil, want error for invalid prefix characters")
		}
	})

	t.Run("unknown mode normalized", func(t *testing.T) {
		p := base(t)
		p.Mode = "staging"
		if err := p.Validate(); err != nil {
			t.Fatalf("Validate() = %v, want nil", err)
		}
		if p.Mode != "dev" {
			t.Errorf("Mode = %q, want dev", p.Mode)
		}
	})
}

func TestPublicURL(t *testing.T) {
	p := &Profile{Port: 28280}
	if got := p.PublicURL(); got != "http://localhost:28280" {
		t.Errorf("PublicURL() = %q", got)
	}

	p.WebhookURL = "https://bridge.example.com/"
	if got := p.PublicURL(); got != "https://bridge.example.com" {
		t.Errorf("PublicURL() = %q", got)
	}
}
