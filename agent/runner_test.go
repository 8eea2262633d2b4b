package agent

import (
	"testing"
)

func TestCommandLine(t *testing.T) {
	tests := []struct {
		name    string
		command string
		args    []string
		sandbox string
		want    string
	}{
		{
			name:    "bare command",
			command: "claude",
			want:    "claude",
		},
		{
			name:    "with args",
			command: "claude",
			args:    []string{"--permission-mode", "acceptEdits"},
			want:    "claude --permission-mode acceptEdits",
		},
		{
			name:    "arg with spaces is quoted",
			command: "claude",
			args:    []string{"--append-system-prompt", "be brief"},
			want:    "claude --append-system-prompt 'be brief'",
		},
		{
			name:    "sandbox template wraps the command",
			command: "claude",
			sandbox: "sandbox-exec -p trusted %s",
			want:    "sandbox-exec -p trusted claude",
		},
		{
			name:    "sandbox without placeholder is ignored",
			command: "claude",
			sandbox: "broken-template",
			want:    "claude",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Runner{command: tt.command, args: tt.args, sandbox: tt.sandbox}
			if got := r.CommandLine(); got != tt.want {
				t.Errorf("CommandLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"claude", "claude"},
		{"", "''"},
		{"two words", "'two words'"},
		{"it's", `'it'\''s'`},
		{"$HOME", "'$HOME'"},
		{"a;b", "'a;b'"},
		{"plain-arg_1.2", "plain-arg_1.2"},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseVersionOutput(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.0.38 (Claude Code)\n", "1.0.38"},
		{"claude version v2.1.0", "2.1.0"},
		{"some banner\n0.9.1\n", "0.9.1"},
		{"no version here", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseVersionOutput(tt.in); got != tt.want {
			t.Errorf("parseVersionOutput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchesAgentProcess(t *testing.T) {
	tests := []struct {
		foreground string
		command    string
		want       bool
	}{
		{"claude", "claude", true},
		{"/usr/local/bin/claude", "claude", true},
		{"node", "claude", true},
		{"bun", "claude", true},
		{"zsh", "claude", false},
		{"vim", "claude", false},
		{"", "claude", false},
	}
	for _, tt := range tests {
		if got := matchesAgentProcess(tt.foreground, tt.command); got != tt.want {
			t.Errorf("matchesAgentProcess(%q, %q) = %v, want %v", tt.foreground, tt.command, got, tt.want)
		}
	}
}

func TestMatchConfirmation(t *testing.T) {
	capture := "╭───╮\n│ Do you trust the files in this folder? │\n╰───╯"
	if got := matchConfirmation(capture); got != "Do you trust the files" {
		t.Errorf("matchConfirmation = %q", got)
	}
	if got := matchConfirmation("● All done."); got != "" {
		t.Errorf("matchConfirmation on plain output = %q, want empty", got)
	}
}
