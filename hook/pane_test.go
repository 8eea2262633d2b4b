package hook

import (
	"strings"
	"testing"
)

func TestParsePaneTailBasic(t *testing.T) {
	capture := strings.Join([]string{
		"some earlier scrollback",
		"● I fixed the bug in the login handler.",
		"  The null check was missing.",
		"",
		"╭──────────────────────────╮",
		"│ >                        │",
		"╰──────────────────────────╯",
	}, "\n")

	got, ok := ParsePaneTail(capture)
	if !ok {
		t.Fatal("expected a parsed tail")
	}
	want := "I fixed the bug in the login handler.\n  The null check was missing."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParsePaneTailPicksLastBullet(t *testing.T) {
	capture := strings.Join([]string{
		"● old reply from a previous turn",
		"some tool output",
		"● the newest reply",
		"continuation line",
	}, "\n")

	got, ok := ParsePaneTail(capture)
	if !ok {
		t.Fatal("expected a parsed tail")
	}
	if !strings.HasPrefix(got, "the newest reply") {
		t.Errorf("got %q, want text from the last bullet", got)
	}
	if strings.Contains(got, "old reply") {
		t.Errorf("got %q, must not include earlier turns", got)
	}
}

func TestParsePaneTailSkipsAnimatedMarkers(t *testing.T) {
	capture := strings.Join([]string{
		"● Deploy finished.",
		"✻ Thinking…",
		"· Hustling… (esc to interrupt)",
		"All services are green.",
	}, "\n")

	got, ok := ParsePaneTail(capture)
	if !ok {
		t.Fatal("expected a parsed tail")
	}
	if strings.Contains(got, "Thinking") || strings.Contains(got, "Hustling") {
		t.Errorf("got %q, spinner lines must be dropped", got)
	}
	if !strings.Contains(got, "All services are green.") {
		t.Errorf("got %q, content after markers must be kept", got)
	}
}

func TestParsePaneTailStopsAtSeparator(t *testing.T) {
	capture := strings.Join([]string{
		"● answer text",
		"────────────────────",
		"status bar junk",
	}, "\n")

	got, ok := ParsePaneTail(capture)
	if !ok {
		t.Fatal("expected a parsed tail")
	}
	if got != "answer text" {
		t.Errorf("got %q, want %q", got, "answer text")
	}
}

func TestParsePaneTailNoBullet(t *testing.T) {
	if got, ok := ParsePaneTail("just a shell prompt\n$ ls\n"); ok {
		t.Errorf("got (%q, true), want no tail", got)
	}
}

func TestParsePaneTailEmptyAfterBullet(t *testing.T) {
	if got, ok := ParsePaneTail("●\n> "); ok {
		t.Errorf("got (%q, true), want no tail for empty bullet", got)
	}
}

func TestPromptBoundary(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"> ", true},
		{">", true},
		{"❯ try \"fix the tests\"", true},
		{"╭────╮", true},
		{"│ > │", true},
		{"╰────╯", true},
		{"──────", true},
		{"- a list item", false},
		{"regular text", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isPromptBoundary(tt.line); got != tt.want {
			t.Errorf("isPromptBoundary(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
