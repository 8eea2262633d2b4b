package hook

import (
	"strings"
)

// PaneCaptureLines is how far back the pane fallback looks.
const PaneCaptureLines = 500

// PaneWarning is appended to pane-captured text so the reader knows it did
// not come from the transcript.
const PaneWarning = "⚠️ Captured from the terminal, the tail may be incomplete."

// responseBullet marks the start of a rendered agent reply in the pane.
const responseBullet = "●"

// animatedMarkers are the first runes of spinner and status lines the
// agent UI redraws while working. They are noise, not reply content.
var animatedMarkers = map[rune]bool{
	'·': true,
	'✢': true,
	'✳': true,
	'✶': true,
	'✻': true,
	'✽': true,
	'✺': true,
	'∗': true,
}

// ParsePaneTail extracts the last rendered reply from a pane capture. It
// scans backwards for the last response bullet, then collects forward
// until the input prompt or a separator line. ok is false when no bullet
// is present.
func ParsePaneTail(capture string) (string, bool) {
	lines := strings.Split(capture, "\n")

	start := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), responseBullet) {
			start = i
			break
		}
	}
	if start == -1 {
		return "", false
	}

	var out []string
	for i := start; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if i > start && isPromptBoundary(trimmed) {
			break
		}
		if isAnimatedMarker(trimmed) {
			continue
		}
		if i == start {
			line = strings.TrimSpace(strings.TrimPrefix(trimmed, responseBullet))
		}
		out = append(out, line)
	}

	text := strings.TrimRight(strings.Join(out, "\n"), " \t\n")
	text = strings.TrimSpace(text)
	return text, text != ""
}

// isPromptBoundary reports whether the line belongs to the input prompt or
// a box separator rather than the reply.
func isPromptBoundary(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	switch {
	case strings.HasPrefix(trimmed, ">"),
		strings.HasPrefix(trimmed, "❯"),
		strings.HasPrefix(trimmed, "╭"),
		strings.HasPrefix(trimmed, "│"),
		strings.HasPrefix(trimmed, "╰"):
		return true
	}
	return isSeparator(trimmed)
}

// isSeparator matches horizontal rules drawn by the agent UI.
func isSeparator(trimmed string) bool {
	if len(trimmed) < 3 {
		return false
	}
	for _, r := range trimmed {
		switch r {
		case '─', '━', '═', '-':
		default:
			return false
		}
	}
	return true
}

func isAnimatedMarker(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		return animatedMarkers[r]
	}
	return false
}
