// Package hook implements the stop hook that runs inside a worker's pane
// when the agent finishes a turn. It pulls the agent's reply out of the
// session transcript and posts it back to the bridge; the bridge side of
// that call lives in the server package.
package hook

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// The transcript may still be flushing when the stop hook fires. The
	// extraction is polled until two consecutive reads agree.
	stabilityWindow   = 2 * time.Second
	stabilityInterval = 50 * time.Millisecond

	// Transcript lines can carry large embedded tool output.
	scannerInitBuf = 256 * 1024
	scannerMaxBuf  = 1024 * 1024
)

// TranscriptEntry is one line of the agent's JSONL transcript.
type TranscriptEntry struct {
	Type    string             `json:"type"`
	Message *TranscriptMessage `json:"message,omitempty"`
}

// TranscriptMessage is the nested message structure. Content is either a
// plain string or a list of content blocks depending on the entry kind.
type TranscriptMessage struct {
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ContentBlock represents a content block in a transcript entry.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Blocks decodes the content into blocks, handling both representations.
func (m *TranscriptMessage) Blocks() []ContentBlock {
	if m == nil || len(m.Content) == 0 {
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err == nil {
		return blocks
	}
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil && text != "" {
		return []ContentBlock{{Type: "text", Text: text}}
	}
	return nil
}

// isHumanTurn reports whether the entry is actual user input. Tool results
// also arrive with type "user" but belong to the assistant's turn; cutting
// at them would truncate multi-step replies.
func isHumanTurn(entry *TranscriptEntry) bool {
	if entry.Type != "user" {
		return false
	}
	for _, block := range entry.Message.Blocks() {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return true
		}
	}
	return false
}

// ExtractLastReply parses the transcript and returns the text of the
// assistant turns after the last user turn, joined by blank lines.
func ExtractLastReply(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "open transcript %s", path)
	}
	defer f.Close()

	var entries []TranscriptEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, scannerInitBuf), scannerMaxBuf)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry TranscriptEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// Partially flushed lines are expected near the tail.
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrapf(err, "read transcript %s", path)
	}

	lastUser := -1
	for i := range entries {
		if isHumanTurn(&entries[i]) {
			lastUser = i
		}
	}

	var parts []string
	for i := lastUser + 1; i < len(entries); i++ {
		if entries[i].Type != "assistant" {
			continue
		}
		for _, block := range entries[i].Message.Blocks() {
			if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
				parts = append(parts, strings.TrimSpace(block.Text))
			}
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// ExtractStable polls the transcript until two consecutive extractions are
// identical, non-empty, and the file size stops moving, or the window
// closes. Returns the last extraction either way; "" means the transcript
// held no reply.
func ExtractStable(ctx context.Context, path string) string {
	deadline := time.Now().Add(stabilityWindow)
	var lastText string
	var lastSize int64 = -1

	for {
		text, err := ExtractLastReply(path)
		if err != nil && os.IsNotExist(errors.Cause(err)) {
			// A missing transcript will not appear inside the window;
			// let the pane fallback take over immediately.
			return ""
		}
		size := fileSize(path)
		if err == nil && text != "" && text == lastText && size == lastSize {
			return text
		}
		lastText, lastSize = text, size

		if time.Now().After(deadline) {
			return lastText
		}
		select {
		case <-ctx.Done():
			return lastText
		case <-time.After(stabilityInterval):
		}
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}
