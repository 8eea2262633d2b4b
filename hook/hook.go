package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/hrygo/crewmux/coord"
	"github.com/hrygo/crewmux/internal/profile"
	"github.com/hrygo/crewmux/mux"
)

const defaultBridgePort = 28280

// StopEvent is the JSON the agent writes to the hook's stdin when a turn
// ends.
type StopEvent struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	HookEventName  string `json:"hook_event_name,omitempty"`
	StopHookActive bool   `json:"stop_hook_active,omitempty"`
}

// Run executes the stop hook end to end: identify the worker session this
// process runs inside, extract the agent's reply, post it to the bridge,
// and clear the worker's pending marker no matter what happened before.
// Errors are for logging only; the caller always exits zero so the hook
// can never wedge the agent.
func Run(ctx context.Context, stdin io.Reader) error {
	var event StopEvent
	if err := json.NewDecoder(stdin).Decode(&event); err != nil {
		return errors.Wrap(err, "decode stop event")
	}

	prefix := getenvOr(coord.EnvPrefix, "cm-")
	adapter, err := mux.NewAdapter(prefix, nil)
	if err != nil {
		return err
	}

	session, err := adapter.CurrentSession(ctx)
	if err != nil {
		if errors.Is(err, mux.ErrNotInsideSession) {
			return nil
		}
		return err
	}

	// The session-scoped prefix wins over the process environment; the
	// bridge stamps it at session creation.
	if v, err := adapter.SessionEnv(ctx, session, coord.EnvPrefix); err == nil && v != "" {
		prefix = v
	}
	if prefix != adapter.Prefix() {
		if adapter, err = mux.NewAdapter(prefix, nil); err != nil {
			return err
		}
	}
	worker, ok := adapter.WorkerName(session)
	if !ok {
		return nil
	}

	sessionsDir := resolveSessionsDir(ctx, adapter, session)
	store := coord.NewStore(sessionsDir, "")
	defer func() {
		if err := store.ClearPending(worker); err != nil {
			slog.Warn("hook: failed to clear pending marker", "worker", worker, "error", err)
		}
	}()

	if _, ok := store.ChatID(worker); !ok {
		slog.Debug("hook: no chat recorded for worker, skipping delivery", "worker", worker)
		return nil
	}

	var text string
	if event.TranscriptPath != "" {
		text = ExtractStable(ctx, event.TranscriptPath)
	}
	if text == "" && paneFallbackEnabled() {
		capture, err := adapter.CapturePane(ctx, worker, PaneCaptureLines)
		if err != nil {
			slog.Warn("hook: pane capture failed", "worker", worker, "error", err)
		} else if tail, ok := ParsePaneTail(capture); ok {
			text = tail + "\n\n" + PaneWarning
		}
	}
	if text == "" {
		slog.Debug("hook: nothing to deliver", "worker", worker)
		return nil
	}

	bridgeURL := resolveBridgeURL(ctx, adapter, session, sessionsDir)
	return PostResponse(ctx, bridgeURL, worker, text)
}

// resolveSessionsDir finds the coordination root: session environment,
// process environment, then the default location.
func resolveSessionsDir(ctx context.Context, adapter *mux.Adapter, session string) string {
	if v, err := adapter.SessionEnv(ctx, session, coord.EnvSessionsDir); err == nil && v != "" {
		return v
	}
	if v := os.Getenv(coord.EnvSessionsDir); v != "" {
		return v
	}
	return profile.DefaultSessionsRoot()
}

// resolveBridgeURL finds where to post the reply: session environment,
// process environment, recorded port file, then the default port.
func resolveBridgeURL(ctx context.Context, adapter *mux.Adapter, session, sessionsDir string) string {
	if v, err := adapter.SessionEnv(ctx, session, coord.EnvBridgeURL); err == nil && v != "" {
		return v
	}
	if v := os.Getenv("CREWMUX_BRIDGE_URL"); v != "" {
		return v
	}

	port := 0
	if v, err := adapter.SessionEnv(ctx, session, coord.EnvPort); err == nil && v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}
	if port == 0 {
		if v := os.Getenv("CREWMUX_PORT"); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				port = p
			}
		}
	}
	if port == 0 {
		for _, dataDir := range []string{
			os.Getenv("CREWMUX_DATA"),
			profile.DefaultDataDir("dev"),
			profile.DefaultDataDir("prod"),
		} {
			if dataDir == "" {
				continue
			}
			if p, ok := coord.NewStore(sessionsDir, dataDir).ReadPortFile(); ok {
				port = p
				break
			}
		}
	}
	if port == 0 {
		port = defaultBridgePort
	}
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

func paneFallbackEnabled() bool {
	v := os.Getenv("CREWMUX_PANE_FALLBACK")
	if v == "" {
		return true
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return enabled
}

func getenvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
