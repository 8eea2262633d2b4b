package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/crewmux/chat"
	"github.com/hrygo/crewmux/coord"
)

const (
	// startupPromptWindow bounds how long a fresh agent is watched for
	// trust/confirmation prompts after hire.
	startupPromptWindow = 30 * time.Second

	// onboardTimeout bounds the whole background onboarding of a new
	// worker, prompt-watching included.
	onboardTimeout = 2 * time.Minute
)

// dispatchBuiltin runs a built-in command. Returns false when head is not
// a built-in so the caller can try the worker-name and pass-through rules.
func (s *Service) dispatchBuiltin(ctx context.Context, log *slog.Logger, ev *chat.InboundEvent, head, tail string) bool {
	switch head {
	case "hire":
		s.cmdHire(ctx, log, ev, tail)
	case "end":
		s.cmdEnd(ctx, log, ev, tail)
	case "team":
		s.cmdTeam(ctx, ev)
	case "focus":
		s.cmdFocus(ctx, ev, tail)
	case "progress":
		s.cmdProgress(ctx, ev, tail)
	case "pause":
		s.cmdPause(ctx, ev, tail)
	case "relaunch":
		s.cmdRelaunch(ctx, ev, tail)
	case "learn":
		s.cmdLearn(ctx, log, ev, tail)
	case "settings":
		s.cmdSettings(ctx, ev)
	case "start":
		s.cmdHelp(ctx, ev)
	default:
		return false
	}
	return true
}

func (s *Service) isReservedName(name string) bool {
	return containsString(s.profile.ReservedNames, name)
}

// splitNameArg separates "<name> [rest]".
func splitNameArg(tail string) (string, string) {
	tail = strings.TrimSpace(tail)
	if tail == "" {
		return "", ""
	}
	if idx := strings.IndexAny(tail, " \t"); idx >= 0 {
		return tail[:idx], strings.TrimSpace(tail[idx+1:])
	}
	return tail, ""
}

func (s *Service) cmdHire(ctx context.Context, log *slog.Logger, ev *chat.InboundEvent, tail string) {
	name, cwd := splitNameArg(tail)
	name = strings.ToLower(name)
	switch {
	case name == "":
		s.reply(ctx, ev, "Usage: /hire <name> [working-dir]")
		return
	case !isWorkerName(name):
		s.reply(ctx, ev, "Worker names use lowercase letters, digits and dashes only.")
		return
	case s.isReservedName(name):
		s.reply(ctx, ev, "\""+name+"\" is reserved. Pick another name.")
		return
	}
	exists, err := s.sessions.Exists(ctx, name)
	if err != nil {
		s.reply(ctx, ev, "Couldn't check existing sessions: "+err.Error())
		return
	}
	if exists {
		s.reply(ctx, ev, "Worker "+name+" already exists. /focus "+name+" to talk to it.")
		return
	}

	if err := s.store.EnsureWorkerDir(name); err != nil {
		log.Warn("bridge: worker dir setup failed", "worker", name, "error", err)
	}
	// A crashed predecessor with the same name may have left inbox files;
	// a fresh hire starts clean.
	if err := s.store.PurgeInbox(name); err != nil {
		log.Warn("bridge: inbox purge failed", "worker", name, "error", err)
	}
	if err := s.sessions.Create(ctx, name, cwd); err != nil {
		s.reply(ctx, ev, "Couldn't create a session for "+name+": "+err.Error())
		return
	}
	if err := s.agent.Start(ctx, name); err != nil {
		log.Warn("bridge: agent start failed", "worker", name, "error", err)
		s.setFocus(name)
		s.refreshCommands(ctx)
		s.reply(ctx, ev, "Session "+name+" created, but the agent failed to start: "+err.Error()+"\n/relaunch to retry.")
		return
	}

	s.setFocus(name)
	s.refreshCommands(ctx)
	s.reply(ctx, ev, "Worker "+name+" added and focused. Plain messages go to "+name+" now.")
	log.Info("bridge: worker hired", "worker", name, "cwd", cwd)

	go s.onboardWorker(name, ev.ChatID)
}

// onboardWorker waits out the agent's startup confirmations, then briefs
// the fresh agent on how its replies and attachments reach the manager.
func (s *Service) onboardWorker(worker string, chatID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), onboardTimeout)
	defer cancel()
	if s.profile.SandboxCommand == "" {
		s.agent.AutoAcceptStartupPrompts(ctx, worker, startupPromptWindow)
	}
	if err := s.Deliver(ctx, worker, chatID, 0, workerBriefing(worker)); err != nil {
		slog.Warn("bridge: briefing failed", "worker", worker, "error", err)
	}
}

func workerBriefing(worker string) string {
	return "You are worker \"" + worker + "\". Your replies are forwarded to the manager's chat.\n" +
		"To attach a picture, put [[image:/absolute/path|optional caption]] on its own line in a reply. " +
		"For any other file use [[file:/absolute/path|optional caption]]. " +
		"Files the manager sends you are saved to your inbox directory and you get the paths.\n" +
		"Acknowledge briefly."
}

func (s *Service) cmdEnd(ctx context.Context, log *slog.Logger, ev *chat.InboundEvent, tail string) {
	name, _ := splitNameArg(tail)
	name = strings.ToLower(name)
	if name == "" {
		name = s.Focused(ctx)
	}
	if name == "" {
		s.reply(ctx, ev, "Usage: /end <name>")
		return
	}
	exists, err := s.sessions.Exists(ctx, name)
	if err != nil {
		s.reply(ctx, ev, "Couldn't check existing sessions: "+err.Error())
		return
	}
	if !exists {
		s.reply(ctx, ev, "No worker named "+name+".")
		return
	}

	s.stopTyping(name)
	if err := s.sessions.Kill(ctx, name); err != nil {
		s.reply(ctx, ev, "Couldn't end "+name+": "+err.Error())
		return
	}
	if err := s.store.RemoveWorkerDir(name); err != nil {
		log.Warn("bridge: worker dir cleanup failed", "worker", name, "error", err)
	}
	s.releaseLock(name)
	if s.currentFocus() == name {
		s.setFocus("")
	}
	s.refreshCommands(ctx)
	s.reply(ctx, ev, "Worker "+name+" dismissed.")
	log.Info("bridge: worker ended", "worker", name)
}

func (s *Service) cmdTeam(ctx context.Context, ev *chat.InboundEvent) {
	workers, err := s.sessions.List(ctx)
	if err != nil {
		s.reply(ctx, ev, "Couldn't list sessions: "+err.Error())
		return
	}
	if len(workers) == 0 {
		s.reply(ctx, ev, "No workers yet. /hire <name> to add one.")
		return
	}
	focused := s.currentFocus()
	var b strings.Builder
	b.WriteString("Team:\n")
	for _, w := range workers {
		mark := "· "
		if w == focused {
			mark = "⭐ "
		}
		b.WriteString(mark + w + " — " + s.workerStatus(ctx, w) + "\n")
	}
	s.reply(ctx, ev, strings.TrimRight(b.String(), "\n"))
}

// workerStatus summarizes one worker for the team listing.
func (s *Service) workerStatus(ctx context.Context, worker string) string {
	status := "idle"
	if running, err := s.agent.IsRunning(ctx, worker); err == nil && running {
		status = "running"
	}
	if age, ok := s.store.PendingAge(worker); ok && age <= coord.PendingMaxAge {
		status += ", replying for " + age.Round(time.Second).String()
	}
	return status
}

func (s *Service) cmdFocus(ctx context.Context, ev *chat.InboundEvent, tail string) {
	name, _ := splitNameArg(tail)
	name = strings.ToLower(name)
	if name == "" {
		s.reply(ctx, ev, "Usage: /focus <name>")
		return
	}
	exists, err := s.sessions.Exists(ctx, name)
	if err != nil {
		s.reply(ctx, ev, "Couldn't check existing sessions: "+err.Error())
		return
	}
	if !exists {
		s.reply(ctx, ev, "No worker named "+name+". /team lists them.")
		return
	}
	if s.currentFocus() == name {
		s.reply(ctx, ev, "Already focused on "+name+".")
		return
	}
	s.setFocus(name)
	s.reply(ctx, ev, "Focused on "+name+".")
}

func (s *Service) cmdProgress(ctx context.Context, ev *chat.InboundEvent, tail string) {
	name, _ := splitNameArg(tail)
	name = strings.ToLower(name)
	if name == "" {
		name = s.Focused(ctx)
	}
	if name == "" {
		s.reply(ctx, ev, noFocusHint)
		return
	}
	fg, err := s.sessions.ForegroundCmd(ctx, name)
	if err != nil || fg == "" {
		fg = "unknown"
	}
	line := name + " is running \"" + fg + "\"."
	if age, ok := s.store.PendingAge(name); ok && age <= coord.PendingMaxAge {
		line += "\nWaiting on a reply for " + age.Round(time.Second).String() + "."
	} else {
		line += "\nNothing pending."
	}
	s.reply(ctx, ev, line)
}

func (s *Service) cmdPause(ctx context.Context, ev *chat.InboundEvent, tail string) {
	name, _ := splitNameArg(tail)
	name = strings.ToLower(name)
	if name == "" {
		name = s.Focused(ctx)
	}
	if name == "" {
		s.reply(ctx, ev, noFocusHint)
		return
	}
	if err := s.agent.Interrupt(ctx, name); err != nil {
		s.reply(ctx, ev, "Couldn't pause "+name+": "+err.Error())
		return
	}
	if err := s.store.ClearPending(name); err != nil {
		slog.Warn("bridge: clear pending failed", "worker", name, "error", err)
	}
	s.stopTyping(name)
	s.reply(ctx, ev, "Paused "+name+". Send a message to continue.")
}

func (s *Service) cmdRelaunch(ctx context.Context, ev *chat.InboundEvent, tail string) {
	name, _ := splitNameArg(tail)
	name = strings.ToLower(name)
	if name == "" {
		name = s.Focused(ctx)
	}
	if name == "" {
		s.reply(ctx, ev, noFocusHint)
		return
	}
	if err := s.agent.Relaunch(ctx, name); err != nil {
		s.reply(ctx, ev, "Couldn't relaunch the agent in "+name+": "+err.Error())
		return
	}
	if err := s.store.ClearPending(name); err != nil {
		slog.Warn("bridge: clear pending failed", "worker", name, "error", err)
	}
	s.stopTyping(name)
	s.reply(ctx, ev, "Relaunched the agent in "+name+". The session survived.")
}

func (s *Service) cmdLearn(ctx context.Context, log *slog.Logger, ev *chat.InboundEvent, tail string) {
	worker := s.Focused(ctx)
	if worker == "" {
		s.reply(ctx, ev, noFocusHint)
		return
	}
	if err := s.Deliver(ctx, worker, ev.ChatID, ev.MessageID, learnPrompt(tail)); err != nil {
		log.Warn("bridge: deliver failed", "worker", worker, "error", err)
	}
}

func learnPrompt(topic string) string {
	subject := "this session"
	if t := strings.TrimSpace(topic); t != "" {
		subject = t
	}
	return "Please write down what you have learned about " + subject + ": " +
		"key decisions, gotchas, and anything a teammate would need to pick up the work. " +
		"Keep it short and concrete, then reply with the summary."
}

func (s *Service) cmdSettings(ctx context.Context, ev *chat.InboundEvent) {
	p := s.profile
	admin := "unset"
	if p.IsAdminPreset() {
		admin = "preset"
	} else if s.AdminChatID() != 0 {
		admin = "learned"
	}
	var b strings.Builder
	b.WriteString("Bridge settings:\n")
	fmt.Fprintf(&b, "- mode: %s\n", p.Mode)
	fmt.Fprintf(&b, "- port: %d\n", p.Port)
	fmt.Fprintf(&b, "- session prefix: %s\n", p.SessionPrefix)
	fmt.Fprintf(&b, "- sessions root: %s\n", p.SessionsRoot)
	fmt.Fprintf(&b, "- admin chat: %s\n", admin)
	fmt.Fprintf(&b, "- agent: %s\n", p.AgentCommand)
	fmt.Fprintf(&b, "- sandbox: %t\n", p.SandboxCommand != "")
	fmt.Fprintf(&b, "- pane fallback: %t\n", p.PaneFallback)
	fmt.Fprintf(&b, "- media cap: %d MB", p.MaxMediaMB)
	s.reply(ctx, ev, b.String())
}

func (s *Service) cmdHelp(ctx context.Context, ev *chat.InboundEvent) {
	s.reply(ctx, ev, "I connect this chat to terminal sessions running coding agents.\n\n"+
		"/hire <name> [dir] — add a worker\n"+
		"/end [name] — dismiss a worker\n"+
		"/team — list workers\n"+
		"/focus <name> or /<name> — pick who plain messages go to\n"+
		"/progress, /pause, /relaunch — manage the focused worker\n"+
		"/learn [topic] — ask for a summary of learnings\n"+
		"@all <msg> — broadcast, @<name> <msg> — one-off send\n"+
		"Reply to a worker's message to answer that worker directly.")
}
