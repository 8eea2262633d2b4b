// Package coord implements the flat-file coordination area shared by the
// bridge and the stop hooks running inside worker panes. All state lives
// in two places: a per-worker directory under the sessions root, and a
// small set of node-level files under the bridge data directory. There is
// no database; files are the contract.
package coord

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// PendingMaxAge bounds how long a pending marker is trusted. Markers older
// than this are treated as leftovers from a dead agent run.
const PendingMaxAge = 600 * time.Second

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

const (
	pendingFile    = "pending"
	chatIDFile     = "chat_id"
	inboxDir       = "inbox"
	lastChatIDFile = "last_chat_id"
	lastActiveFile = "last_active"
	portFile       = "port"
)

// Store reads and writes the coordination files. All methods are safe for
// concurrent use at the process level; cross-process coordination relies
// on the writes being small and single-file.
type Store struct {
	sessionsRoot string
	dataDir      string
}

// NewStore returns a store rooted at the given sessions and data
// directories. The directories are not created here; Validate on the
// profile ensures they exist before the store is used.
func NewStore(sessionsRoot, dataDir string) *Store {
	return &Store{sessionsRoot: sessionsRoot, dataDir: dataDir}
}

// SessionsRoot returns the directory holding per-worker subdirectories.
func (s *Store) SessionsRoot() string {
	return s.sessionsRoot
}

// WorkerDir returns the coordination directory for a worker.
func (s *Store) WorkerDir(worker string) string {
	return filepath.Join(s.sessionsRoot, filepath.Base(worker))
}

// InboxDir returns the directory media files are delivered into.
func (s *Store) InboxDir(worker string) string {
	return filepath.Join(s.WorkerDir(worker), inboxDir)
}

// EnsureWorkerDir creates the worker directory and its inbox with owner-only
// permissions. Idempotent.
func (s *Store) EnsureWorkerDir(worker string) error {
	if err := os.MkdirAll(s.InboxDir(worker), dirPerm); err != nil {
		return errors.Wrapf(err, "create worker dir for %s", worker)
	}
	return nil
}

// RemoveWorkerDir deletes the worker directory and everything in it.
func (s *Store) RemoveWorkerDir(worker string) error {
	if err := os.RemoveAll(s.WorkerDir(worker)); err != nil {
		return errors.Wrapf(err, "remove worker dir for %s", worker)
	}
	return nil
}

// SetPending stamps the worker as having work in flight. The file's mtime
// is the authoritative timestamp; the content is informational.
func (s *Store) SetPending(worker string) error {
	if err := s.EnsureWorkerDir(worker); err != nil {
		return err
	}
	path := filepath.Join(s.WorkerDir(worker), pendingFile)
	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.WriteFile(path, []byte(stamp+"\n"), filePerm); err != nil {
		return errors.Wrapf(err, "set pending for %s", worker)
	}
	return nil
}

// ClearPending removes the pending marker. Missing markers are not an error;
// hooks and the bridge both clear without checking first.
func (s *Store) ClearPending(worker string) error {
	path := filepath.Join(s.WorkerDir(worker), pendingFile)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "clear pending for %s", worker)
	}
	return nil
}

// IsPending reports whether the worker has fresh work in flight. Markers
// older than PendingMaxAge are ignored.
func (s *Store) IsPending(worker string) bool {
	age, ok := s.PendingAge(worker)
	return ok && age <= PendingMaxAge
}

// PendingAge returns how long ago the pending marker was stamped. ok is
// false when no marker exists.
func (s *Store) PendingAge(worker string) (time.Duration, bool) {
	info, err := os.Stat(filepath.Join(s.WorkerDir(worker), pendingFile))
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}

// SetChatID records the chat that last addressed this worker. The stop
// hook routes its response back to this chat.
func (s *Store) SetChatID(worker string, chatID int64) error {
	if err := s.EnsureWorkerDir(worker); err != nil {
		return err
	}
	path := filepath.Join(s.WorkerDir(worker), chatIDFile)
	if err := os.WriteFile(path, []byte(strconv.FormatInt(chatID, 10)+"\n"), filePerm); err != nil {
		return errors.Wrapf(err, "set chat id for %s", worker)
	}
	return nil
}

// ChatID returns the chat recorded for the worker. ok is false when no
// chat has addressed the worker yet.
func (s *Store) ChatID(worker string) (int64, bool) {
	data, err := os.ReadFile(filepath.Join(s.WorkerDir(worker), chatIDFile))
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// WriteInboxFile stores a delivered media file in the worker's inbox and
// returns its absolute path. name is reduced to its base to keep writes
// inside the inbox.
func (s *Store) WriteInboxFile(worker, name string, data []byte) (string, error) {
	if err := s.EnsureWorkerDir(worker); err != nil {
		return "", err
	}
	path := filepath.Join(s.InboxDir(worker), filepath.Base(name))
	if err := os.WriteFile(path, data, filePerm); err != nil {
		return "", errors.Wrapf(err, "write inbox file for %s", worker)
	}
	return path, nil
}

// PurgeInbox deletes all delivered files but keeps the inbox directory.
func (s *Store) PurgeInbox(worker string) error {
	dir := s.InboxDir(worker)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "purge inbox for %s", worker)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return errors.Wrapf(err, "purge inbox for %s", worker)
		}
	}
	return nil
}

// Workers lists the worker names that have a coordination directory,
// sorted. This is informational only; tmux is the authority on which
// workers are alive.
func (s *Store) Workers() ([]string, error) {
	entries, err := os.ReadDir(s.sessionsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "list worker dirs")
	}
	var workers []string
	for _, entry := range entries {
		if entry.IsDir() {
			workers = append(workers, entry.Name())
		}
	}
	sort.Strings(workers)
	return workers, nil
}

// SetLastChatID persists the admin chat so the next bridge run can greet
// it without waiting for an inbound message.
func (s *Store) SetLastChatID(chatID int64) error {
	path := filepath.Join(s.dataDir, lastChatIDFile)
	if err := os.WriteFile(path, []byte(strconv.FormatInt(chatID, 10)+"\n"), filePerm); err != nil {
		return errors.Wrap(err, "persist last chat id")
	}
	return nil
}

// LastChatID returns the persisted admin chat. ok is false when none has
// been learned yet.
func (s *Store) LastChatID() (int64, bool) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, lastChatIDFile))
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// SetLastActive persists the focused worker name across restarts. An empty
// name clears the record.
func (s *Store) SetLastActive(worker string) error {
	path := filepath.Join(s.dataDir, lastActiveFile)
	if worker == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "clear last active worker")
		}
		return nil
	}
	if err := os.WriteFile(path, []byte(worker+"\n"), filePerm); err != nil {
		return errors.Wrap(err, "persist last active worker")
	}
	return nil
}

// LastActive returns the persisted focused worker, if any.
func (s *Store) LastActive() (string, bool) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, lastActiveFile))
	if err != nil {
		return "", false
	}
	worker := strings.TrimSpace(string(data))
	return worker, worker != ""
}

// WritePortFile records the bridge's listen port for hooks that cannot
// see the session environment.
func (s *Store) WritePortFile(port int) error {
	path := filepath.Join(s.dataDir, portFile)
	if err := os.WriteFile(path, []byte(strconv.Itoa(port)+"\n"), filePerm); err != nil {
		return errors.Wrap(err, "write port file")
	}
	return nil
}

// ReadPortFile returns the recorded listen port, if valid.
func (s *Store) ReadPortFile() (int, bool) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, portFile))
	if err != nil {
		return 0, false
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}

// AllChatIDs collects every chat id known to the node: each worker's
// recorded chat plus the persisted admin chat, deduplicated. Used for the
// shutdown notice fan-out.
func (s *Store) AllChatIDs() []int64 {
	seen := make(map[int64]struct{})
	var ids []int64

	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	workers, err := s.Workers()
	if err == nil {
		for _, worker := range workers {
			if id, ok := s.ChatID(worker); ok {
				add(id)
			}
		}
	}
	if id, ok := s.LastChatID(); ok {
		add(id)
	}
	return ids
}
