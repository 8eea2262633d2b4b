package coord

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), t.TempDir())
}

func TestEnsureWorkerDirPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	s := newTestStore(t)

	if err := s.EnsureWorkerDir("alice"); err != nil {
		t.Fatalf("EnsureWorkerDir: %v", err)
	}

	for _, dir := range []string{s.WorkerDir("alice"), s.InboxDir("alice")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if perm := info.Mode().Perm(); perm != 0o700 {
			t.Errorf("%s permissions = %o, want 700", dir, perm)
		}
	}
}

func TestPendingLifecycle(t *testing.T) {
	s := newTestStore(t)

	if s.IsPending("alice") {
		t.Fatal("new worker should not be pending")
	}
	if err := s.SetPending("alice"); err != nil {
		t.Fatalf("SetPending: %v", err)
	}
	if !s.IsPending("alice") {
		t.Fatal("worker should be pending after SetPending")
	}

	age, ok := s.PendingAge("alice")
	if !ok {
		t.Fatal("PendingAge should report a marker")
	}
	if age > time.Minute {
		t.Errorf("fresh marker age = %v, want under a minute", age)
	}

	if err := s.ClearPending("alice"); err != nil {
		t.Fatalf("ClearPending: %v", err)
	}
	if s.IsPending("alice") {
		t.Fatal("worker should not be pending after ClearPending")
	}
	// Clearing again must not fail.
	if err := s.ClearPending("alice"); err != nil {
		t.Fatalf("second ClearPending: %v", err)
	}
}

func TestPendingExpiry(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetPending("alice"); err != nil {
		t.Fatalf("SetPending: %v", err)
	}
	stale := time.Now().Add(-PendingMaxAge - time.Minute)
	path := filepath.Join(s.WorkerDir("alice"), "pending")
	if err := os.Chtimes(path, stale, stale); err != nil {
		t.Fatalf("backdate pending marker: %v", err)
	}

	if s.IsPending("alice") {
		t.Error("stale marker should not count as pending")
	}
	if _, ok := s.PendingAge("alice"); !ok {
		t.Error("stale marker should still report an age")
	}
}

func TestChatIDRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, ok := s.ChatID("alice"); ok {
		t.Fatal("unknown worker should have no chat id")
	}
	if err := s.SetChatID("alice", 123456789); err != nil {
		t.Fatalf("SetChatID: %v", err)
	}
	id, ok := s.ChatID("alice")
	if !ok || id != 123456789 {
		t.Fatalf("ChatID = (%d, %v), want (123456789, true)", id, ok)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(s.WorkerDir("alice"), "chat_id"))
		if err != nil {
			t.Fatalf("stat chat_id: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("chat_id permissions = %o, want 600", perm)
		}
	}
}

func TestInboxWriteAndPurge(t *testing.T) {
	s := newTestStore(t)

	path, err := s.WriteInboxFile("alice", "photo.jpg", []byte("fake-jpeg"))
	if err != nil {
		t.Fatalf("WriteInboxFile: %v", err)
	}
	if filepath.Dir(path) != s.InboxDir("alice") {
		t.Errorf("inbox file landed in %s, want %s", filepath.Dir(path), s.InboxDir("alice"))
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "fake-jpeg" {
		t.Fatalf("inbox file content = %q, err %v", data, err)
	}

	// Path escapes in the name must be neutralized.
	escaped, err := s.WriteInboxFile("alice", "../../evil.txt", []byte("x"))
	if err != nil {
		t.Fatalf("WriteInboxFile with traversal name: %v", err)
	}
	if filepath.Dir(escaped) != s.InboxDir("alice") {
		t.Errorf("traversal name escaped inbox: %s", escaped)
	}

	if err := s.PurgeInbox("alice"); err != nil {
		t.Fatalf("PurgeInbox: %v", err)
	}
	entries, err := os.ReadDir(s.InboxDir("alice"))
	if err != nil {
		t.Fatalf("inbox dir should survive purge: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("inbox has %d entries after purge, want 0", len(entries))
	}
}

func TestRemoveWorkerDir(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetPending("alice"); err != nil {
		t.Fatalf("SetPending: %v", err)
	}
	if err := s.RemoveWorkerDir("alice"); err != nil {
		t.Fatalf("RemoveWorkerDir: %v", err)
	}
	if _, err := os.Stat(s.WorkerDir("alice")); !os.IsNotExist(err) {
		t.Errorf("worker dir should be gone, stat err = %v", err)
	}
	// Removing a missing dir is fine.
	if err := s.RemoveWorkerDir("alice"); err != nil {
		t.Fatalf("second RemoveWorkerDir: %v", err)
	}
}

func TestNodeFiles(t *testing.T) {
	s := newTestStore(t)

	if _, ok := s.LastChatID(); ok {
		t.Fatal("fresh store should have no last chat id")
	}
	if err := s.SetLastChatID(42); err != nil {
		t.Fatalf("SetLastChatID: %v", err)
	}
	if id, ok := s.LastChatID(); !ok || id != 42 {
		t.Fatalf("LastChatID = (%d, %v), want (42, true)", id, ok)
	}

	if err := s.SetLastActive("alice"); err != nil {
		t.Fatalf("SetLastActive: %v", err)
	}
	if worker, ok := s.LastActive(); !ok || worker != "alice" {
		t.Fatalf("LastActive = (%q, %v), want (alice, true)", worker, ok)
	}
	if err := s.SetLastActive(""); err != nil {
		t.Fatalf("SetLastActive clear: %v", err)
	}
	if _, ok := s.LastActive(); ok {
		t.Fatal("LastActive should be cleared")
	}

	if err := s.WritePortFile(28280); err != nil {
		t.Fatalf("WritePortFile: %v", err)
	}
	if port, ok := s.ReadPortFile(); !ok || port != 28280 {
		t.Fatalf("ReadPortFile = (%d, %v), want (28280, true)", port, ok)
	}
}

func TestAllChatIDsDeduplicates(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetChatID("alice", 100); err != nil {
		t.Fatal(err)
	}
	if err := s.SetChatID("bob", 100); err != nil {
		t.Fatal(err)
	}
	if err := s.SetChatID("carol", 200); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLastChatID(100); err != nil {
		t.Fatal(err)
	}

	ids := s.AllChatIDs()
	if len(ids) != 2 {
		t.Fatalf("AllChatIDs = %v, want two distinct ids", ids)
	}
	seen := map[int64]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[100] || !seen[200] {
		t.Errorf("AllChatIDs = %v, want 100 and 200", ids)
	}
}
