package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadScript(t *testing.T) {
	s := openTestStore(t)

	sc, err := s.SaveScript("hello", `print "hi"`)
	if err != nil {
		t.Fatalf("SaveScript: %v", err)
	}
	if sc.ID == "" {
		t.Fatal("expected a non-empty script id")
	}

	got, err := s.ScriptByName("hello")
	if err != nil {
		t.Fatalf("ScriptByName: %v", err)
	}
	if got.Source != `print "hi"` {
		t.Errorf("source = %q", got.Source)
	}
}

func TestSaveScriptUpdatesExistingByName(t *testing.T) {
	s := openTestStore(t)

	first, err := s.SaveScript("hello", "print 1")
	if err != nil {
		t.Fatalf("SaveScript: %v", err)
	}
	second, err := s.SaveScript("hello", "print 2")
	if err != nil {
		t.Fatalf("SaveScript (update): %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("updating a script by name changed its id: %s != %s", first.ID, second.ID)
	}

	got, err := s.ScriptByName("hello")
	if err != nil {
		t.Fatalf("ScriptByName: %v", err)
	}
	if got.Source != "print 2" {
		t.Errorf("source = %q, want updated value", got.Source)
	}
}

func TestSaveContainerVersionsIncrement(t *testing.T) {
	s := openTestStore(t)
	sc, err := s.SaveScript("counter", "print 1")
	if err != nil {
		t.Fatalf("SaveScript: %v", err)
	}

	c1, err := s.SaveContainer(sc.ID, []byte{1, 2, 3}, "hash1", "")
	if err != nil {
		t.Fatalf("SaveContainer: %v", err)
	}
	c2, err := s.SaveContainer(sc.ID, []byte{4, 5, 6}, "hash2", "")
	if err != nil {
		t.Fatalf("SaveContainer: %v", err)
	}
	if c1.Version != 1 || c2.Version != 2 {
		t.Errorf("versions = %d, %d; want 1, 2", c1.Version, c2.Version)
	}

	latest, err := s.LatestContainer(sc.ID)
	if err != nil {
		t.Fatalf("LatestContainer: %v", err)
	}
	if latest.ID != c2.ID {
		t.Error("LatestContainer did not return the most recent version")
	}
}

func TestRunHistoryLifecycle(t *testing.T) {
	s := openTestStore(t)
	sc, _ := s.SaveScript("x", "print 1")
	c, _ := s.SaveContainer(sc.ID, []byte{1}, "hash", "")

	runID, err := s.RecordRunStart(c.ID)
	if err != nil {
		t.Fatalf("RecordRunStart: %v", err)
	}
	if err := s.RecordRunFinish(runID, false, "DivisionByZero", "boom"); err != nil {
		t.Fatalf("RecordRunFinish: %v", err)
	}
}

func TestFilesystemHostRoundTrip(t *testing.T) {
	s := openTestStore(t)
	fs := NewFilesystem(s, "run-1")

	if fs.Exists("a.txt") {
		t.Fatal("a.txt should not exist yet")
	}
	if err := fs.WriteFile("a.txt", "hello"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !fs.Exists("a.txt") {
		t.Fatal("a.txt should exist after WriteFile")
	}
	got, err := fs.ReadFile("a.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want hello", got)
	}

	if err := fs.AppendFile("a.txt", " world"); err != nil {
		t.Fatalf("AppendFile: %v", err)
	}
	got, _ = fs.ReadFile("a.txt")
	if got != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
}

func TestFilesystemNamespacesAreIsolated(t *testing.T) {
	s := openTestStore(t)
	fsA := NewFilesystem(s, "a")
	fsB := NewFilesystem(s, "b")

	if err := fsA.WriteFile("shared.txt", "from a"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if fsB.Exists("shared.txt") {
		t.Error("namespace b should not see namespace a's file")
	}
}
