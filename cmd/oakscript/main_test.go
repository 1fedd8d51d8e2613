package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oakscript/oak/pkg/lang"
	"github.com/oakscript/oak/pkg/store"
)

func TestOSIncludeResolverReadsRelativeToRoot(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lib.oak"), []byte("print 1\n"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	r := &osIncludeResolver{root: dir}

	got, err := r.ReadInclude("lib.oak")
	if err != nil {
		t.Fatalf("ReadInclude: %v", err)
	}
	if got != "print 1\n" {
		t.Errorf("got %q", got)
	}
}

func TestOSIncludeResolverMissingFile(t *testing.T) {
	r := &osIncludeResolver{root: t.TempDir()}
	if _, err := r.ReadInclude("missing.oak"); err == nil {
		t.Fatal("expected an error for a missing include")
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cli-test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCatalogueAndStartRunReturnsHistoryID(t *testing.T) {
	st := openTestStore(t)
	historyID := catalogueAndStartRun(st, "demo.oak", []byte("print 1\n"), []byte("OAKSCODE-fake-bytes"))
	if historyID == "" {
		t.Fatal("expected a non-empty history id")
	}
}

func TestRecordRunOutcomeIsNoOpForEmptyHistoryID(t *testing.T) {
	st := openTestStore(t)
	recordRunOutcome(st, "", nil)
}

func TestRecordRunOutcomeMarksFailureKind(t *testing.T) {
	st := openTestStore(t)
	historyID := catalogueAndStartRun(st, "demo.oak", []byte("print 1\n"), []byte("OAKSCODE-fake-bytes"))
	if historyID == "" {
		t.Fatal("expected a non-empty history id")
	}
	recordRunOutcome(st, historyID, &lang.RuntimeError{Kind: lang.KindDivisionByZero, Message: "boom"})
}

func TestBuildTraceSinkDisabledWhenEmptyAndNoHub(t *testing.T) {
	fn, closeFn := buildTraceSink("", "run-1", nil)
	defer closeFn()
	if fn != nil {
		t.Error("expected a nil trace function when no sink or hub is configured")
	}
}

func TestBuildTraceSinkStdoutIsNonNil(t *testing.T) {
	fn, closeFn := buildTraceSink("stdout", "run-1", nil)
	defer closeFn()
	if fn == nil {
		t.Fatal("expected a non-nil trace function for the stdout sink")
	}
	fn(lang.TraceEvent{PC: 1, Stack: 2})
}

func TestBuildTraceSinkFileWritesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	fn, closeFn := buildTraceSink(path, "run-1", nil)
	if fn == nil {
		t.Fatal("expected a non-nil trace function for a file sink")
	}
	fn(lang.TraceEvent{PC: 7, Stack: 3})
	closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace file: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected the trace file to contain at least one line")
	}
}
