package recovery

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir, slog.New(slog.NewTextHandler(io.Discard, nil))), dir
}

func TestSave_WritesFullContent(t *testing.T) {
	s, dir := testStore(t)
	content := []byte("the content that failed to reach the remote storage")

	s.Save(content, "alice", "/home/docs/report.docx", "tok", errors.New("remote write failed"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected exactly one recovery file, got %d", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(data) != len(content) {
		t.Errorf("Expected %d bytes, got %d", len(content), len(data))
	}
}

func TestSave_FileNaming(t *testing.T) {
	s, dir := testStore(t)
	s.Save([]byte("x"), "alice", "/home/docs/report.docx", "tok", errors.New("boom"))

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("Expected one recovery file, got %d", len(entries))
	}
	name := entries[0].Name()
	if !strings.Contains(name, "_editedby_alice_origat_") {
		t.Errorf("Unexpected recovery file name: %s", name)
	}
	if !strings.HasSuffix(name, "home_docs_report.docx") {
		t.Errorf("Expected sanitized path suffix, got: %s", name)
	}
	if strings.ContainsAny(name, "/") {
		t.Errorf("Recovery file name must not contain path separators: %s", name)
	}
}

func TestSave_SanitizesHostileNames(t *testing.T) {
	s, dir := testStore(t)
	s.Save([]byte("x"), "../../etc", "../../../etc/passwd", "tok", errors.New("boom"))

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("Expected one recovery file inside the store dir, got %d", len(entries))
	}
	if strings.Contains(entries[0].Name(), "..") {
		t.Errorf("Expected traversal sequences to be stripped, got: %s", entries[0].Name())
	}
}

func TestSave_LocalFailureDoesNotPanic(t *testing.T) {
	s := NewStore("/nonexistent/recovery/dir", slog.New(slog.NewTextHandler(io.Discard, nil)))
	// must not panic past its own boundary
	s.Save([]byte("x"), "alice", "/docs/f.docx", "tok", errors.New("boom"))
}
