package wopi

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/efss/wopihost/internal/storage"
	"github.com/efss/wopihost/internal/storage/dynamo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAdapter(t *testing.T) storage.Adapter {
	t.Helper()
	st, err := dynamo.NewProvider(nil, "test").GetAdapter(context.Background(), "default", "alice")
	if err != nil {
		t.Fatalf("GetAdapter failed: %v", err)
	}
	return st
}

func TestMicrosoftOfficeLockName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		// short .docx base names and non-.docx keep the full name
		{"/docs/report.docx", "/docs/~$report.docx"},
		{"/docs/budget.xlsx", "/docs/~$budget.xlsx"},
		{"/docs/verylongbudget.xlsx", "/docs/~$verylongbudget.xlsx"},
		// long .docx base names lose their first two characters
		{"/docs/longreport.docx", "/docs/~$ngreport.docx"},
		{"/docs/evenlongerreport.docx", "/docs/~$enlongerreport.docx"},
		// exactly 12-character names lose only the first
		{"/docs/report1.docx", "/docs/~$eport1.docx"},
	}
	for _, tt := range tests {
		if got := MicrosoftOfficeLockName(tt.filename); got != tt.want {
			t.Errorf("MicrosoftOfficeLockName(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestLibreOfficeLockName(t *testing.T) {
	if got := LibreOfficeLockName("/docs/report.odt"); got != "/docs/.~lock.report.odt#" {
		t.Errorf("Unexpected LibreOffice lock name: %q", got)
	}
}

func TestDetect_MicrosoftOfficeLock(t *testing.T) {
	ctx := context.Background()
	st := testAdapter(t)
	d := NewForeignLockDetector(true, nil, testLogger())

	if err := st.WriteFile(ctx, "/docs/~$report.docx", []byte("x"), ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	holder, label := d.Detect(ctx, st, "/docs/report.docx")
	if holder != HolderExternal || label != "Microsoft Office for Desktop" {
		t.Errorf("Expected MS Office lock, got (%q, %q)", holder, label)
	}
}

func TestDetect_LibreOfficeLock(t *testing.T) {
	ctx := context.Background()
	st := testAdapter(t)
	d := NewForeignLockDetector(true, nil, testLogger())

	content := ",Jane Doe,host,10.08.2025 10:00,file:///tmp"
	if err := st.WriteFile(ctx, "/docs/.~lock.report.odt#", []byte(content), ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	holder, label := d.Detect(ctx, st, "/docs/report.odt")
	if holder != HolderExternal || label != "LibreOffice for Desktop" {
		t.Errorf("Expected LibreOffice lock, got (%q, %q)", holder, label)
	}
}

func TestDetect_OwnInteropLockIgnored(t *testing.T) {
	ctx := context.Background()
	st := testAdapter(t)
	d := NewForeignLockDetector(true, nil, testLogger())

	if err := st.WriteFile(ctx, "/docs/.~lock.report.odt#", []byte(ServerSignature+";app"), ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if holder, _ := d.Detect(ctx, st, "/docs/report.odt"); holder != "" {
		t.Errorf("Expected our own interop lock to be ignored, got holder %q", holder)
	}
}

func TestDetect_DisabledAndExcluded(t *testing.T) {
	ctx := context.Background()
	st := testAdapter(t)
	if err := st.WriteFile(ctx, "/docs/~$notes.md", []byte("x"), ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	disabled := NewForeignLockDetector(false, nil, testLogger())
	if holder, _ := disabled.Detect(ctx, st, "/docs/notes.md"); holder != "" {
		t.Errorf("Expected no detection when disabled, got %q", holder)
	}

	excluded := NewForeignLockDetector(true, []string{".md"}, testLogger())
	if holder, _ := excluded.Detect(ctx, st, "/docs/notes.md"); holder != "" {
		t.Errorf("Expected no detection for excluded type, got %q", holder)
	}
}

func TestDetect_NoLock(t *testing.T) {
	ctx := context.Background()
	st := testAdapter(t)
	d := NewForeignLockDetector(true, nil, testLogger())
	if holder, label := d.Detect(ctx, st, "/docs/report.docx"); holder != "" || label != "" {
		t.Errorf("Expected no lock, got (%q, %q)", holder, label)
	}
}
