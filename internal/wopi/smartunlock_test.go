package wopi

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func TestMayForceUnlock_Disabled(t *testing.T) {
	ctx := context.Background()
	st := testAdapter(t)
	p := NewSmartUnlockPolicy(false, time.Minute, testLogger())
	if p.MayForceUnlock(ctx, st, "/docs/f.docx", "app", "app") {
		t.Error("Expected false when the policy is disabled")
	}
}

func TestMayForceUnlock_DifferentHolder(t *testing.T) {
	ctx := context.Background()
	st := testAdapter(t)
	if err := st.WriteFile(ctx, "/docs/f.docx", []byte("x"), ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	stale := strconv.FormatInt(time.Now().Add(-2*time.Hour).Unix(), 10)
	if err := st.SetXattr(ctx, "/docs/f.docx", LastSaveTimeKey, stale, ""); err != nil {
		t.Fatalf("SetXattr failed: %v", err)
	}
	p := NewSmartUnlockPolicy(true, time.Minute, testLogger())
	// a stale timestamp never overrides the holder check
	if p.MayForceUnlock(ctx, st, "/docs/f.docx", "WordOnline", "Collabora") {
		t.Error("Expected false when another app holds the lock")
	}
}

func TestMayForceUnlock_StaleSession(t *testing.T) {
	ctx := context.Background()
	st := testAdapter(t)
	if err := st.WriteFile(ctx, "/docs/f.docx", []byte("x"), ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	stale := strconv.FormatInt(time.Now().Add(-2*time.Hour).Unix(), 10)
	if err := st.SetXattr(ctx, "/docs/f.docx", LastSaveTimeKey, stale, ""); err != nil {
		t.Fatalf("SetXattr failed: %v", err)
	}
	p := NewSmartUnlockPolicy(true, time.Minute, testLogger())
	if !p.MayForceUnlock(ctx, st, "/docs/f.docx", "WordOnline", "WordOnline") {
		t.Error("Expected true for a stale session of the same app")
	}
}

func TestMayForceUnlock_ActiveSession(t *testing.T) {
	ctx := context.Background()
	st := testAdapter(t)
	if err := st.WriteFile(ctx, "/docs/f.docx", []byte("x"), ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := st.SetXattr(ctx, "/docs/f.docx", LastSaveTimeKey, now, ""); err != nil {
		t.Fatalf("SetXattr failed: %v", err)
	}
	p := NewSmartUnlockPolicy(true, time.Hour, testLogger())
	if p.MayForceUnlock(ctx, st, "/docs/f.docx", "WordOnline", "WordOnline") {
		t.Error("Expected false for a recently saved session")
	}
}

func TestMayForceUnlock_MissingAttribute(t *testing.T) {
	ctx := context.Background()
	st := testAdapter(t)
	if err := st.WriteFile(ctx, "/docs/f.docx", []byte("x"), ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	p := NewSmartUnlockPolicy(true, time.Minute, testLogger())
	// no save-time attribute means the session is assumed active
	if p.MayForceUnlock(ctx, st, "/docs/f.docx", "WordOnline", "WordOnline") {
		t.Error("Expected false when the save-time attribute is missing")
	}
}

func TestMayForceUnlock_NonNumericAttribute(t *testing.T) {
	ctx := context.Background()
	st := testAdapter(t)
	if err := st.WriteFile(ctx, "/docs/f.docx", []byte("x"), ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := st.SetXattr(ctx, "/docs/f.docx", LastSaveTimeKey, "yesterday", ""); err != nil {
		t.Fatalf("SetXattr failed: %v", err)
	}
	p := NewSmartUnlockPolicy(true, time.Minute, testLogger())
	if p.MayForceUnlock(ctx, st, "/docs/f.docx", "WordOnline", "WordOnline") {
		t.Error("Expected false when the save-time attribute is not numeric")
	}
}
