package wopi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/efss/wopihost/internal/storage"
	"github.com/efss/wopihost/internal/storage/dynamo"
)

func testTokenManager(t *testing.T) (*TokenManager, storage.Provider) {
	t.Helper()
	provider := dynamo.NewProvider(nil, "test")
	apps := map[string]AppURLs{
		".docx": {Edit: "https://word/edit", View: "https://word/view"},
	}
	m := NewTokenManager("test-secret", time.Hour, "https://wopi.example.com", apps, provider, testLogger())
	return m, provider
}

func TestIssueAndDecode_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m, provider := testTokenManager(t)
	st, _ := provider.GetAdapter(ctx, "home", "alice")
	if err := st.WriteFile(ctx, "doc123", []byte("content"), ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	before := time.Now()
	inode, token, err := m.Issue(ctx, "alice", "doc123", ViewModeReadWrite,
		UserInfo{UserName: "Alice"}, "/folder", "home",
		&AppInfo{Name: "WordOnline", EditURL: "https://word/edit", ViewURL: "https://word/view"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if inode == "" {
		t.Error("Expected a non-empty inode")
	}

	claims, err := m.Decode(token)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if claims.FileName != "doc123" {
		t.Errorf("Expected filename 'doc123', got '%s'", claims.FileName)
	}
	if claims.UserID != "alice" {
		t.Errorf("Expected user 'alice', got '%s'", claims.UserID)
	}
	if claims.ViewMode != ViewModeReadWrite {
		t.Errorf("Expected read-write mode, got '%s'", claims.ViewMode)
	}
	if claims.Endpoint != "home" {
		t.Errorf("Expected endpoint 'home', got '%s'", claims.Endpoint)
	}
	if !claims.ExpiresAt.Time.After(before) {
		t.Error("Expected expiration after issue time")
	}
}

func TestIssue_NotFound(t *testing.T) {
	ctx := context.Background()
	m, _ := testTokenManager(t)
	_, token, err := m.Issue(ctx, "alice", "missing", ViewModeReadWrite,
		UserInfo{}, "/", "home", &AppInfo{Name: "WordOnline", EditURL: "https://word/edit"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if token != "" {
		t.Error("Expected no token to be issued when the stat fails")
	}
}

func TestIssue_AppURLFallback(t *testing.T) {
	ctx := context.Background()
	m, provider := testTokenManager(t)
	st, _ := provider.GetAdapter(ctx, "home", "alice")
	if err := st.WriteFile(ctx, "report.docx", []byte("x"), ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, token, err := m.Issue(ctx, "alice", "report.docx", ViewModeReadOnly,
		UserInfo{}, "/", "home", &AppInfo{Name: "WordOnline"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	claims, err := m.Decode(token)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if claims.AppEditURL != "https://word/edit" {
		t.Errorf("Expected registry edit URL, got '%s'", claims.AppEditURL)
	}
}

func TestIssue_AppNotRegistered(t *testing.T) {
	ctx := context.Background()
	m, provider := testTokenManager(t)
	st, _ := provider.GetAdapter(ctx, "home", "alice")
	if err := st.WriteFile(ctx, "notes.xyz", []byte("x"), ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, _, err := m.Issue(ctx, "alice", "notes.xyz", ViewModeReadOnly,
		UserInfo{}, "/", "home", &AppInfo{Name: "SomeApp"})
	if !errors.Is(err, ErrAppNotRegistered) {
		t.Errorf("Expected ErrAppNotRegistered, got %v", err)
	}
}

func TestDecode_WrongSecret(t *testing.T) {
	ctx := context.Background()
	m, provider := testTokenManager(t)
	st, _ := provider.GetAdapter(ctx, "home", "alice")
	st.WriteFile(ctx, "doc123", []byte("x"), "")
	_, token, err := m.Issue(ctx, "alice", "doc123", ViewModeReadWrite,
		UserInfo{}, "/", "home", &AppInfo{Name: "a", EditURL: "e"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	other := NewTokenManager("other-secret", time.Hour, "https://wopi", nil, provider, testLogger())
	if _, err := other.Decode(token); err == nil {
		t.Error("Expected decode to fail with a different secret")
	}
}

func TestDecode_Expired(t *testing.T) {
	ctx := context.Background()
	provider := dynamo.NewProvider(nil, "test")
	st, _ := provider.GetAdapter(ctx, "home", "alice")
	st.WriteFile(ctx, "doc123", []byte("x"), "")
	m := NewTokenManager("test-secret", -time.Minute, "https://wopi", nil, provider, testLogger())
	_, token, err := m.Issue(ctx, "alice", "doc123", ViewModeReadWrite,
		UserInfo{}, "/", "home", &AppInfo{Name: "a", EditURL: "e"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := m.Decode(token); err == nil {
		t.Error("Expected decode to fail for an expired token")
	}
}

func TestWopiSrc(t *testing.T) {
	m, _ := testTokenManager(t)
	src := m.WopiSrc("abc-123")
	if src != "https%3A%2F%2Fwopi.example.com%2Fwopi%2Ffiles%2Fabc%2D123" {
		t.Errorf("Unexpected WOPISrc: %s", src)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short"); got != "short" {
		t.Errorf("Expected short value unchanged, got '%s'", got)
	}
	long := "0123456789012345678901234567890"
	if got := Truncate(long); got != long[len(long)-20:] {
		t.Errorf("Expected last 20 chars, got '%s'", got)
	}
}
