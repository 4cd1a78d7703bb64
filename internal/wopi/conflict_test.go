package wopi

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestConflictResponse_PlainReason(t *testing.T) {
	resp := ConflictResponse("Lock", "retrieved", "new", "old", "/f.docx", "tok", "file is busy", testLogger())
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", resp.StatusCode)
	}
	if resp.Headers[HeaderLock] != "retrieved" {
		t.Errorf("Expected X-WOPI-Lock 'retrieved', got '%s'", resp.Headers[HeaderLock])
	}
	if resp.Headers[HeaderLockFailureReason] != "file is busy" {
		t.Errorf("Expected failure reason header, got '%s'", resp.Headers[HeaderLockFailureReason])
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("Body is not JSON: %v", err)
	}
	if body["message"] != "file is busy" {
		t.Errorf("Expected message in body, got %v", body)
	}
}

func TestConflictResponse_StructuredReason(t *testing.T) {
	reason := map[string]any{"message": "conflict detected", "code": "STALE"}
	resp := ConflictResponse("PutFile", "", "l", "", "/f.docx", "tok", reason, testLogger())
	var body map[string]any
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("Body is not JSON: %v", err)
	}
	if body["code"] != "STALE" {
		t.Errorf("Expected extra fields to survive, got %v", body)
	}
	if resp.Headers[HeaderLockFailureReason] != "conflict detected" {
		t.Errorf("Unexpected failure reason header '%s'", resp.Headers[HeaderLockFailureReason])
	}
}

func TestConflictResponse_EmptyLockHeader(t *testing.T) {
	resp := ConflictResponse("Unlock", "", "l", "", "/f.docx", "tok", nil, testLogger())
	lock, ok := resp.Headers[HeaderLock]
	if !ok {
		t.Fatal("Expected the X-WOPI-Lock header to always be present")
	}
	if lock != "" {
		t.Errorf("Expected empty X-WOPI-Lock, got '%s'", lock)
	}
}
