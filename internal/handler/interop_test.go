package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/efss/wopihost/internal/storage/dynamo"
	"github.com/efss/wopihost/internal/wopi"
)

const testIOPSecret = "iop-secret"

func iopRequest(method, filename string, authorized bool) events.APIGatewayProxyRequest {
	headers := map[string]string{}
	if authorized {
		headers["Authorization"] = "Bearer " + testIOPSecret
	}
	return events.APIGatewayProxyRequest{
		HTTPMethod:            method,
		Headers:               headers,
		QueryStringParameters: map[string]string{"filename": filename, "userid": "alice"},
	}
}

func TestInteropLock_Unauthorized(t *testing.T) {
	h := NewInteropHandler(testIOPSecret, dynamo.NewProvider(nil, "test"), testLogger())
	resp, _ := h.Lock(context.Background(), iopRequest(http.MethodPost, "doc.md", false))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}
	if resp.Body != "Client not authorized" {
		t.Errorf("Unexpected body '%s'", resp.Body)
	}
}

func TestInteropLock_MissingFilename(t *testing.T) {
	h := NewInteropHandler(testIOPSecret, dynamo.NewProvider(nil, "test"), testLogger())
	req := iopRequest(http.MethodPost, "", true)
	resp, _ := h.Lock(context.Background(), req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestInteropLock_Lifecycle(t *testing.T) {
	ctx := context.Background()
	provider := dynamo.NewProvider(nil, "test")
	h := NewInteropHandler(testIOPSecret, provider, testLogger())

	// querying before any lock exists
	resp, _ := h.Lock(ctx, iopRequest(http.MethodGet, "pad.md", true))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404 for a query with no lock, got %d", resp.StatusCode)
	}

	resp, _ = h.Lock(ctx, iopRequest(http.MethodPost, "pad.md", true))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected lock creation to succeed, got %d: %s", resp.StatusCode, resp.Body)
	}

	// the sentinel carries the server signature and the user identity
	st, _ := provider.GetAdapter(ctx, "default", "alice")
	content := readAllString(t, st, wopi.LibreOfficeLockName("pad.md"))
	if !strings.Contains(content, wopi.ServerSignature) || !strings.Contains(content, "alice") {
		t.Errorf("Unexpected sentinel content '%s'", content)
	}

	// query and re-lock both report the held lock as success
	resp, _ = h.Lock(ctx, iopRequest(http.MethodGet, "pad.md", true))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 querying our own lock, got %d", resp.StatusCode)
	}
	resp, _ = h.Lock(ctx, iopRequest(http.MethodPost, "pad.md", true))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 re-locking our own lock, got %d", resp.StatusCode)
	}

	resp, _ = h.Unlock(ctx, iopRequest(http.MethodPost, "pad.md", true))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected unlock to succeed, got %d", resp.StatusCode)
	}
	resp, _ = h.Unlock(ctx, iopRequest(http.MethodPost, "pad.md", true))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 unlocking twice, got %d", resp.StatusCode)
	}
}

func TestInteropLock_ForeignSentinelConflicts(t *testing.T) {
	ctx := context.Background()
	provider := dynamo.NewProvider(nil, "test")
	h := NewInteropHandler(testIOPSecret, provider, testLogger())

	st, _ := provider.GetAdapter(ctx, "default", "alice")
	foreign := []byte(",realuser,host,10.09.2025 12:00,file:///")
	if err := st.WriteFile(ctx, wopi.LibreOfficeLockName("pad.md"), foreign, ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	resp, _ := h.Lock(ctx, iopRequest(http.MethodPost, "pad.md", true))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected conflict locking over a desktop lock, got %d", resp.StatusCode)
	}
	resp, _ = h.Unlock(ctx, iopRequest(http.MethodPost, "pad.md", true))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected conflict unlocking a desktop lock, got %d", resp.StatusCode)
	}
}

func TestInteropLock_WOPILockConflicts(t *testing.T) {
	ctx := context.Background()
	provider := dynamo.NewProvider(nil, "test")
	h := NewInteropHandler(testIOPSecret, provider, testLogger())

	st, _ := provider.GetAdapter(ctx, "default", "alice")
	if err := st.WriteFile(ctx, "pad.md", []byte("x"), ""); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := st.SetLock(ctx, "pad.md", "WordOnline", wopi.EncodeLock("lock-1")); err != nil {
		t.Fatalf("SetLock failed: %v", err)
	}

	resp, _ := h.Lock(ctx, iopRequest(http.MethodPost, "pad.md", true))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected conflict over a WOPI-locked file, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Body, "WordOnline") {
		t.Errorf("Expected the holder app in the body, got '%s'", resp.Body)
	}
}
