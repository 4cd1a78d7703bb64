package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/efss/wopihost/internal/storage"
	"github.com/efss/wopihost/internal/wopi"
)

// InteropHandler implements /wopi/iop/lock and /wopi/iop/unlock, used by
// editors that do not speak WOPI. It maintains a LibreOffice-compatible
// lock file carrying the server signature, which both a later WOPI lock
// call and a LibreOffice desktop instance would detect as a conflict.
type InteropHandler struct {
	iopSecret string
	provider  storage.Provider
	log       *slog.Logger
}

// NewInteropHandler creates an InteropHandler.
func NewInteropHandler(iopSecret string, provider storage.Provider, log *slog.Logger) *InteropHandler {
	return &InteropHandler{iopSecret: iopSecret, provider: provider, log: log.With("component", "ioplock")}
}

func (h *InteropHandler) adapter(ctx context.Context, req events.APIGatewayProxyRequest) (storage.Adapter, string, string, events.APIGatewayProxyResponse, bool) {
	if !checkBearer(req, h.iopSecret) {
		h.log.Warn("ioplock: unauthorized access attempt, missing authorization token")
		return nil, "", "", unauthorizedResponse(), false
	}
	args := req.QueryStringParameters
	filename := args["filename"]
	if filename == "" {
		return nil, "", "", textResponse(http.StatusBadRequest, "Missing filename argument"), false
	}
	userID := args["userid"]
	if userID == "" {
		userID = "0:0"
	}
	endpoint := args["endpoint"]
	if endpoint == "" {
		endpoint = "default"
	}
	st, err := h.provider.GetAdapter(ctx, endpoint, userID)
	if err != nil {
		h.log.Error("ioplock: unable to get storage adapter", "endpoint", endpoint, "error", err)
		return nil, "", "", internalErrorResponse(), false
	}
	return st, filename, userID, events.APIGatewayProxyResponse{}, true
}

// readSentinel fetches the LibreOffice-compatible lock file content for
// filename, distinguishing "absent" from other read failures.
func (h *InteropHandler) readSentinel(ctx context.Context, st storage.Adapter, filename string) (string, bool, error) {
	rc, err := st.ReadFile(ctx, wopi.LibreOfficeLockName(filename))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return "", false, err
	}
	return string(content), true, nil
}

// Lock handles GET (query) and POST (create) on /wopi/iop/lock.
func (h *InteropHandler) Lock(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	st, filename, userID, errResp, ok := h.adapter(ctx, req)
	if !ok {
		return errResp, nil
	}
	query := req.HTTPMethod == http.MethodGet

	content, found, err := h.readSentinel(ctx, st, filename)
	if err != nil {
		h.log.Error("ioplock: unable to read lock file", "filename", filename, "error", err)
		return internalErrorResponse(), nil
	}
	if found {
		if !strings.Contains(content, wopi.ServerSignature) {
			h.log.Info("ioplock: found foreign lock", "filename", filename, "holder", content)
			return textResponse(http.StatusConflict, "File is locked by another application"), nil
		}
		// our own interop lock: a query or a re-lock both succeed
		h.log.Info("ioplock: lock already held", "filename", filename, "query", query)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
	}
	if query {
		return textResponse(http.StatusNotFound, "No lock found"), nil
	}

	// refuse when a WOPI lock exists on the file itself
	if lock, err := st.GetLock(ctx, filename); err == nil && lock != nil {
		h.log.Info("ioplock: found WOPI lock", "filename", filename, "holder", lock.AppName)
		return textResponse(http.StatusConflict, "File is locked by "+lock.AppName), nil
	}
	sentinel := wopi.ServerSignature + ";" + uuid.NewString() + ";" + userID
	if err := st.WriteFile(ctx, wopi.LibreOfficeLockName(filename), []byte(sentinel), ""); err != nil {
		h.log.Error("ioplock: unable to store lock file", "filename", filename, "error", err)
		return internalErrorResponse(), nil
	}
	h.log.Info("ioplock: lock stored", "filename", filename, "user", wopi.Truncate(userID))
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

// Unlock handles POST /wopi/iop/unlock.
func (h *InteropHandler) Unlock(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	st, filename, userID, errResp, ok := h.adapter(ctx, req)
	if !ok {
		return errResp, nil
	}
	content, found, err := h.readSentinel(ctx, st, filename)
	if err != nil {
		h.log.Error("ioplock: unable to read lock file", "filename", filename, "error", err)
		return internalErrorResponse(), nil
	}
	if !found {
		return textResponse(http.StatusNotFound, "No lock found"), nil
	}
	if !strings.Contains(content, wopi.ServerSignature) {
		h.log.Info("ioplock: refusing to remove foreign lock", "filename", filename, "holder", content)
		return textResponse(http.StatusConflict, "File is locked by another application"), nil
	}
	if err := st.RemoveFile(ctx, wopi.LibreOfficeLockName(filename), true); err != nil {
		h.log.Error("ioplock: unable to remove lock file", "filename", filename, "error", err)
		return internalErrorResponse(), nil
	}
	h.log.Info("ioplock: lock removed", "filename", filename, "user", wopi.Truncate(userID))
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}
