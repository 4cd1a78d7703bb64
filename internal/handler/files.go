package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/efss/wopihost/internal/recovery"
	"github.com/efss/wopihost/internal/storage"
	"github.com/efss/wopihost/internal/wopi"
)

// FilesHandler implements the WOPI file endpoints: CheckFileInfo, GetFile,
// the lock operations dispatched on X-WOPI-Override, and PutFile.
type FilesHandler struct {
	provider    storage.Provider
	tokens      *wopi.TokenManager
	retriever   *wopi.LockRetriever
	smartUnlock *wopi.SmartUnlockPolicy
	recovery    *recovery.Store
	strictLocks bool
	log         *slog.Logger
}

// NewFilesHandler creates a FilesHandler.
func NewFilesHandler(provider storage.Provider, tokens *wopi.TokenManager, retriever *wopi.LockRetriever,
	smartUnlock *wopi.SmartUnlockPolicy, recoveryStore *recovery.Store, strictLocks bool, log *slog.Logger) *FilesHandler {
	return &FilesHandler{
		provider:    provider,
		tokens:      tokens,
		retriever:   retriever,
		smartUnlock: smartUnlock,
		recovery:    recoveryStore,
		strictLocks: strictLocks,
		log:         log.With("component", "wopifiles"),
	}
}

// authorize decodes the access token and builds the storage adapter for
// the session it represents.
func (h *FilesHandler) authorize(ctx context.Context, req events.APIGatewayProxyRequest) (*wopi.Claims, storage.Adapter, error) {
	claims, err := h.tokens.Decode(accessToken(req))
	if err != nil {
		h.log.Warn("signature verification failed",
			"requestedUrl", req.Path, "error", err, "token", wopi.Truncate(accessToken(req)))
		return nil, nil, err
	}
	st, err := h.provider.GetAdapter(ctx, claims.Endpoint, claims.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("get adapter: %w", err)
	}
	return claims, st, nil
}

// CheckFileInfo handles GET /wopi/files/{fileid}.
func (h *FilesHandler) CheckFileInfo(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, st, err := h.authorize(ctx, req)
	if err != nil {
		return invalidTokenResponse(), nil
	}
	info, err := st.Stat(ctx, claims.FileName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return textResponse(http.StatusNotFound, "File not found"), nil
		}
		h.log.Error("stat error on CheckFileInfo", "filename", claims.FileName, "error", err)
		return internalErrorResponse(), nil
	}
	h.log.Info("CheckFileInfo",
		"user", wopi.Truncate(claims.UserID), "filename", claims.FileName,
		"fileid", info.Inode, "token", wopi.Truncate(accessToken(req)))
	userID := claims.UserID
	if claims.WopiUser != "" {
		userID = claims.WopiUser
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"BaseFileName":         path.Base(info.FilePath),
		"OwnerId":              info.OwnerID,
		"Size":                 info.Size,
		"Version":              "v" + strconv.FormatInt(info.MTime.Unix(), 10),
		"UserId":               userID,
		"UserFriendlyName":     claims.UserName,
		"UserCanWrite":         claims.ViewMode == wopi.ViewModeReadWrite,
		"ReadOnly":             claims.ViewMode == wopi.ViewModeReadOnly,
		"SupportsLocks":        true,
		"SupportsGetLock":      true,
		"SupportsUpdate":       true,
		"UserCanNotWriteRelative": true,
		"HostEditUrl":          claims.AppEditURL,
		"HostViewUrl":          claims.AppViewURL,
		"BreadcrumbFolderUrl":  claims.FolderURL,
	}), nil
}

// GetFile handles GET /wopi/files/{fileid}/contents.
func (h *FilesHandler) GetFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, st, err := h.authorize(ctx, req)
	if err != nil {
		return invalidTokenResponse(), nil
	}
	if claims.ViewMode == wopi.ViewModeViewOnly {
		return textResponse(http.StatusUnauthorized, "Attempting to download a file using a view-only token"), nil
	}
	rc, err := st.ReadFile(ctx, claims.FileName)
	if err != nil {
		h.log.Error("error downloading file", "filename", claims.FileName, "error", err)
		return internalErrorResponse(), nil
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		h.log.Error("error downloading file", "filename", claims.FileName, "error", err)
		return internalErrorResponse(), nil
	}
	h.log.Info("file fetched successfully",
		"user", wopi.Truncate(claims.UserID), "filename", claims.FileName,
		"token", wopi.Truncate(accessToken(req)))
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Body:       string(content),
		Headers:    map[string]string{"Content-Type": "application/octet-stream"},
	}, nil
}

// PostFile handles POST /wopi/files/{fileid}, dispatching on the
// X-WOPI-Override header.
func (h *FilesHandler) PostFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, st, err := h.authorize(ctx, req)
	if err != nil {
		return invalidTokenResponse(), nil
	}
	op := getHeader(req, wopi.HeaderOverride)
	if op != wopi.OverrideGetLock && claims.ViewMode != wopi.ViewModeReadWrite {
		return textResponse(http.StatusUnauthorized, "Attempting to perform a write operation using a read-only token"), nil
	}
	switch op {
	case wopi.OverrideLock, wopi.OverrideRefreshLock:
		return h.setLock(ctx, req, op, claims, st), nil
	case wopi.OverrideUnlock:
		return h.unlock(ctx, req, claims, st), nil
	case wopi.OverrideGetLock:
		return h.getLock(ctx, req, claims, st), nil
	}
	h.log.Warn("unknown/unsupported operation", "operation", op)
	return textResponse(http.StatusNotImplemented, "Not supported operation found in header"), nil
}

func (h *FilesHandler) setLock(ctx context.Context, req events.APIGatewayProxyRequest, op string, claims *wopi.Claims, st storage.Adapter) events.APIGatewayProxyResponse {
	lock := getHeader(req, wopi.HeaderLock)
	oldLock := getHeader(req, wopi.HeaderOldLock)
	tokenRef := wopi.Truncate(accessToken(req))
	if lock == "" {
		return textResponse(http.StatusBadRequest, "Missing X-WOPI-Lock header")
	}
	status := h.retriever.Retrieve(ctx, st, op, claims, tokenRef, "")
	if status != nil && status.External {
		return wopi.ConflictResponse(op, wopi.HolderExternal, lock, oldLock, claims.FileName, tokenRef,
			"The file is locked by "+status.Holder, h.log)
	}
	if status == nil {
		if op == wopi.OverrideRefreshLock || oldLock != "" {
			// cannot refresh or relock what was never locked
			return wopi.ConflictResponse(op, "", lock, oldLock, claims.FileName, tokenRef,
				"File was not locked", h.log)
		}
		return h.storeLock(ctx, op, claims, st, lock, oldLock, tokenRef, true)
	}
	match := wopi.CompareLocks(status.Lock, lock, h.strictLocks)
	if !match && oldLock != "" {
		match = wopi.CompareLocks(status.Lock, oldLock, h.strictLocks)
	}
	if match {
		// refresh by overwriting with the (possibly new) lock value
		return h.storeLock(ctx, op, claims, st, lock, oldLock, tokenRef, false)
	}
	// eligibility only: even when a force unlock is allowed the lock is
	// not transferred yet, the client still sees the conflict
	h.smartUnlock.MayForceUnlock(ctx, st, claims.FileName, status.Holder, claims.AppName)
	return wopi.ConflictResponse(op, status.Lock, lock, oldLock, claims.FileName, tokenRef,
		"The file is locked by "+status.Holder, h.log)
}

// storeLock persists the WOPI lock; on a fresh lock it also drops a
// LibreOffice-compatible lock file carrying the server signature so that
// desktop editors see the file as busy.
func (h *FilesHandler) storeLock(ctx context.Context, op string, claims *wopi.Claims, st storage.Adapter, lock, oldLock, tokenRef string, fresh bool) events.APIGatewayProxyResponse {
	encoded := wopi.EncodeLock(lock)
	if err := st.SetLock(ctx, claims.FileName, claims.AppName, encoded); err != nil {
		if errors.Is(err, storage.ErrLockMismatch) {
			return wopi.ConflictResponse(op, "", lock, oldLock, claims.FileName, tokenRef,
				"The file is locked by another application", h.log)
		}
		h.log.Error("unable to store lock", "lockop", op, "filename", claims.FileName, "error", err)
		return internalErrorResponse()
	}
	if fresh {
		sentinel := []byte(wopi.ServerSignature + ";" + claims.AppName)
		if err := st.WriteFile(ctx, wopi.LibreOfficeLockName(claims.FileName), sentinel, ""); err != nil {
			h.log.Warn("unable to store LibreOffice-compatible lock file",
				"lockop", op, "filename", claims.FileName, "error", err)
		}
		now := strconv.FormatInt(time.Now().Unix(), 10)
		if err := st.SetXattr(ctx, claims.FileName, wopi.LastSaveTimeKey, now, encoded); err != nil {
			h.log.Warn("unable to set lastwritetime xattr",
				"lockop", op, "filename", claims.FileName, "error", err)
		}
	}
	h.log.Info("lock stored",
		"lockop", op, "user", wopi.Truncate(claims.UserID),
		"filename", claims.FileName, "lock", lock, "token", tokenRef)
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}
}

func (h *FilesHandler) unlock(ctx context.Context, req events.APIGatewayProxyRequest, claims *wopi.Claims, st storage.Adapter) events.APIGatewayProxyResponse {
	lock := getHeader(req, wopi.HeaderLock)
	tokenRef := wopi.Truncate(accessToken(req))
	status := h.retriever.Retrieve(ctx, st, "Unlock", claims, tokenRef, "")
	if status != nil && status.External {
		return wopi.ConflictResponse("Unlock", wopi.HolderExternal, lock, "", claims.FileName, tokenRef,
			"The file is locked by "+status.Holder, h.log)
	}
	if status == nil {
		return wopi.ConflictResponse("Unlock", "", lock, "", claims.FileName, tokenRef,
			"File was not locked", h.log)
	}
	if !wopi.CompareLocks(status.Lock, lock, h.strictLocks) {
		return wopi.ConflictResponse("Unlock", status.Lock, lock, "", claims.FileName, tokenRef,
			"The file is locked by "+status.Holder, h.log)
	}
	if err := st.Unlock(ctx, claims.FileName, claims.AppName, wopi.EncodeLock(status.Lock)); err != nil {
		h.log.Error("unable to unlock", "filename", claims.FileName, "error", err)
		return internalErrorResponse()
	}
	// drop the interop sentinel and the save-time marker along with the lock
	if err := st.RemoveFile(ctx, wopi.LibreOfficeLockName(claims.FileName), true); err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.log.Warn("unable to delete the LibreOffice-compatible lock file",
			"filename", claims.FileName, "error", err)
	}
	if err := st.SetXattr(ctx, claims.FileName, wopi.LastSaveTimeKey, "", ""); err != nil {
		h.log.Warn("unable to clear lastwritetime xattr", "filename", claims.FileName, "error", err)
	}
	h.log.Info("unlocked",
		"user", wopi.Truncate(claims.UserID), "filename", claims.FileName,
		"lock", lock, "token", tokenRef)
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}
}

func (h *FilesHandler) getLock(ctx context.Context, req events.APIGatewayProxyRequest, claims *wopi.Claims, st storage.Adapter) events.APIGatewayProxyResponse {
	tokenRef := wopi.Truncate(accessToken(req))
	status := h.retriever.Retrieve(ctx, st, "GetLock", claims, tokenRef, "")
	if status != nil && status.External {
		return wopi.ConflictResponse("GetLock", wopi.HolderExternal, "", "", claims.FileName, tokenRef,
			"The file is locked by "+status.Holder, h.log)
	}
	retrieved := ""
	if status != nil {
		retrieved = status.Lock
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{wopi.HeaderLock: retrieved},
	}
}

// PutFile handles POST /wopi/files/{fileid}/contents. A missing lock is
// tolerated only for zero-byte or brand-new files. On a remote write
// failure the content is handed to the recovery store so the edit is
// never silently lost.
func (h *FilesHandler) PutFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, st, err := h.authorize(ctx, req)
	if err != nil {
		return invalidTokenResponse(), nil
	}
	if claims.ViewMode != wopi.ViewModeReadWrite {
		return textResponse(http.StatusUnauthorized, "Attempting to perform a write operation using a read-only token"), nil
	}
	lock := getHeader(req, wopi.HeaderLock)
	tokenRef := wopi.Truncate(accessToken(req))
	status := h.retriever.Retrieve(ctx, st, "PutFile", claims, tokenRef, "")
	if status != nil && status.External {
		return wopi.ConflictResponse("PutFile", wopi.HolderExternal, lock, "", claims.FileName, tokenRef,
			"The file is locked by "+status.Holder, h.log), nil
	}
	effectiveLock := lock
	if status == nil {
		info, serr := st.Stat(ctx, claims.FileName)
		if serr != nil && !errors.Is(serr, storage.ErrNotFound) {
			h.log.Error("stat error on PutFile", "filename", claims.FileName, "error", serr)
			return internalErrorResponse(), nil
		}
		if serr == nil && info.Size > 0 {
			return wopi.ConflictResponse("PutFile", "", lock, "", claims.FileName, tokenRef,
				"Cannot overwrite unlocked file", h.log), nil
		}
		effectiveLock = ""
	} else if !wopi.CompareLocks(status.Lock, lock, h.strictLocks) {
		return wopi.ConflictResponse("PutFile", status.Lock, lock, "", claims.FileName, tokenRef,
			"Cannot overwrite file locked by another application", h.log), nil
	} else {
		effectiveLock = status.Lock
	}
	content := requestBody(req)
	if err := h.storeFile(ctx, st, claims, content, effectiveLock); err != nil {
		// the content would otherwise be lost: keep a local copy
		h.recovery.Save(content, claims.UserName, claims.FileName, tokenRef, err)
		return internalErrorResponse(), nil
	}
	h.log.Info("file stored successfully",
		"user", wopi.Truncate(claims.UserID), "filename", claims.FileName,
		"size", len(content), "token", tokenRef)
	resp := events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Headers: map[string]string{}}
	if info, serr := st.Stat(ctx, claims.FileName); serr == nil {
		resp.Headers["X-WOPI-ItemVersion"] = "v" + strconv.FormatInt(info.MTime.Unix(), 10)
	}
	return resp, nil
}

// storeFile writes the content and then records the save time as an
// xattr, in this order: the timestamp is never older than the content it
// describes.
func (h *FilesHandler) storeFile(ctx context.Context, st storage.Adapter, claims *wopi.Claims, content []byte, lock string) error {
	encoded := wopi.EncodeLock(lock)
	if err := st.WriteFile(ctx, claims.FileName, content, encoded); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := st.SetXattr(ctx, claims.FileName, wopi.LastSaveTimeKey, now, encoded); err != nil {
		return fmt.Errorf("set save time: %w", err)
	}
	return nil
}
