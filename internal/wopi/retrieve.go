package wopi

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/efss/wopihost/internal/storage"
)

// LockStatus describes the lock currently held on a file, if any.
type LockStatus struct {
	// Lock is the raw WOPI lock token, empty for foreign locks.
	Lock string
	// Holder is the app holding a WOPI lock, or a descriptive label for
	// a foreign one.
	Holder string
	// External is set when the lock was not created by this server.
	External bool
}

// LockRetriever resolves the effective lock state of a file: foreign
// desktop-editor locks take precedence over the protocol's own lock.
type LockRetriever struct {
	detector *ForeignLockDetector
	log      *slog.Logger
}

// NewLockRetriever builds a LockRetriever around the given detector.
func NewLockRetriever(detector *ForeignLockDetector, log *slog.Logger) *LockRetriever {
	return &LockRetriever{detector: detector, log: log.With("component", "lock")}
}

// Retrieve returns the lock state for the file named in the claims (or
// overrideFn when non-empty), or nil when the file is unlocked. Probe
// failures are never escalated: an undecodable stored payload reports an
// external holder.
func (r *LockRetriever) Retrieve(ctx context.Context, st storage.Adapter, operation string, claims *Claims, tokenRef, overrideFn string) *LockStatus {
	filename := claims.FileName
	if holder, label := r.detector.Detect(ctx, st, filename); holder != "" {
		return &LockStatus{Holder: label, External: true}
	}

	target := filename
	if overrideFn != "" {
		target = overrideFn
	}
	lock, err := st.GetLock(ctx, target)
	if err != nil {
		r.log.Info("found non-compatible or unreadable lock",
			"lockop", operation, "user", Truncate(claims.UserID),
			"filename", filename, "token", tokenRef, "error", err)
		return &LockStatus{Holder: "Another app or user", External: true}
	}
	if lock == nil {
		r.log.Info("no lock found",
			"lockop", operation, "user", Truncate(claims.UserID),
			"filename", filename, "token", tokenRef)
		r.removeStaleInteropLock(ctx, st, operation, claims, filename)
		return nil
	}
	raw, err := DecodeLock(lock.LockID)
	if err != nil {
		r.log.Info("found non-compatible or unreadable lock",
			"lockop", operation, "user", Truncate(claims.UserID),
			"filename", filename, "token", tokenRef, "error", err)
		return &LockStatus{Holder: "Another app or user", External: true}
	}
	r.log.Info("retrieved lock",
		"lockop", operation, "user", Truncate(claims.UserID),
		"filename", filename, "retrievedlock", raw,
		"expiration", lock.Expiration.Unix(), "token", tokenRef)
	return &LockStatus{Lock: raw, Holder: lock.AppName}
}

// removeStaleInteropLock lazily deletes a LibreOffice-compatible sentinel
// created by this server once the WOPI lock it mirrored is gone.
func (r *LockRetriever) removeStaleInteropLock(ctx context.Context, st storage.Adapter, operation string, claims *Claims, filename string) {
	lockpath := LibreOfficeLockName(filename)
	rc, err := st.ReadFile(ctx, lockpath)
	if err != nil {
		return
	}
	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil || !strings.Contains(string(content), ServerSignature) {
		return
	}
	if err := st.RemoveFile(ctx, lockpath, true); err != nil {
		r.log.Warn("unable to delete stale LibreOffice-compatible lock file",
			"lockop", operation, "user", Truncate(claims.UserID),
			"filename", filename, "error", err)
	}
}
