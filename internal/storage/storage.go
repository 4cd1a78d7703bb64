// Package storage defines the interface towards the remote storage backends
// that hold the files served over WOPI. Implementations exist for DynamoDB
// (dev/demo persistence) and Google Drive.
package storage

import (
	"context"
	"io"
	"time"
)

// FileInfo is the result of a stat call. Inode is the version-invariant
// identifier used as the WOPI fileid and must not change when the file
// content is rewritten; MTime is advisory version information only.
type FileInfo struct {
	Inode    string    `json:"inode"`
	FilePath string    `json:"filepath"`
	OwnerID  string    `json:"ownerid"`
	MTime    time.Time `json:"mtime"`
	Size     int64     `json:"size"`
}

// Lock is a lock as persisted on the backend. LockID carries the opaque
// payload (for WOPI locks, the encoded form produced by the wopi package).
type Lock struct {
	LockID     string    `json:"lock_id"`
	AppName    string    `json:"app_name"`
	Expiration time.Time `json:"expiration"`
}

// Adapter is the per-(endpoint, user) handle onto a storage backend.
// All calls are blocking network operations and honor ctx cancellation;
// none of them retries internally.
type Adapter interface {
	// Stat returns metadata for the file at path, or ErrNotFound.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// Statx is like Stat but lets the caller ask for a version-invariant
	// inode, suitable for use as a WOPI fileid.
	Statx(ctx context.Context, path string, versionInvariant bool) (*FileInfo, error)

	// ReadFile streams the file content. The caller must close the reader.
	ReadFile(ctx context.Context, path string) (io.ReadCloser, error)

	// WriteFile replaces the file content. lockID, when non-empty, is the
	// stored lock payload the write must be performed under.
	WriteFile(ctx context.Context, path string, content []byte, lockID string) error

	// GetLock returns the current lock on the file, or nil when unlocked.
	GetLock(ctx context.Context, path string) (*Lock, error)

	// SetLock stores a lock on the file on behalf of appName.
	SetLock(ctx context.Context, path, appName, lockID string) error

	// Unlock removes the lock if lockID matches the stored one.
	Unlock(ctx context.Context, path, appName, lockID string) error

	// RemoveFile deletes the file. With force set, a lock on the file is
	// ignored.
	RemoveFile(ctx context.Context, path string, force bool) error

	// GetXattr reads an extended attribute, or ErrAttrNotFound.
	GetXattr(ctx context.Context, path, key string) (string, error)

	// SetXattr writes an extended attribute, under the given lock payload
	// when non-empty.
	SetXattr(ctx context.Context, path, key, value, lockID string) error
}

// Provider hands out an Adapter scoped to a storage endpoint and a user
// identity. Implementations may ignore either argument when it does not
// apply to the backend.
type Provider interface {
	GetAdapter(ctx context.Context, endpoint, userID string) (Adapter, error)
}
