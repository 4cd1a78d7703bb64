// Package drive implements the storage interface on Google Drive. Drive
// file IDs double as version-invariant inodes, modifiedTime is the
// advisory mtime, and appProperties carry both extended attributes and
// the lock payload.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/efss/wopihost/internal/storage"
)

// appProperties keys used to persist lock state and extended attributes.
const (
	lockProp    = "wopi.lock"
	lockAppProp = "wopi.lockapp"
	lockExpProp = "wopi.lockexp"
)

const lockTTL = 30 * time.Minute

const fileFields = "id, name, mimeType, modifiedTime, size, owners, appProperties"

// Adapter implements storage.Adapter for Google Drive.
type Adapter struct {
	service      *drive.Service
	baseFolderID string
}

// NewAdapter creates an Adapter. client must be an http.Client
// authenticated with the end user's credentials.
func NewAdapter(ctx context.Context, client *http.Client, baseFolderID string) (*Adapter, error) {
	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to build Drive client: %w", err)
	}
	return &Adapter{service: srv, baseFolderID: baseFolderID}, nil
}

func isNotFound(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == 404
	}
	return false
}

// resolve fetches file metadata for a storage path. Plain paths are Drive
// file IDs; slash-containing paths (sentinel probes derived from a file
// name) are resolved by a name query under the base folder.
func (d *Adapter) resolve(ctx context.Context, p string) (*drive.File, error) {
	name := path.Base(p)
	if name == p {
		f, err := d.service.Files.Get(p).
			SupportsAllDrives(true).
			Fields(fileFields).
			Context(ctx).
			Do()
		if err == nil {
			return f, nil
		}
		if !isNotFound(err) {
			return nil, fmt.Errorf("unable to get file metadata: %w", err)
		}
		// fall through to a name lookup
	}
	parent := d.baseFolderID
	if parent == "" {
		parent = "root"
	}
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", name, parent)
	r, err := d.service.Files.List().
		Q(q).
		Fields(googleapi.Field("files(" + fileFields + ")")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to look up %q by name: %w", name, err)
	}
	if len(r.Files) == 0 {
		return nil, storage.ErrNotFound
	}
	return r.Files[0], nil
}

func (d *Adapter) info(f *drive.File) *storage.FileInfo {
	mtime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	owner := ""
	if len(f.Owners) > 0 {
		owner = f.Owners[0].EmailAddress
	}
	return &storage.FileInfo{
		Inode:    f.Id,
		FilePath: f.Name,
		OwnerID:  owner,
		MTime:    mtime,
		Size:     f.Size,
	}
}

// Stat implements storage.Adapter.
func (d *Adapter) Stat(ctx context.Context, path string) (*storage.FileInfo, error) {
	f, err := d.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if f.MimeType == "application/vnd.google-apps.folder" {
		return nil, storage.ErrNotFound
	}
	return d.info(f), nil
}

// Statx implements storage.Adapter; Drive file IDs are already version
// invariant.
func (d *Adapter) Statx(ctx context.Context, path string, _ bool) (*storage.FileInfo, error) {
	return d.Stat(ctx, path)
}

// ReadFile implements storage.Adapter.
func (d *Adapter) ReadFile(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := d.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	resp, err := d.service.Files.Get(f.Id).Context(ctx).Download()
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("unable to download file: %w", err)
	}
	return resp.Body, nil
}

// WriteFile implements storage.Adapter. Writes to a missing sentinel path
// create the file under the base folder.
func (d *Adapter) WriteFile(ctx context.Context, p string, content []byte, lockID string) error {
	f, err := d.resolve(ctx, p)
	if errors.Is(err, storage.ErrNotFound) {
		parent := d.baseFolderID
		if parent == "" {
			parent = "root"
		}
		create := &drive.File{Name: path.Base(p), Parents: []string{parent}}
		_, err = d.service.Files.Create(create).
			Media(bytes.NewReader(content)).
			SupportsAllDrives(true).
			Fields("id").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("unable to create file: %w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if lock := currentLock(f); lock != nil && lock.LockID != lockID {
		return fmt.Errorf("write %q: %w", p, storage.ErrLockMismatch)
	}
	_, err = d.service.Files.Update(f.Id, &drive.File{}).
		Media(bytes.NewReader(content)).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("unable to update file: %w", err)
	}
	return nil
}

// currentLock reads the lock triple out of appProperties, nil when absent
// or expired.
func currentLock(f *drive.File) *storage.Lock {
	payload := f.AppProperties[lockProp]
	if payload == "" {
		return nil
	}
	exp, _ := strconv.ParseInt(f.AppProperties[lockExpProp], 10, 64)
	if time.Now().Unix() > exp {
		return nil
	}
	return &storage.Lock{
		LockID:     payload,
		AppName:    f.AppProperties[lockAppProp],
		Expiration: time.Unix(exp, 0),
	}
}

// GetLock implements storage.Adapter.
func (d *Adapter) GetLock(ctx context.Context, path string) (*storage.Lock, error) {
	f, err := d.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	return currentLock(f), nil
}

func (d *Adapter) setProperties(ctx context.Context, fileID string, props map[string]string) error {
	_, err := d.service.Files.Update(fileID, &drive.File{AppProperties: props}).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("unable to update file properties: %w", err)
	}
	return nil
}

// SetLock implements storage.Adapter. Drive offers no conditional writes,
// so acquisition is read-check-write; the WOPI compare protocol tolerates
// the window.
func (d *Adapter) SetLock(ctx context.Context, path, appName, lockID string) error {
	f, err := d.resolve(ctx, path)
	if err != nil {
		return err
	}
	if lock := currentLock(f); lock != nil && lock.LockID != lockID {
		return fmt.Errorf("lock %q: %w", path, storage.ErrLockMismatch)
	}
	return d.setProperties(ctx, f.Id, map[string]string{
		lockProp:    lockID,
		lockAppProp: appName,
		lockExpProp: strconv.FormatInt(time.Now().Add(lockTTL).Unix(), 10),
	})
}

// Unlock implements storage.Adapter.
func (d *Adapter) Unlock(ctx context.Context, path, _, lockID string) error {
	f, err := d.resolve(ctx, path)
	if err != nil {
		return err
	}
	if f.AppProperties[lockProp] != lockID {
		return fmt.Errorf("unlock %q: %w", path, storage.ErrLockMismatch)
	}
	// null values delete appProperties keys, but the typed client cannot
	// express them; overwrite with empty strings instead
	return d.setProperties(ctx, f.Id, map[string]string{
		lockProp:    "",
		lockAppProp: "",
		lockExpProp: "",
	})
}

// RemoveFile implements storage.Adapter.
func (d *Adapter) RemoveFile(ctx context.Context, path string, force bool) error {
	f, err := d.resolve(ctx, path)
	if err != nil {
		return err
	}
	if !force {
		if lock := currentLock(f); lock != nil {
			return fmt.Errorf("remove %q: %w", path, storage.ErrLockMismatch)
		}
	}
	if err := d.service.Files.Delete(f.Id).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to delete file: %w", err)
	}
	return nil
}

// GetXattr implements storage.Adapter.
func (d *Adapter) GetXattr(ctx context.Context, path, key string) (string, error) {
	f, err := d.resolve(ctx, path)
	if err != nil {
		return "", err
	}
	val, ok := f.AppProperties[key]
	if !ok || val == "" {
		return "", storage.ErrAttrNotFound
	}
	return val, nil
}

// SetXattr implements storage.Adapter.
func (d *Adapter) SetXattr(ctx context.Context, path, key, value, lockID string) error {
	f, err := d.resolve(ctx, path)
	if err != nil {
		return err
	}
	if lock := currentLock(f); lock != nil && lock.LockID != lockID {
		return fmt.Errorf("setxattr %q: %w", path, storage.ErrLockMismatch)
	}
	return d.setProperties(ctx, f.Id, map[string]string{key: value})
}
