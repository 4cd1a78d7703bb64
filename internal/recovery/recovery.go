// Package recovery implements the last-resort local persistence of edited
// content when the remote storage write fails, so that a client's changes
// are never silently lost.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// LevelCritical flags log entries about unrecoverable data loss, one step
// above slog.LevelError.
const LevelCritical = slog.Level(12)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// sanitizeFileName flattens a storage path into a safe local file name
// component, preventing any path traversal.
func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = unsafeChars.ReplaceAllString(name, "_")
	return strings.Trim(name, "._")
}

// Store writes recovery files under a configured local directory. Files
// are never deleted automatically; cleanup is an operator task.
type Store struct {
	dir string
	log *slog.Logger
}

// NewStore builds a Store rooted at dir, creating it if needed. A
// creation failure is only logged; the failure will resurface on the
// first Save.
func NewStore(dir string, log *slog.Logger) *Store {
	log = log.With("component", "recovery")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Warn("unable to create recovery directory", "dir", dir, "error", err)
	}
	return &Store{dir: dir, log: log}
}

// Save persists content that failed to reach the remote backend. On a
// successful local write it logs an error pointing at the recovered copy;
// if the local write fails too, the data is lost and a critical entry is
// logged. Save never panics: it is the last line of defense and must not
// take down the request path.
func (s *Store) Save(content []byte, userName, fileName, tokenRef string, origErr error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Log(context.Background(), LevelCritical,
				"error writing file and failed to recover it to local storage, data is LOST",
				"filename", fileName, "token", tokenRef,
				"originalerror", origErr, "recoveryerror", r)
		}
	}()
	name := time.Now().Format("20060102T150405") +
		"_editedby_" + sanitizeFileName(userName) +
		"_origat_" + sanitizeFileName(fileName)
	target := filepath.Join(s.dir, name)
	if err := s.write(target, content); err != nil {
		s.log.Log(context.Background(), LevelCritical,
			"error writing file and failed to recover it to local storage, data is LOST",
			"filename", fileName, "token", tokenRef,
			"originalerror", origErr, "recoveryerror", err)
		return
	}
	s.log.Error("error writing file, a copy was stored locally for later recovery",
		"filename", fileName, "recoveredpath", target,
		"token", tokenRef, "error", origErr)
}

func (s *Store) write(target string, content []byte) error {
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	written, err := f.Write(content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if written != len(content) {
		return fmt.Errorf("size mismatch: wrote %d of %d bytes", written, len(content))
	}
	return nil
}
