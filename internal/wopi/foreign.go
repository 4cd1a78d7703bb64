package wopi

import (
	"context"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/efss/wopihost/internal/storage"
)

// HolderExternal identifies a lock held outside the WOPI protocol, e.g. by
// a legacy desktop editor.
const HolderExternal = "External"

// ServerSignature is written into the LibreOffice-compatible lock files
// created by this server, so that they can be told apart from locks left
// by a real LibreOffice desktop instance.
const ServerSignature = "WOPIServer"

// LibreOfficeLockName returns the path of a LibreOffice-compatible lock
// file for the given filename. This enables interoperability between
// online and desktop applications.
func LibreOfficeLockName(filename string) string {
	return path.Dir(filename) + "/.~lock." + path.Base(filename) + "#"
}

// MicrosoftOfficeLockName returns the path of a lock file as created by
// Microsoft Office. MS Word mangles the name of .docx lock files in a
// really weird, undocumented way depending on the name length; the exact
// rule below was reverse engineered and must not be simplified.
func MicrosoftOfficeLockName(filename string) string {
	base := path.Base(filename)
	dir := path.Dir(filename)
	if path.Ext(filename) != ".docx" || len(base) <= 6+1+4 {
		return dir + "/~$" + base
	}
	if len(base) >= 8+1+4 {
		return dir + "/~$" + base[2:]
	}
	// len(base) == 7+1+4
	return dir + "/~$" + base[1:]
}

// ForeignLockDetector probes the storage for lock artifacts left by legacy
// desktop editors before the WOPI lock state is trusted. Detection is
// best-effort: any I/O error while probing counts as "no lock".
type ForeignLockDetector struct {
	enabled        bool
	nonOfficeTypes []string
	log            *slog.Logger
}

// NewForeignLockDetector builds a detector. nonOfficeTypes lists file
// extensions (with leading dot) that are never opened by desktop office
// suites and therefore skip detection entirely.
func NewForeignLockDetector(enabled bool, nonOfficeTypes []string, log *slog.Logger) *ForeignLockDetector {
	return &ForeignLockDetector{
		enabled:        enabled,
		nonOfficeTypes: nonOfficeTypes,
		log:            log.With("component", "foreignlock"),
	}
}

// lockProbe inspects the storage for one family of foreign locks and
// returns the holder label on a definite hit.
type lockProbe func(ctx context.Context, st storage.Adapter, filename string) (label string, found bool)

// Detect runs the probes in order, first hit wins. It returns the holder
// kind (HolderExternal) and a label for the holding application, or two
// empty strings when no foreign lock was found.
func (d *ForeignLockDetector) Detect(ctx context.Context, st storage.Adapter, filename string) (string, string) {
	if !d.enabled {
		return "", ""
	}
	ext := strings.ToLower(path.Ext(filename))
	for _, t := range d.nonOfficeTypes {
		if ext == t {
			return "", ""
		}
	}
	for _, probe := range []lockProbe{d.probeMicrosoftOffice, d.probeLibreOffice} {
		if label, found := probe(ctx, st, filename); found {
			return HolderExternal, label
		}
	}
	return "", ""
}

func (d *ForeignLockDetector) probeMicrosoftOffice(ctx context.Context, st storage.Adapter, filename string) (string, bool) {
	info, err := st.Stat(ctx, MicrosoftOfficeLockName(filename))
	if err != nil {
		return "", false
	}
	d.log.Info("found existing MS Office lock",
		"filename", filename, "lockmtime", info.MTime.Unix())
	return "Microsoft Office for Desktop", true
}

func (d *ForeignLockDetector) probeLibreOffice(ctx context.Context, st storage.Adapter, filename string) (string, bool) {
	lockpath := LibreOfficeLockName(filename)
	info, err := st.Statx(ctx, lockpath, false)
	if err != nil {
		return "", false
	}
	rc, err := st.ReadFile(ctx, lockpath)
	if err != nil {
		return "", false
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		// likely an access error, optimistically move on
		return "", false
	}
	lock := string(content)
	if strings.Contains(lock, ServerSignature) {
		// our own interop lock, not a foreign one
		return "", false
	}
	holder := info.OwnerID
	if parts := strings.Split(lock, ","); len(parts) > 1 {
		holder = parts[1]
	}
	d.log.Info("found existing LibreOffice lock",
		"filename", filename, "lockmtime", info.MTime.Unix(), "holder", holder)
	return "LibreOffice for Desktop", true
}
