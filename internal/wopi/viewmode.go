package wopi

import "fmt"

// ViewMode tells how a user is allowed to access a file through the
// editing app. The wire values follow the CS3 app provider API.
type ViewMode string

const (
	// ViewModeViewOnly: the file can be opened but not downloaded.
	ViewModeViewOnly ViewMode = "VIEW_MODE_VIEW_ONLY"
	// ViewModeReadOnly: the file can be downloaded.
	ViewModeReadOnly ViewMode = "VIEW_MODE_READ_ONLY"
	// ViewModeReadWrite: the file can be downloaded and updated.
	ViewModeReadWrite ViewMode = "VIEW_MODE_READ_WRITE"
)

// ParseViewMode validates a protocol view mode string.
func ParseViewMode(s string) (ViewMode, error) {
	switch ViewMode(s) {
	case ViewModeViewOnly, ViewModeReadOnly, ViewModeReadWrite:
		return ViewMode(s), nil
	}
	return "", fmt.Errorf("invalid view mode %q", s)
}
