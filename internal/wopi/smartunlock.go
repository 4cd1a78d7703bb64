package wopi

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/efss/wopihost/internal/storage"
)

// LastSaveTimeKey is the extended attribute holding the Unix time of the
// last successful save, used for conflict checking and for the smart
// unlock staleness heuristic.
const LastSaveTimeKey = "iop.wopi.lastwritetime"

// SmartUnlockPolicy decides whether an apparently stale lock held by the
// same application may be reclaimed without a user-visible conflict,
// typically after a crashed or reloaded editor session.
//
// The policy only signals eligibility: the actual unlock-relock is
// currently not executed pending further validation, so callers must not
// assume the lock was transferred.
type SmartUnlockPolicy struct {
	enabled bool
	window  time.Duration
	log     *slog.Logger
}

// NewSmartUnlockPolicy builds the policy. window is the lock expiration
// window beyond which an idle session is considered stale.
func NewSmartUnlockPolicy(enabled bool, window time.Duration, log *slog.Logger) *SmartUnlockPolicy {
	return &SmartUnlockPolicy{
		enabled: enabled,
		window:  window,
		log:     log.With("component", "smartunlock"),
	}
}

// MayForceUnlock reports whether the lock held by lockHolderApp on
// filename may be broken by currentApp. It never forces on probe errors:
// a missing or unreadable last-save attribute counts as an active session.
func (p *SmartUnlockPolicy) MayForceUnlock(ctx context.Context, st storage.Adapter, filename, lockHolderApp, currentApp string) bool {
	if !p.enabled {
		return false
	}
	if lockHolderApp != currentApp {
		// only applies when the same app reclaims its own lock
		p.log.Info("found another lock holder", "filename", filename, "appname", currentApp, "holder", lockHolderApp)
		return false
	}
	saveTimeAttr, err := st.GetXattr(ctx, filename, LastSaveTimeKey)
	if err != nil && !errors.Is(err, storage.ErrAttrNotFound) {
		p.log.Warn("failed attempt to check for a stale lock", "filename", filename, "error", err)
		return false
	}
	now := time.Now()
	saveTime, perr := strconv.ParseInt(saveTimeAttr, 10, 64)
	if err != nil || perr != nil {
		// attribute missing or not numeric, play safe and assume the
		// session is active
		saveTime = now.Unix()
	}
	if time.Unix(saveTime, 0).Before(now.Add(-p.window)) {
		p.log.Warn("lock might be forced", "filename", filename, "appname", currentApp)
		return true
	}
	p.log.Info("found another active session", "filename", filename, "savetime", saveTime)
	return false
}
