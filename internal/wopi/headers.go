package wopi

// X-WOPI-Override header values dispatched on file POST operations.
const (
	OverrideLock        = "LOCK"
	OverrideGetLock     = "GET_LOCK"
	OverrideRefreshLock = "REFRESH_LOCK"
	OverrideUnlock      = "UNLOCK"
	OverridePut         = "PUT"
)

// WOPI protocol header names.
const (
	HeaderOverride          = "X-WOPI-Override"
	HeaderLock              = "X-WOPI-Lock"
	HeaderOldLock           = "X-WOPI-OldLock"
	HeaderLockFailureReason = "X-WOPI-LockFailureReason"
)
