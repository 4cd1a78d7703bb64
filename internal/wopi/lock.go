package wopi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// LockPrefix marks lock payloads created by this server when persisted on
// the storage backend. Payloads without it belong to some other system.
const LockPrefix = "opaquelocktoken:797356a8-0500-4ceb-a8a0-c94c8cde7eba"

// ErrIncompatibleLock is returned when a stored lock payload was not
// created by this server. The lock is likely valid, just not ours.
var ErrIncompatibleLock = errors.New("non-WOPI lock found")

// EncodeLock generates the storage payload for a raw WOPI lock. An empty
// lock yields an empty payload (nothing to store).
func EncodeLock(lock string) string {
	if lock == "" {
		return ""
	}
	return LockPrefix + " " + base64.StdEncoding.EncodeToString([]byte(lock))
}

// DecodeLock reverts the EncodeLock format. It fails with
// ErrIncompatibleLock when the payload lacks the prefix, carries nothing
// after it, or is not valid base64.
func DecodeLock(storedLock string) (string, error) {
	if len(storedLock) <= len(LockPrefix) || !strings.HasPrefix(storedLock, LockPrefix) {
		return "", ErrIncompatibleLock
	}
	raw, err := base64.StdEncoding.DecodeString(storedLock[len(LockPrefix)+1:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIncompatibleLock, err)
	}
	return string(raw), nil
}

// CompareLocks tells whether two lock tokens denote the same WOPI lock.
// Officially the comparison must use the plain string representations,
// but because of a bug in Word Online the undocumented internal JSON
// format is inspected as a fallback unless strict is set. The asymmetric
// branch comparing l1's "S" value against the raw lock2 string reproduces
// a legacy client quirk and must stay as is.
func CompareLocks(lock1, lock2 string, strict bool) bool {
	if lock1 == lock2 {
		return true
	}
	if strict {
		return false
	}
	var l1 map[string]any
	if err := json.Unmarshal([]byte(lock1), &l1); err != nil {
		return false
	}
	s1, hasS1 := l1["S"]
	var l2 map[string]any
	if err := json.Unmarshal([]byte(lock2), &l2); err != nil {
		// lock2 is not a JSON object: compare l1's S against the raw
		// string, as Word does. Only a string S can match here.
		s, ok := s1.(string)
		return hasS1 && ok && s == lock2
	}
	s2, hasS2 := l2["S"]
	if hasS1 && hasS2 {
		// S values are arbitrary JSON (arrays and objects included), so a
		// plain == would panic on non-comparable dynamic types
		return reflect.DeepEqual(s1, s2)
	}
	return false
}
