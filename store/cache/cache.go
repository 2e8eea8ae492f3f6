/*
Package cache stores computed reconciliation reports and coordinates the
background sweep across instances.

PURPOSE:
  Reconciling a rental is cheap but not free, and the dashboard asks for the
  same report repeatedly. Reports are cached under a key derived from the
  input snapshot, so any edit to the rental's periods produces a new key and
  stale entries simply expire.

BACKENDS:
  Memory   single process, for tests and development
  Redis    shared, via github.com/redis/go-redis/v9

  Both implement Cache and Locker. A Locker lets exactly one instance run the
  scheduled reconciliation sweep at a time.

SEE ALSO:
  - billing/reconcile.go: Fingerprint, the key material
  - api/scheduler.go: the sweep that takes the lock
*/
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrLockHeld is returned by Locker.Lock when another holder has the key.
var ErrLockHeld = errors.New("lock held elsewhere")

// Cache is a byte-oriented key/value store with expiry.
type Cache interface {
	// Get reports whether key was present. A miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Locker grants short-lived exclusive leases.
type Locker interface {
	// Lock obtains key for ttl and returns the function that releases it, or
	// ErrLockHeld.
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// GetJSON decodes a cached JSON value into dest.
func GetJSON(ctx context.Context, c Cache, key string, dest any) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v as JSON and caches it.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// ReportKey names a cached reconciliation report.
func ReportKey(rentalID, fingerprint string) string {
	return "reconciliation:" + rentalID + ":" + fingerprint
}
