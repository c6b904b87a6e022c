// Package store implements the optional persistent verdict cache tier.
// It sits between the in-memory cache and the provider fan-out so repeated
// scans survive restarts without spending provider quota.
package store

import (
	"fmt"

	"github.com/secureqr/qr-sentinel/internal/model"
)

// Store is a persistent cache of verdicts keyed by normalized URL.
type Store interface {
	// Get retrieves an unexpired verdict. Returns false if absent or expired.
	Get(key string) (*model.Verdict, bool)
	// Set stores a verdict until expiresAt (unix seconds).
	Set(key string, v *model.Verdict, expiresAt int64)
	// Size returns the number of stored entries.
	Size() int
	// Cleanup removes expired entries.
	Cleanup()
	// Close releases the backing database.
	Close()
}

// New opens a persistent store of the given type ("sqlite" or "mysql").
func New(storeType, dsn string) (Store, error) {
	switch storeType {
	case "sqlite":
		return NewSQLite(dsn)
	case "mysql":
		return NewMySQL(dsn)
	default:
		return nil, fmt.Errorf("unknown persistent cache type: %s", storeType)
	}
}
