// Package store is the daemon's local persistence layer: a durable record cache of
// directory results that survives restarts and directory outages. While the directory
// is offline, account lookups return RETRY_LATER and authentication returns
// AUTH_UNAVAILABLE; neither is answered from the store.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a lookup finds no cached record.
var ErrNotFound = errors.New("not found in local store")

// Record is a cached snapshot of a single user or group entry, keyed by its logical
// name and (when known) its numeric id. Attrs holds the resolved attribute values as
// returned by the directory, indexed by the directory attribute names attrmap.Resolve
// returns.
type Record struct {
	Name  string
	IDNum string
	Attrs map[string][]string
}

// Store is the durable local cache that the dispatcher and the enumeration scheduler
// write directory results into, and from which the PAM handler reads the user's UPN.
type Store interface {
	// GetUserAttr returns the requested attributes for user, reading through the cache.
	// Missing attributes are simply absent from the result map. Returns ErrNotFound if
	// the user has never been persisted.
	GetUserAttr(ctx context.Context, user string, attrs []string) (map[string][]string, error)

	// GetGroupAttr returns the requested attributes for a cached group.
	GetGroupAttr(ctx context.Context, group string, attrs []string) (map[string][]string, error)

	// PersistUsers upserts a batch of user records, as produced by a directory search.
	PersistUsers(ctx context.Context, records []Record) error

	// PersistGroups upserts a batch of group records.
	PersistGroups(ctx context.Context, records []Record) error

	// PersistInitgroups records the resolved supplementary group names for user.
	PersistInitgroups(ctx context.Context, user string, groupNames []string) error

	// Initgroups returns the last persisted supplementary group names for user.
	Initgroups(ctx context.Context, user string) ([]string, error)

	// CachePassword stores a password hash for offline authentication, keyed by user.
	// Callers treat failures here as non-fatal to the authentication path that produced
	// the hash.
	CachePassword(ctx context.Context, user string, hash []byte) error

	// VerifyCachedPassword reports whether password matches the hash cached for user.
	// Returns ErrNotFound if no credential has ever been cached for the user.
	VerifyCachedPassword(ctx context.Context, user string, password string) (bool, error)

	// Close releases the underlying storage handle.
	Close() error
}
