// Package pwcache hashes and persists passwords for offline authentication, invoked
// from the auth pipeline after a successful online login and before its completion
// callback fires.
package pwcache

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/netresearch/dirauthd/internal/store"
)

// Hook writes a bcrypt-hashed password into st for offline auth. Failures are
// logged only; the caller's auth result is unaffected either way.
type Hook struct {
	st store.Store
}

// New constructs a Hook backed by st.
func New(st store.Store) *Hook {
	return &Hook{st: st}
}

// Cache hashes password and stores it for user, zeroing the plaintext buffer as
// soon as hashing completes. password is expected to carry a trailing NUL
// terminator byte, as the auth pipeline pads it; the terminator is stripped before
// hashing so it never becomes part of the cached credential.
func (h *Hook) Cache(ctx context.Context, user string, password []byte) {
	plain := password
	if n := len(plain); n > 0 && plain[n-1] == 0 {
		plain = plain[:n-1]
	}

	hash, err := store.HashPassword(string(plain))

	for i := range password {
		password[i] = 0
	}

	if err != nil {
		log.Error().Err(err).Str("user", user).Msg("hash password for offline cache failed")

		return
	}

	if err := h.st.CachePassword(ctx, user, hash); err != nil {
		log.Error().Err(err).Str("user", user).Msg("cache password failed")
	}
}
