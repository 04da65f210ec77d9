package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/bbolt/v2"
	"golang.org/x/crypto/bcrypt"
)

// Key namespaces within the single bbolt bucket. fiber.Storage exposes a flat
// string-keyed byte store, so distinct record kinds are separated by prefix rather
// than by bucket, keeping a single bolt.DB file and a single open handle.
const (
	userPrefix       = "user:"
	groupPrefix      = "group:"
	initgroupsPrefix = "initgroups:"
	passwordPrefix   = "password:"
)

// neverExpire is passed to fiber.Storage.Set for records that must survive until
// explicitly overwritten; the local store has no TTL semantics of its own.
const neverExpire = 0 * time.Second

// BboltStore is the durable Store implementation backed by a single bbolt database
// file, fronted by an in-process indexed read cache for users and groups.
type BboltStore struct {
	backing fiber.Storage

	users  *Cache
	groups *Cache

	// userAttrAliases maps a logical field name (upper-cased, e.g. "UPN") to the
	// directory attribute name records are actually persisted under (e.g.
	// "userPrincipalName"), so callers can query the front-end's logical spelling
	// regardless of how the directory's attribute map names it.
	userAttrAliases map[string]string
}

// Open creates or opens the bbolt database at path and returns a ready Store. reset,
// when true, truncates any existing database. userAttrAliases maps logical user
// attribute names (as GetUserAttr callers spell them, e.g. "UPN") to the directory
// attribute name configured for that logical field; pass nil if no translation is
// needed.
func Open(path string, reset bool, userAttrAliases map[string]string) (*BboltStore, error) {
	backing := bbolt.New(bbolt.Config{
		Database: path,
		Bucket:   "dirauthd",
		Reset:    reset,
	})

	return &BboltStore{
		backing:         backing,
		users:           NewCache(),
		groups:          NewCache(),
		userAttrAliases: userAttrAliases,
	}, nil
}

func (s *BboltStore) Close() error {
	return s.backing.Close()
}

func (s *BboltStore) GetUserAttr(ctx context.Context, user string, attrs []string) (map[string][]string, error) {
	return s.getAttr(ctx, s.users, userPrefix, user, attrs, s.userAttrAliases)
}

func (s *BboltStore) GetGroupAttr(ctx context.Context, group string, attrs []string) (map[string][]string, error) {
	return s.getAttr(ctx, s.groups, groupPrefix, group, attrs, nil)
}

func (s *BboltStore) getAttr(
	_ context.Context,
	cache *Cache,
	prefix, name string,
	attrs []string,
	aliases map[string]string,
) (map[string][]string, error) {
	rec, ok := cache.ByName(name)
	if !ok {
		loaded, err := s.loadRecord(prefix, name)
		if err != nil {
			return nil, err
		}

		rec = loaded
		cache.Put(rec)
	}

	if len(attrs) == 0 {
		return rec.Attrs, nil
	}

	out := make(map[string][]string, len(attrs))

	for _, a := range attrs {
		key := a
		if mapped, ok := aliases[strings.ToUpper(a)]; ok {
			key = mapped
		}

		if v, ok := rec.Attrs[key]; ok {
			out[a] = v
		}
	}

	return out, nil
}

func (s *BboltStore) loadRecord(prefix, name string) (Record, error) {
	raw, err := s.backing.Get(prefix + name)
	if err != nil {
		return Record{}, fmt.Errorf("local store read: %w", err)
	}

	if raw == nil {
		return Record{}, fmt.Errorf("%s%s: %w", prefix, name, ErrNotFound)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("local store decode %s%s: %w", prefix, name, err)
	}

	return rec, nil
}

func (s *BboltStore) PersistUsers(ctx context.Context, records []Record) error {
	return s.persist(ctx, s.users, userPrefix, records)
}

func (s *BboltStore) PersistGroups(ctx context.Context, records []Record) error {
	return s.persist(ctx, s.groups, groupPrefix, records)
}

func (s *BboltStore) persist(_ context.Context, cache *Cache, prefix string, records []Record) error {
	for _, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("local store encode %s%s: %w", prefix, rec.Name, err)
		}

		if err := s.backing.Set(prefix+rec.Name, raw, neverExpire); err != nil {
			return fmt.Errorf("local store write %s%s: %w", prefix, rec.Name, err)
		}

		cache.Put(rec)
	}

	return nil
}

func (s *BboltStore) PersistInitgroups(_ context.Context, user string, groupNames []string) error {
	raw, err := json.Marshal(groupNames)
	if err != nil {
		return fmt.Errorf("local store encode initgroups for %s: %w", user, err)
	}

	if err := s.backing.Set(initgroupsPrefix+user, raw, neverExpire); err != nil {
		return fmt.Errorf("local store write initgroups for %s: %w", user, err)
	}

	return nil
}

func (s *BboltStore) Initgroups(_ context.Context, user string) ([]string, error) {
	raw, err := s.backing.Get(initgroupsPrefix + user)
	if err != nil {
		return nil, fmt.Errorf("local store read initgroups for %s: %w", user, err)
	}

	if raw == nil {
		return nil, fmt.Errorf("initgroups for %s: %w", user, ErrNotFound)
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("local store decode initgroups for %s: %w", user, err)
	}

	return names, nil
}

func (s *BboltStore) CachePassword(_ context.Context, user string, hash []byte) error {
	if err := s.backing.Set(passwordPrefix+user, hash, neverExpire); err != nil {
		return fmt.Errorf("local store write password for %s: %w", user, err)
	}

	return nil
}

func (s *BboltStore) VerifyCachedPassword(_ context.Context, user string, password string) (bool, error) {
	hash, err := s.backing.Get(passwordPrefix + user)
	if err != nil {
		return false, fmt.Errorf("local store read password for %s: %w", user, err)
	}

	if hash == nil {
		return false, fmt.Errorf("password for %s: %w", user, ErrNotFound)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return false, nil
	}

	return true, nil
}

// HashPassword returns the bcrypt hash CachePassword expects, at the package's
// default cost.
func HashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	return hash, nil
}
