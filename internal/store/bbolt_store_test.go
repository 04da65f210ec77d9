package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *BboltStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dirauthd.db")

	s, err := Open(path, false, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestBboltStore_PersistAndGetUserAttr(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	err := s.PersistUsers(ctx, []Record{
		{Name: "alice", IDNum: "1001", Attrs: map[string][]string{"uid": {"1001"}, "gid": {"100"}}},
	})
	if err != nil {
		t.Fatalf("PersistUsers: %v", err)
	}

	got, err := s.GetUserAttr(ctx, "alice", []string{"uid"})
	if err != nil {
		t.Fatalf("GetUserAttr: %v", err)
	}

	if len(got["uid"]) != 1 || got["uid"][0] != "1001" {
		t.Errorf("got %v, want uid=[1001]", got)
	}
}

func TestBboltStore_GetUserAttr_LogicalAlias(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirauthd.db")

	s, err := Open(path, false, map[string]string{"UPN": "userPrincipalName"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	ctx := t.Context()

	err = s.PersistUsers(ctx, []Record{
		{Name: "alice", Attrs: map[string][]string{"userPrincipalName": {"alice@EXAMPLE.COM"}}},
	})
	if err != nil {
		t.Fatalf("PersistUsers: %v", err)
	}

	got, err := s.GetUserAttr(ctx, "alice", []string{"UPN"})
	if err != nil {
		t.Fatalf("GetUserAttr: %v", err)
	}

	if len(got["UPN"]) != 1 || got["UPN"][0] != "alice@EXAMPLE.COM" {
		t.Errorf("got %v, want UPN=[alice@EXAMPLE.COM]", got)
	}
}

func TestBboltStore_GetUserAttr_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetUserAttr(t.Context(), "nobody", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestBboltStore_InitgroupsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	if err := s.PersistInitgroups(ctx, "alice", []string{"wheel", "staff"}); err != nil {
		t.Fatalf("PersistInitgroups: %v", err)
	}

	got, err := s.Initgroups(ctx, "alice")
	if err != nil {
		t.Fatalf("Initgroups: %v", err)
	}

	if len(got) != 2 || got[0] != "wheel" || got[1] != "staff" {
		t.Errorf("got %v, want [wheel staff]", got)
	}
}

func TestBboltStore_PasswordCache(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	if err := s.CachePassword(ctx, "alice", hash); err != nil {
		t.Fatalf("CachePassword: %v", err)
	}

	ok, err := s.VerifyCachedPassword(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatalf("VerifyCachedPassword: %v", err)
	}

	if !ok {
		t.Error("expected the correct password to verify")
	}

	ok, err = s.VerifyCachedPassword(ctx, "alice", "wrong")
	if err != nil {
		t.Fatalf("VerifyCachedPassword: %v", err)
	}

	if ok {
		t.Error("expected an incorrect password to fail verification")
	}
}

func TestBboltStore_VerifyCachedPassword_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.VerifyCachedPassword(t.Context(), "nobody", "x")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestBboltStore_PersistGroups(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	err := s.PersistGroups(ctx, []Record{
		{Name: "wheel", IDNum: "10", Attrs: map[string][]string{"gid": {"10"}}},
	})
	if err != nil {
		t.Fatalf("PersistGroups: %v", err)
	}

	got, err := s.GetGroupAttr(ctx, "wheel", nil)
	if err != nil {
		t.Fatalf("GetGroupAttr: %v", err)
	}

	if len(got["gid"]) != 1 || got["gid"][0] != "10" {
		t.Errorf("got %v, want gid=[10]", got)
	}
}
