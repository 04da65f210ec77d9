package store

import "testing"

func TestCache_PutAndByName(t *testing.T) {
	c := NewCache()
	c.Put(Record{Name: "alice", IDNum: "1001", Attrs: map[string][]string{"uid": {"1001"}}})

	rec, ok := c.ByName("alice")
	if !ok {
		t.Fatal("expected alice to be cached")
	}

	if rec.IDNum != "1001" {
		t.Errorf("got idnum %q, want 1001", rec.IDNum)
	}
}

func TestCache_ByIDNum(t *testing.T) {
	c := NewCache()
	c.Put(Record{Name: "bob", IDNum: "1002"})

	rec, ok := c.ByIDNum("1002")
	if !ok || rec.Name != "bob" {
		t.Errorf("expected to find bob by idnum, got %+v, %v", rec, ok)
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := NewCache()
	c.Put(Record{Name: "carol", IDNum: "1003"})
	c.Invalidate("carol")

	if _, ok := c.ByName("carol"); ok {
		t.Error("expected carol to be evicted")
	}

	if _, ok := c.ByIDNum("1003"); ok {
		t.Error("expected carol's idnum index entry to be evicted")
	}
}

func TestCache_ByName_MissingIsNotOK(t *testing.T) {
	c := NewCache()

	if _, ok := c.ByName("nobody"); ok {
		t.Error("expected a miss for an unknown name")
	}
}
