package enum

import (
	"testing"
	"time"

	"github.com/netresearch/dirauthd/internal/dirconn"
	"github.com/netresearch/dirauthd/internal/options"
)

func TestBuildFilter_FullEnumeration(t *testing.T) {
	got := buildFilter("uid", "posixAccount", "modifyTimestamp", "")
	want := "(&(uid=*)(objectclass=posixAccount))"

	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildFilter_DeltaEnumeration(t *testing.T) {
	got := buildFilter("uid", "posixAccount", "modifyTimestamp", "20240101000000Z")
	want := "(&(uid=*)(objectclass=posixAccount)(modifyTimestamp>=20240101000000Z)(!(modifyTimestamp=20240101000000Z)))"

	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFirstOrEmpty(t *testing.T) {
	if got := firstOrEmpty(nil, []string{"1001"}); got != "1001" {
		t.Errorf("got %q, want 1001", got)
	}

	if got := firstOrEmpty(nil, nil); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestScheduler_WatermarksStartEmpty(t *testing.T) {
	conn := dirconn.New("ldap://127.0.0.1:1", options.TLSPolicyNever)
	s := New(conn, nil, "dc=example,dc=com", options.AttrMap{}, options.AttrMap{}, "cn=svc", "password", "secret", time.Minute)

	if s.UserWatermark() != "" {
		t.Error("expected an empty user watermark before any cycle")
	}

	if s.GroupWatermark() != "" {
		t.Error("expected an empty group watermark before any cycle")
	}

	if !s.LastRun().IsZero() {
		t.Error("expected a zero LastRun before any cycle")
	}
}
