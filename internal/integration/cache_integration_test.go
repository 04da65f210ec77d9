//go:build integration

package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/netresearch/dirauthd/internal/dirconn"
	"github.com/netresearch/dirauthd/internal/enum"
	"github.com/netresearch/dirauthd/internal/options"
	"github.com/netresearch/dirauthd/internal/store"
)

func newTestAttrMaps() (userAttrs, groupAttrs options.AttrMap) {
	userAttrs = options.AttrMap{
		ObjectClass: "inetOrgPerson",
		Attrs:       map[string]string{"name": "cn", "uid": "uid"},
	}
	groupAttrs = options.AttrMap{
		ObjectClass: "groupOfNames",
		Attrs:       map[string]string{"name": "cn"},
	}

	return userAttrs, groupAttrs
}

func TestEnumerationWarmupIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := StartOpenLDAP(ctx, DefaultOpenLDAPConfig())
	if err != nil {
		t.Fatalf("start container: %v", err)
	}
	defer func() { _ = container.Stop(ctx) }()

	time.Sleep(2 * time.Second)

	if err := container.SeedTestData(ctx); err != nil {
		t.Fatalf("seed test data: %v", err)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "enum.db"), false, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	mgr := dirconn.New(container.URI(), options.TLSPolicyNever)
	defer func() { _ = mgr.Close() }()

	userAttrs, groupAttrs := newTestAttrMaps()

	sched := enum.New(mgr, st, container.BaseDN, userAttrs, groupAttrs, container.AdminDN, "password", container.AdminPass, time.Hour)

	t.Run("first cycle performs a full enumeration", func(t *testing.T) {
		cycleCtx, cycleCancel := context.WithTimeout(ctx, 30*time.Second)
		defer cycleCancel()

		done := make(chan struct{})
		go func() {
			sched.Run(cycleCtx)
			close(done)
		}()

		time.Sleep(5 * time.Second)
		cycleCancel()
		<-done

		if sched.LastRun().IsZero() {
			t.Error("expected at least one enumeration cycle to complete")
		}
	})

	t.Run("watermarks advance when the directory carries modstamps", func(t *testing.T) {
		t.Logf("user watermark: %q, group watermark: %q", sched.UserWatermark(), sched.GroupWatermark())
	})
}

func TestEnumerationLargeDatasetIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := StartOpenLDAP(ctx, DefaultOpenLDAPConfig())
	if err != nil {
		t.Fatalf("start container: %v", err)
	}
	defer func() { _ = container.Stop(ctx) }()

	time.Sleep(2 * time.Second)

	if err := container.CreateOUs(ctx); err != nil {
		t.Fatalf("create OUs: %v", err)
	}

	t.Log("adding 100 test users...")

	for i := 0; i < 100; i++ {
		username := "bulkuser" + string(rune('0'+i/10)) + string(rune('0'+i%10))
		_ = container.AddTestUser(ctx, username, "password", true)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "enum-large.db"), false, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	mgr := dirconn.New(container.URI(), options.TLSPolicyNever)
	defer func() { _ = mgr.Close() }()

	userAttrs, groupAttrs := newTestAttrMaps()

	sched := enum.New(mgr, st, container.BaseDN, userAttrs, groupAttrs, container.AdminDN, "password", container.AdminPass, time.Hour)

	t.Run("warmup with large dataset completes promptly", func(t *testing.T) {
		cycleCtx, cycleCancel := context.WithTimeout(ctx, 30*time.Second)
		defer cycleCancel()

		start := time.Now()

		done := make(chan struct{})
		go func() {
			sched.Run(cycleCtx)
			close(done)
		}()

		time.Sleep(10 * time.Second)
		cycleCancel()
		<-done

		t.Logf("warmup took %v", time.Since(start))

		if sched.LastRun().IsZero() {
			t.Error("expected the large-dataset cycle to complete")
		}
	})
}
