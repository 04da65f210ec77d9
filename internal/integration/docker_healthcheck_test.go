//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/netresearch/dirauthd/internal/options"
	"github.com/netresearch/dirauthd/internal/provider"
	"github.com/netresearch/dirauthd/internal/status"
)

// TestDaemonHealthWiring verifies that a fully wired provider.Context, run against a
// real OpenLDAP container, reports accurate liveness/readiness/debug status through
// the status server — the same surface a container HEALTHCHECK would poll.
func TestDaemonHealthWiring(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Docker healthcheck test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ldapContainer, err := StartOpenLDAP(ctx, DefaultOpenLDAPConfig())
	if err != nil {
		t.Fatalf("failed to start OpenLDAP container: %v", err)
	}
	defer func() { _ = ldapContainer.Stop(ctx) }()

	time.Sleep(2 * time.Second)

	if err := ldapContainer.SeedTestData(ctx); err != nil {
		t.Fatalf("failed to seed test data: %v", err)
	}

	opts := &options.Opts{
		ListenAddr:         "127.0.0.1:0",
		DirectoryServer:    ldapContainer.URI(),
		BaseDN:             ldapContainer.BaseDN,
		TLSReqCert:         options.TLSPolicyNever,
		DefaultBindDN:      ldapContainer.AdminDN,
		DefaultAuthtokType: "password",
		DefaultAuthtok:     ldapContainer.AdminPass,
		OfflineTimeout:     300 * time.Second,
		EnumRefreshTimeout: time.Hour,
		Enumerate:          true,
		UserAttrMap:        options.AttrMap{ObjectClass: "inetOrgPerson", Attrs: map[string]string{"name": "cn"}},
		GroupAttrMap:       options.AttrMap{ObjectClass: "groupOfNames", Attrs: map[string]string{"name": "cn"}},
		Realm:              "EXAMPLE.COM",
		KDCAddr:            "kdc.example.com",
		LocalStorePath:     filepath.Join(t.TempDir(), "healthcheck.db"),
		HelperBinaryPath:   "/bin/false",
	}

	pc, err := provider.New(opts)
	if err != nil {
		t.Fatalf("provider.New: %v", err)
	}
	defer func() { _ = pc.Shutdown() }()

	pc.Start(ctx)

	statusApp := status.New(func() status.Snapshot {
		return status.Snapshot{
			Online:             !pc.Tracker.IsOffline(),
			LastEnumRun:        pc.Scheduler.LastRun(),
			MaxUserModstamp:    pc.Scheduler.UserWatermark(),
			MaxGroupModstamp:   pc.Scheduler.GroupWatermark(),
			ActiveChildren:     pc.Auth.ActiveChildren(),
			StoreOpen:          true,
			EnumerationEnabled: opts.Enumerate,
		}
	})

	t.Run("liveness always returns 200", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health/live", http.NoBody)
		resp, err := statusApp.Test(req)
		if err != nil {
			t.Fatalf("liveness request failed: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}

		var result map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("decode: %v", err)
		}

		if result["status"] != "alive" {
			t.Errorf("expected status 'alive', got %v", result["status"])
		}
	})

	t.Run("readiness reflects enumeration progress", func(t *testing.T) {
		time.Sleep(5 * time.Second)

		req := httptest.NewRequest("GET", "/health/ready", http.NoBody)
		resp, err := statusApp.Test(req)
		if err != nil {
			t.Fatalf("readiness request failed: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("expected 200 or 503, got %d", resp.StatusCode)
		}
	})

	t.Run("debug status reports scheduler watermarks", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/debug/status", http.NoBody)
		resp, err := statusApp.Test(req)
		if err != nil {
			t.Fatalf("debug status request failed: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}

		var result map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("decode: %v", err)
		}

		if _, ok := result["active_children"]; !ok {
			t.Error("expected active_children in debug status")
		}
	})
}
