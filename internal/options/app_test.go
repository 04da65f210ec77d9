package options

import (
	"testing"
	"time"
)

func TestParseTLSPolicy(t *testing.T) {
	cases := []struct {
		in      string
		want    TLSPolicy
		wantErr bool
	}{
		{"never", TLSPolicyNever, false},
		{"allow", TLSPolicyAllow, false},
		{"try", TLSPolicyTry, false},
		{"demand", TLSPolicyDemand, false},
		{"hard", TLSPolicyHard, false},
		{"bogus", 0, true},
		{"", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseTLSPolicy(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseTLSPolicy(%q): expected error, got nil", tc.in)
			}

			continue
		}

		if err != nil {
			t.Errorf("ParseTLSPolicy(%q): unexpected error: %v", tc.in, err)
		}

		if got != tc.want {
			t.Errorf("ParseTLSPolicy(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTLSPolicyString(t *testing.T) {
	if TLSPolicyDemand.String() != "demand" {
		t.Errorf("expected \"demand\", got %q", TLSPolicyDemand.String())
	}

	if TLSPolicy(99).String() != "unknown" {
		t.Errorf("expected \"unknown\" for an out-of-range policy")
	}
}

func TestEnvAttrMapOrDefault(t *testing.T) {
	t.Setenv("TEST_ATTR_MAP", "name=uid,modstamp=modifyTimestamp")

	got, err := envAttrMapOrDefault("TEST_ATTR_MAP", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got["name"] != "uid" || got["modstamp"] != "modifyTimestamp" {
		t.Errorf("unexpected attribute map: %#v", got)
	}
}

func TestEnvAttrMapOrDefault_Malformed(t *testing.T) {
	t.Setenv("TEST_ATTR_MAP_BAD", "name-uid")

	if _, err := envAttrMapOrDefault("TEST_ATTR_MAP_BAD", ""); err == nil {
		t.Error("expected an error for a malformed attribute map entry")
	}
}

func TestEnvAttrMapOrDefault_Empty(t *testing.T) {
	got, err := envAttrMapOrDefault("TEST_ATTR_MAP_UNSET", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 0 {
		t.Errorf("expected an empty map, got %#v", got)
	}
}

func TestNormalizeChangePwPrincipal(t *testing.T) {
	cases := []struct {
		principal, realm, want string
	}{
		{"", "EXAMPLE.COM", "kadmin/changepw@EXAMPLE.COM"},
		{"kadmin/changepw", "EXAMPLE.COM", "kadmin/changepw@EXAMPLE.COM"},
		{"kadmin/changepw@OTHER.COM", "EXAMPLE.COM", "kadmin/changepw@OTHER.COM"},
		{"", "", "kadmin/changepw"},
	}

	for _, tc := range cases {
		if got := normalizeChangePwPrincipal(tc.principal, tc.realm); got != tc.want {
			t.Errorf("normalizeChangePwPrincipal(%q, %q) = %q, want %q", tc.principal, tc.realm, got, tc.want)
		}
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := ValidationError{Field: "base-dn", Message: "this option is required"}

	want := "configuration error for base-dn: this option is required"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestEnvDurationOrDefault(t *testing.T) {
	t.Setenv("TEST_DURATION", "30s")

	got, err := envDurationOrDefault("TEST_DURATION", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != 30*time.Second {
		t.Errorf("got %v, want 30s", got)
	}
}

func TestEnvDurationOrDefault_Fallback(t *testing.T) {
	got, err := envDurationOrDefault("TEST_DURATION_UNSET", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != 5*time.Second {
		t.Errorf("got %v, want 5s", got)
	}
}

func TestEnvDurationOrDefault_Malformed(t *testing.T) {
	t.Setenv("TEST_DURATION_BAD", "not-a-duration")

	if _, err := envDurationOrDefault("TEST_DURATION_BAD", time.Second); err == nil {
		t.Error("expected an error for a malformed duration")
	}
}
