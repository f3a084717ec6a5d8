package tenant

import (
	"errors"
	"strings"
	"testing"

	"github.com/Strob0t/TenantForge/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"alice", "alice"},
		{"Alice", "alice"},
		{"ali ce!", "ali-ce"},
		{"ali  ce", "ali-ce"},
		{"--bob--", "bob"},
		{"a.b_c", "a-b-c"},
		{"Jürgen", "j-rgen"},
		{"!!!", ""},
		{"", ""},
		{"user42", "user42"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"ali ce!", "ALICE", " x ", "a--b", "___", "Über Straße 12",
		strings.Repeat("ab-", 30), strings.Repeat("x", 39) + "-y",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeBoundedLength(t *testing.T) {
	got := Normalize(strings.Repeat("a", 100))
	if len(got) != MaxUsernameLength {
		t.Fatalf("expected length %d, got %d", MaxUsernameLength, len(got))
	}

	// Truncation landing on a separator must not leave a trailing '-'.
	got = Normalize(strings.Repeat("x", MaxUsernameLength-1) + " tail")
	if strings.HasSuffix(got, "-") {
		t.Fatalf("expected no trailing separator, got %q", got)
	}
}

func TestNormalizeSameTenant(t *testing.T) {
	if Normalize("Ali Ce") != Normalize("ali-ce!") {
		t.Fatal("inputs that normalize identically must map to the same tenant")
	}
}

func TestNormalizeUsernameRejectsEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "!!"} {
		_, err := NormalizeUsername(in)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("NormalizeUsername(%q): expected ErrValidation, got %v", in, err)
		}
	}
}

func TestParseBackendKind(t *testing.T) {
	if k, err := ParseBackendKind("compose"); err != nil || k != BackendCompose {
		t.Fatalf("expected compose, got %q (%v)", k, err)
	}
	if k, err := ParseBackendKind("kubernetes"); err != nil || k != BackendKubernetes {
		t.Fatalf("expected kubernetes, got %q (%v)", k, err)
	}
	if _, err := ParseBackendKind("nomad"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestStatusPredicates(t *testing.T) {
	tn := Tenant{Status: StatusActive}
	if !tn.Toggleable() || !tn.Updatable() {
		t.Fatal("active tenant must be toggleable and updatable")
	}
	tn.Status = StatusFailed
	if tn.Toggleable() {
		t.Fatal("failed tenant must not be toggleable")
	}
	if !tn.Updatable() {
		t.Fatal("failed tenant must be updatable")
	}
	tn.Status = StatusProvisioning
	if tn.Updatable() {
		t.Fatal("provisioning tenant must not be updatable")
	}
	if Status("bogus").Valid() {
		t.Fatal("unknown status must not be valid")
	}
}
