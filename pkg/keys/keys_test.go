package keys

import (
	"strings"
	"testing"
)

func TestGenerateFormat(t *testing.T) {
	seen := map[LicenseKey]bool{}
	for i := 0; i < 100; i++ {
		key := Generate()
		if len(key) != 29 {
			t.Fatalf("expected 29 char key, got %d (%q)", len(key), key)
		}
		groups := strings.Split(key.String(), "-")
		if len(groups) != 5 {
			t.Fatalf("expected 5 groups, got %d (%q)", len(groups), key)
		}
		for _, group := range groups {
			if len(group) != 5 {
				t.Fatalf("expected 5 char group, got %q in %q", group, key)
			}
			for _, ch := range group {
				if !strings.ContainsRune(alphabet, ch) {
					t.Fatalf("character %q outside alphabet in %q", ch, key)
				}
			}
		}
		if seen[key] {
			t.Fatalf("duplicate key generated: %q", key)
		}
		seen[key] = true
	}
}

func TestGenerateRoundTripsThroughParse(t *testing.T) {
	key := Generate()
	parsed, err := Parse(key.String())
	if err != nil {
		t.Fatalf("generated key failed validation: %v", err)
	}
	if parsed != key {
		t.Fatalf("expected %q, got %q", key, parsed)
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := Parse("   "); err == nil {
		t.Fatal("expected error for blank key")
	}
}

func TestParseEnforcesLengthBounds(t *testing.T) {
	if _, err := Parse(strings.Repeat("A", MinLength-1)); err == nil {
		t.Fatalf("expected error for %d char key", MinLength-1)
	}
	if _, err := Parse(strings.Repeat("A", MaxLength+1)); err == nil {
		t.Fatalf("expected error for %d char key", MaxLength+1)
	}
	if _, err := Parse(strings.Repeat("A", MinLength)); err != nil {
		t.Fatalf("unexpected error at lower bound: %v", err)
	}
	if _, err := Parse(strings.Repeat("A", MaxLength)); err != nil {
		t.Fatalf("unexpected error at upper bound: %v", err)
	}
}

func TestParseTrimsWhitespace(t *testing.T) {
	key, err := Parse("  ABCDE-ABCDE-ABCDE-ABCDE-ABCDE  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "ABCDE-ABCDE-ABCDE-ABCDE-ABCDE" {
		t.Fatalf("expected trimmed key, got %q", key)
	}
}
