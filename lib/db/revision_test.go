package db

import "testing"

func TestNextRev(t *testing.T) {
	first := NextRev("", []byte("a"))
	if RevGeneration(first) != 1 {
		t.Fatalf("expected generation 1, got %d (%s)", RevGeneration(first), first)
	}
	if !ValidRev(first) {
		t.Fatalf("NextRev produced invalid revision %q", first)
	}

	second := NextRev(first, []byte("a"))
	if RevGeneration(second) != 2 {
		t.Errorf("expected generation 2, got %d", RevGeneration(second))
	}
	if second == first {
		t.Error("consecutive revisions must differ")
	}

	// same generation, different values
	if NextRev(first, []byte("x")) == NextRev(first, []byte("y")) {
		t.Error("different values must produce different revisions")
	}
	// deterministic
	if NextRev(first, []byte("x")) != NextRev(first, []byte("x")) {
		t.Error("NextRev must be deterministic")
	}
}

func TestValidRev(t *testing.T) {
	tests := []struct {
		rev  string
		want bool
	}{
		{"1-abc", true},
		{"42-0", true},
		{"", false},
		{"1", false},
		{"1-", false},
		{"x-abc", false},
		{"1-xyz", false},
	}
	for _, tt := range tests {
		if got := ValidRev(tt.rev); got != tt.want {
			t.Errorf("ValidRev(%q) = %v, want %v", tt.rev, got, tt.want)
		}
	}
}

func TestRevGeneration(t *testing.T) {
	tests := map[string]uint64{"": 0, "bad": 0, "7-ff": 7, "x-ff": 0}
	for rev, want := range tests {
		if got := RevGeneration(rev); got != want {
			t.Errorf("RevGeneration(%q) = %d, want %d", rev, got, want)
		}
	}
}
