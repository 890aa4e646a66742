package graph

import (
	"errors"
	"testing"
)

func TestEdgeID(t *testing.T) {
	t.Parallel()

	got := EdgeID("alice", "bob", "TOR", "native")
	if got != "alice-bob-TOR-native" {
		t.Fatalf("got %q", got)
	}

	// Token transfers key on the numeric contract, keeping per-asset edges
	// between the same pair distinct.
	a := EdgeID("alice", "bob", "TOKEN_42", "42")
	b := EdgeID("alice", "bob", "TOR", "native")
	if a == b {
		t.Fatal("edges for different assets must not collide")
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("Cannot resolve conflicting transactions"), true},
		{errors.New("write tcp: broken pipe"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("SyntaxException: Invalid input"), false},
	}
	for _, tc := range cases {
		if got := isTransient(tc.err); got != tc.want {
			t.Fatalf("isTransient(%v)=%v want %v", tc.err, got, tc.want)
		}
	}
}
