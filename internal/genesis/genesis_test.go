package genesis

import (
	"os"
	"path/filepath"
	"testing"
)

func writeGenesis(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write genesis file: %v", err)
	}
	return path
}

func TestLoadAllocations(t *testing.T) {
	t.Parallel()

	path := writeGenesis(t, `[
		["5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY", "1000000000000000000"],
		["5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty", 500]
	]`)

	allocs, err := LoadAllocations(path)
	if err != nil {
		t.Fatalf("LoadAllocations: %v", err)
	}
	if len(allocs) != 2 {
		t.Fatalf("allocations=%d want 2", len(allocs))
	}
	if allocs[0].Amount.String() != "1000000000000000000" {
		t.Fatalf("amount=%s", allocs[0].Amount)
	}
	if allocs[1].Address != "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty" || allocs[1].Amount.String() != "500" {
		t.Fatalf("entry %+v", allocs[1])
	}
}

func TestLoadAllocationsRejectsNegative(t *testing.T) {
	t.Parallel()

	path := writeGenesis(t, `[["addr", "-5"]]`)
	if _, err := LoadAllocations(path); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestLoadAllocationsMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadAllocations(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
