package assets

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	"torusscan/internal/models"
	"torusscan/internal/networks"
)

type fakeStore struct {
	rows        map[string]models.Asset
	getCalls    int
	insertCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]models.Asset{}}
}

func (s *fakeStore) InsertAsset(_ context.Context, a models.Asset) error {
	s.insertCalls++
	s.rows[a.Contract] = a
	return nil
}

func (s *fakeStore) GetAsset(_ context.Context, contract string) (models.Asset, bool, error) {
	s.getCalls++
	a, ok := s.rows[contract]
	return a, ok, nil
}

func (s *fakeStore) UpdateAssetVerification(_ context.Context, contract, status, _, notes string) error {
	a, ok := s.rows[contract]
	if !ok {
		return nil
	}
	a.Verified = status
	if notes != "" {
		a.Notes = notes
	}
	s.rows[contract] = a
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewManager(networks.Torus, store, log), store
}

func TestInitNativeAssets(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t)
	ctx := context.Background()

	if err := m.InitNativeAssets(ctx); err != nil {
		t.Fatalf("InitNativeAssets: %v", err)
	}
	a, ok := store.rows[networks.NativeContract]
	if !ok {
		t.Fatal("native asset not inserted")
	}
	if a.Symbol != "TOR" || a.Decimals != 18 || a.Verified != models.AssetVerified || a.Type != models.AssetTypeNative {
		t.Fatalf("native asset %+v", a)
	}

	// Second init must not insert again.
	if err := m.InitNativeAssets(ctx); err != nil {
		t.Fatalf("InitNativeAssets: %v", err)
	}
	if store.insertCalls != 1 {
		t.Fatalf("insertCalls=%d want 1", store.insertCalls)
	}
}

func TestEnsureAssetExists(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t)
	ctx := context.Background()

	created, err := m.EnsureAssetExists(ctx, "ALPHA", "42", models.AssetTypeToken, 9, 1000, 1700000000000, "", "")
	if err != nil {
		t.Fatalf("EnsureAssetExists: %v", err)
	}
	if !created {
		t.Fatal("expected creation on first sight")
	}
	a := store.rows["42"]
	if a.Verified != models.AssetUnknown {
		t.Fatalf("verified=%q want unknown", a.Verified)
	}
	if a.Name != "ALPHA" {
		t.Fatalf("name=%q, symbol should backfill empty name", a.Name)
	}

	// Cached: no further store traffic.
	gets := store.getCalls
	created, err = m.EnsureAssetExists(ctx, "ALPHA", "42", models.AssetTypeToken, 9, 2000, 1700000001000, "", "")
	if err != nil {
		t.Fatalf("EnsureAssetExists: %v", err)
	}
	if created {
		t.Fatal("asset already exists")
	}
	if store.getCalls != gets || store.insertCalls != 1 {
		t.Fatalf("cache miss: gets=%d inserts=%d", store.getCalls, store.insertCalls)
	}
}

func TestEnsureAssetExistsDBHit(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t)
	ctx := context.Background()
	store.rows["7"] = models.Asset{Network: "torus", Symbol: "BETA", Contract: "7"}

	created, err := m.EnsureAssetExists(ctx, "BETA", "7", models.AssetTypeToken, 18, 1, 1, "", "")
	if err != nil {
		t.Fatalf("EnsureAssetExists: %v", err)
	}
	if created || store.insertCalls != 0 {
		t.Fatalf("created=%v inserts=%d", created, store.insertCalls)
	}
}

func TestGetAssetInfoCaches(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t)
	ctx := context.Background()
	store.rows["native"] = models.Asset{Network: "torus", Symbol: "TOR", Contract: "native", Decimals: 18}

	a, err := m.GetAssetInfo(ctx, "native")
	if err != nil {
		t.Fatalf("GetAssetInfo: %v", err)
	}
	if a.Decimals != 18 {
		t.Fatalf("decimals=%d", a.Decimals)
	}

	gets := store.getCalls
	if _, err := m.GetAssetInfo(ctx, "native"); err != nil {
		t.Fatalf("GetAssetInfo: %v", err)
	}
	if store.getCalls != gets {
		t.Fatal("second read should come from cache")
	}
}

func TestGetAssetInfoMissing(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	if _, err := m.GetAssetInfo(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown asset")
	}
}

func TestUpdateVerification(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t)
	ctx := context.Background()
	store.rows["9"] = models.Asset{Contract: "9", Verified: models.AssetUnknown}

	// Warm the cache, then verify the update invalidates it.
	if _, err := m.GetAssetInfo(ctx, "9"); err != nil {
		t.Fatalf("GetAssetInfo: %v", err)
	}
	if err := m.UpdateVerification(ctx, "9", models.AssetMalicious, "ops", "phishing"); err != nil {
		t.Fatalf("UpdateVerification: %v", err)
	}
	a, err := m.GetAssetInfo(ctx, "9")
	if err != nil {
		t.Fatalf("GetAssetInfo: %v", err)
	}
	if a.Verified != models.AssetMalicious || a.Notes != "phishing" {
		t.Fatalf("asset %+v", a)
	}

	if err := m.UpdateVerification(ctx, "9", "bogus", "ops", ""); err == nil {
		t.Fatal("expected invalid status error")
	}
}

func TestClearCache(t *testing.T) {
	t.Parallel()

	m, store := newTestManager(t)
	ctx := context.Background()
	store.rows["native"] = models.Asset{Contract: "native"}

	if _, err := m.GetAssetInfo(ctx, "native"); err != nil {
		t.Fatalf("GetAssetInfo: %v", err)
	}
	m.ClearCache()

	gets := store.getCalls
	if _, err := m.GetAssetInfo(ctx, "native"); err != nil {
		t.Fatalf("GetAssetInfo: %v", err)
	}
	if store.getCalls != gets+1 {
		t.Fatal("cache should be empty after ClearCache")
	}
}
