package assets

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"torusscan/internal/models"
	"torusscan/internal/networks"
)

// Store is the asset dictionary persistence the manager sits in front of.
// *repository.Repository implements it.
type Store interface {
	InsertAsset(ctx context.Context, a models.Asset) error
	GetAsset(ctx context.Context, contract string) (models.Asset, bool, error)
	UpdateAssetVerification(ctx context.Context, contract, status, updatedBy, notes string) error
}

// Manager guards the referential integrity of every projection's asset
// column: no row may reference a contract absent from the assets dictionary.
// Lookups go through an in-memory cache; misses fall back to the store.
type Manager struct {
	network networks.Network
	store   Store
	cache   *gocache.Cache
	log     *logrus.Entry
}

func NewManager(network networks.Network, store Store, log *logrus.Logger) *Manager {
	return &Manager{
		network: network,
		store:   store,
		cache:   gocache.New(gocache.NoExpiration, 10*time.Minute),
		log:     log.WithField("component", "assets"),
	}
}

func (m *Manager) cacheKey(contract string) string {
	return string(m.network) + ":" + contract
}

// InitNativeAssets inserts the network's native asset row. Idempotent: the
// row is keyed by (network, "native") and merge-collapses on re-insert.
func (m *Manager) InitNativeAssets(ctx context.Context) error {
	params := networks.MustParams(m.network)

	if _, ok, err := m.store.GetAsset(ctx, networks.NativeContract); err != nil {
		return errors.Wrap(err, "check native asset")
	} else if ok {
		return nil
	}

	asset := models.Asset{
		Network:     string(m.network),
		Symbol:      params.NativeSymbol,
		Contract:    networks.NativeContract,
		Verified:    models.AssetVerified,
		Name:        params.NativeSymbol,
		Type:        models.AssetTypeNative,
		Decimals:    params.NativeDecimals,
		LastUpdated: uint64(time.Now().UnixMilli()),
	}
	if err := m.store.InsertAsset(ctx, asset); err != nil {
		return errors.Wrap(err, "insert native asset")
	}
	m.cache.Set(m.cacheKey(networks.NativeContract), asset, gocache.NoExpiration)
	m.log.WithField("symbol", params.NativeSymbol).Info("native asset initialized")
	return nil
}

// EnsureAssetExists guarantees an assets row for the contract before any
// projection row referencing it is written. Returns true when a new row was
// created. Failures are fatal to the caller.
func (m *Manager) EnsureAssetExists(ctx context.Context, symbol, contract, assetType string, decimals int, seenBlock, seenTS uint64, name, notes string) (bool, error) {
	key := m.cacheKey(contract)
	if _, ok := m.cache.Get(key); ok {
		return false, nil
	}

	if existing, ok, err := m.store.GetAsset(ctx, contract); err != nil {
		return false, errors.Wrapf(err, "look up asset %s", contract)
	} else if ok {
		m.cache.Set(key, existing, gocache.NoExpiration)
		return false, nil
	}

	if name == "" {
		name = symbol
	}
	asset := models.Asset{
		Network:            string(m.network),
		Symbol:             symbol,
		Contract:           contract,
		Verified:           models.AssetUnknown,
		Name:               name,
		Type:               assetType,
		Decimals:           decimals,
		FirstSeenBlock:     seenBlock,
		FirstSeenTimestamp: seenTS,
		Notes:              notes,
		LastUpdated:        uint64(time.Now().UnixMilli()),
	}
	if err := m.store.InsertAsset(ctx, asset); err != nil {
		return false, errors.Wrapf(err, "insert asset %s", contract)
	}
	m.cache.Set(key, asset, gocache.NoExpiration)
	m.log.WithFields(logrus.Fields{
		"symbol":   symbol,
		"contract": contract,
		"block":    seenBlock,
	}).Info("new asset registered")
	return true, nil
}

// GetAssetInfo reads one asset row, serving from cache when possible.
func (m *Manager) GetAssetInfo(ctx context.Context, contract string) (models.Asset, error) {
	key := m.cacheKey(contract)
	if v, ok := m.cache.Get(key); ok {
		return v.(models.Asset), nil
	}
	asset, ok, err := m.store.GetAsset(ctx, contract)
	if err != nil {
		return models.Asset{}, errors.Wrapf(err, "asset %s", contract)
	}
	if !ok {
		return models.Asset{}, errors.Errorf("asset %s not found", contract)
	}
	m.cache.Set(key, asset, gocache.NoExpiration)
	return asset, nil
}

// UpdateVerification changes an asset's verification state and drops the
// stale cache entry.
func (m *Manager) UpdateVerification(ctx context.Context, contract, status, updatedBy, notes string) error {
	switch status {
	case models.AssetVerified, models.AssetUnknown, models.AssetMalicious:
	default:
		return errors.Errorf("invalid verification status %q", status)
	}
	if err := m.store.UpdateAssetVerification(ctx, contract, status, updatedBy, notes); err != nil {
		return err
	}
	m.cache.Delete(m.cacheKey(contract))
	return nil
}

// ClearCache drops every cached asset. The next lookup per contract hits the
// store again.
func (m *Manager) ClearCache() {
	m.cache.Flush()
}
