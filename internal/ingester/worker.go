package ingester

import (
	"context"

	"torusscan/internal/graph"
	"torusscan/internal/models"
	"torusscan/internal/substrate"
)

// Each worker names only the store and node operations it consumes, so the
// real ClickHouse, graph and node clients plug in at wiring time and tests
// plug in in-memory fakes.

// chainSource is the node surface the block-stream worker reads.
type chainSource interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	BlocksByRange(ctx context.Context, lo, hi uint64) ([]models.Block, error)
}

// blockWriter is the canonical-store surface the block-stream worker writes.
type blockWriter interface {
	MaxIndexedHeight(ctx context.Context) (uint64, error)
	IndexedHeightsInRange(ctx context.Context, start, end uint64) ([]uint64, error)
	InsertBlocks(ctx context.Context, blocks []models.Block) error
}

// blockReader is the canonical-store surface the projection workers read.
type blockReader interface {
	MaxIndexedHeight(ctx context.Context) (uint64, error)
	GetBlocksByRange(ctx context.Context, from, to uint64, onlyWithAddresses bool) ([]models.Block, error)
}

// transferStore is the store surface of the balance-transfers worker.
type transferStore interface {
	blockReader
	MaxTransferHeight(ctx context.Context) (uint64, error)
	InsertTransfers(ctx context.Context, transfers []models.BalanceTransfer) error
}

// seriesStore is the store surface of the balance-series worker.
type seriesStore interface {
	LatestPeriodEnd(ctx context.Context) (uint64, bool, error)
	HasSnapshots(ctx context.Context) (bool, error)
	FirstBlockTimestamp(ctx context.Context) (uint64, bool, error)
	BlockAtOrBeforeTimestamp(ctx context.Context, ts uint64) (uint64, string, bool, error)
	HeightRangeForTimestamps(ctx context.Context, fromTS, toTS uint64) (uint64, uint64, bool, error)
	GetBlocksByRange(ctx context.Context, from, to uint64, onlyWithAddresses bool) ([]models.Block, error)
	PreviousSnapshot(ctx context.Context, address, asset string, beforePeriodStart uint64) (models.BalanceSnapshot, bool, error)
	InsertSnapshots(ctx context.Context, snapshots []models.BalanceSnapshot) error
}

// balanceSource is the node surface the balance-series worker samples
// balances from.
type balanceSource interface {
	BalancesAt(ctx context.Context, blockHash, address string) (substrate.Balances, error)
	TokenDecimals() int
}

// flowStore is the store surface of the money-flow worker.
type flowStore interface {
	blockReader
	GetKnownAddresses(ctx context.Context) ([]models.KnownAddress, error)
}

// flowGraph is the graph surface of the money-flow worker. ApplyBlock runs
// the height marker and the block's mutations in one transaction.
type flowGraph interface {
	EnsureIndexes(ctx context.Context) error
	LastProcessedHeight(ctx context.Context) (uint64, bool, error)
	ApplyBlock(ctx context.Context, height uint64, fn func(graph.Mutator) error) error
	RunAnalytics(ctx context.Context) error
	ApplyKnownAddressLabels(ctx context.Context, labels map[string][]string) error
}
