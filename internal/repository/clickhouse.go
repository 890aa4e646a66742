package repository

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"torusscan/internal/config"
	"torusscan/internal/networks"
)

// Repository is the ClickHouse store behind the canonical block stream and
// all tabular projections. One Repository serves one network's database.
type Repository struct {
	conn    driver.Conn
	network networks.Network
	log     *logrus.Entry
}

// NewRepository opens a native-protocol connection and verifies it with a
// ping. The caller owns Close.
func NewRepository(ctx context.Context, network networks.Network, cfg config.ClickHouse, log *logrus.Logger) (*Repository, error) {
	settings := clickhouse.Settings{
		"max_execution_time": cfg.MaxExecutionTime,
	}
	if cfg.MaxQuerySize > 0 {
		settings["max_query_size"] = cfg.MaxQuerySize
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings:    settings,
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, errors.Wrap(err, "open clickhouse")
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, errors.Wrapf(err, "ping clickhouse at %s", cfg.Addr())
	}

	return &Repository{
		conn:    conn,
		network: network,
		log:     log.WithField("component", "repository"),
	}, nil
}

func (r *Repository) Close() error {
	return r.conn.Close()
}

// EnsureSchema creates every table the indexers write or read. All writer
// tables are ReplacingMergeTree so replayed rows collapse to the highest
// version on merge; reads that need exact rows use FINAL.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS block_stream (
			block_height UInt64,
			block_hash String,
			block_timestamp UInt64,
			transactions Nested(
				extrinsic_id String,
				extrinsic_hash String,
				signer String,
				call_module String,
				call_function String,
				status String
			),
			addresses Array(String),
			events Nested(
				event_idx String,
				extrinsic_id String,
				module_id String,
				event_id String,
				attributes String
			),
			_version UInt64
		) ENGINE = ReplacingMergeTree(_version)
		ORDER BY block_height`,

		`CREATE TABLE IF NOT EXISTS assets (
			network String,
			asset String,
			asset_contract String,
			asset_verified String,
			name String,
			type String,
			decimals Int32,
			first_seen_block UInt64,
			first_seen_timestamp UInt64,
			notes String,
			last_updated UInt64
		) ENGINE = ReplacingMergeTree(last_updated)
		ORDER BY (network, asset_contract)`,

		`CREATE TABLE IF NOT EXISTS balance_transfers (
			extrinsic_id String,
			event_idx String,
			block_height UInt64,
			block_timestamp UInt64,
			from_address String,
			to_address String,
			asset String,
			amount Decimal128(18),
			fee Decimal128(18),
			_version UInt64
		) ENGINE = ReplacingMergeTree(_version)
		ORDER BY (extrinsic_id, event_idx)`,

		`CREATE TABLE IF NOT EXISTS balance_series (
			period_start_timestamp UInt64,
			period_end_timestamp UInt64,
			block_height UInt64,
			address String,
			asset String,
			free_balance Decimal128(18),
			reserved_balance Decimal128(18),
			staked_balance Decimal128(18),
			total_balance Decimal128(18),
			free_balance_change Nullable(Decimal128(18)),
			reserved_balance_change Nullable(Decimal128(18)),
			staked_balance_change Nullable(Decimal128(18)),
			total_balance_change Nullable(Decimal128(18)),
			total_balance_percent_change Nullable(Decimal128(18)),
			_version UInt64
		) ENGINE = ReplacingMergeTree(_version)
		ORDER BY (period_start_timestamp, address, asset)`,

		`CREATE TABLE IF NOT EXISTS known_addresses (
			network String,
			address String,
			source String,
			label String,
			last_updated UInt64
		) ENGINE = ReplacingMergeTree(last_updated)
		ORDER BY (network, address, source)`,
	}

	for _, stmt := range ddl {
		if err := r.conn.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "ensure schema")
		}
	}
	return nil
}
