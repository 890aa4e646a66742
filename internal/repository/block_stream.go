package repository

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"torusscan/internal/models"
)

// InsertBlocks bulk-inserts canonical blocks. Re-inserting a height is safe:
// rows carry _version and the merge engine keeps the highest one.
func (r *Repository) InsertBlocks(ctx context.Context, blocks []models.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO block_stream")
	if err != nil {
		return errors.Wrap(err, "prepare block_stream batch")
	}

	for _, b := range blocks {
		txIDs := make([]string, len(b.Transactions))
		txHashes := make([]string, len(b.Transactions))
		txSigners := make([]string, len(b.Transactions))
		txModules := make([]string, len(b.Transactions))
		txFunctions := make([]string, len(b.Transactions))
		txStatuses := make([]string, len(b.Transactions))
		for i, tx := range b.Transactions {
			txIDs[i] = tx.ExtrinsicID
			txHashes[i] = tx.ExtrinsicHash
			txSigners[i] = tx.Signer
			txModules[i] = tx.CallModule
			txFunctions[i] = tx.CallFunction
			txStatuses[i] = tx.Status
		}

		evIdxs := make([]string, len(b.Events))
		evExtrinsicIDs := make([]string, len(b.Events))
		evModules := make([]string, len(b.Events))
		evIDs := make([]string, len(b.Events))
		evAttrs := make([]string, len(b.Events))
		for i, ev := range b.Events {
			evIdxs[i] = ev.EventIdx
			evExtrinsicIDs[i] = ev.ExtrinsicID
			evModules[i] = ev.ModuleID
			evIDs[i] = ev.EventID
			evAttrs[i] = string(ev.Attributes)
		}

		addresses := b.Addresses
		if addresses == nil {
			addresses = []string{}
		}

		if err := batch.Append(
			b.Height,
			b.Hash,
			b.Timestamp,
			txIDs, txHashes, txSigners, txModules, txFunctions, txStatuses,
			addresses,
			evIdxs, evExtrinsicIDs, evModules, evIDs, evAttrs,
			b.Version,
		); err != nil {
			return errors.Wrapf(err, "append block %d", b.Height)
		}
	}

	return errors.Wrap(batch.Send(), "send block_stream batch")
}

// GetBlocksByRange reads canonical blocks with heights in [from, to],
// ordered by height. With onlyWithAddresses set, blocks that touched no
// address are skipped server-side (the projections ignore them anyway).
func (r *Repository) GetBlocksByRange(ctx context.Context, from, to uint64, onlyWithAddresses bool) ([]models.Block, error) {
	query := `
		SELECT block_height, block_hash, block_timestamp,
			transactions.extrinsic_id, transactions.extrinsic_hash,
			transactions.signer, transactions.call_module,
			transactions.call_function, transactions.status,
			addresses,
			events.event_idx, events.extrinsic_id, events.module_id,
			events.event_id, events.attributes
		FROM block_stream FINAL
		WHERE block_height >= ? AND block_height <= ?`
	if onlyWithAddresses {
		query += " AND notEmpty(addresses)"
	}
	query += " ORDER BY block_height"

	rows, err := r.conn.Query(ctx, query, from, to)
	if err != nil {
		return nil, errors.Wrapf(err, "blocks [%d, %d]", from, to)
	}
	defer rows.Close()

	var blocks []models.Block
	for rows.Next() {
		var (
			b         models.Block
			txIDs     []string
			txHashes  []string
			txSigners []string
			txMods    []string
			txFns     []string
			txStats   []string
			evIdxs    []string
			evExIDs   []string
			evMods    []string
			evIDs     []string
			evAttrs   []string
		)
		if err := rows.Scan(
			&b.Height, &b.Hash, &b.Timestamp,
			&txIDs, &txHashes, &txSigners, &txMods, &txFns, &txStats,
			&b.Addresses,
			&evIdxs, &evExIDs, &evMods, &evIDs, &evAttrs,
		); err != nil {
			return nil, errors.Wrap(err, "scan block")
		}

		seenTx := make(map[string]bool, len(txIDs))
		for i := range txIDs {
			if seenTx[txIDs[i]] {
				continue
			}
			seenTx[txIDs[i]] = true
			b.Transactions = append(b.Transactions, models.Transaction{
				ExtrinsicID:   txIDs[i],
				ExtrinsicHash: txHashes[i],
				Signer:        txSigners[i],
				CallModule:    txMods[i],
				CallFunction:  txFns[i],
				Status:        txStats[i],
			})
		}

		seenEv := make(map[string]bool, len(evIdxs))
		for i := range evIdxs {
			if seenEv[evIdxs[i]] {
				continue
			}
			seenEv[evIdxs[i]] = true
			b.Events = append(b.Events, models.Event{
				EventIdx:    evIdxs[i],
				ExtrinsicID: evExIDs[i],
				ModuleID:    evMods[i],
				EventID:     evIDs[i],
				Attributes:  json.RawMessage(evAttrs[i]),
			})
		}

		b.Version = b.Height
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// LastIndexedHeightForPartition returns the highest indexed height within
// partition bounds [start, end], or (0, false) when the partition is empty.
func (r *Repository) LastIndexedHeightForPartition(ctx context.Context, start, end uint64) (uint64, bool, error) {
	var count, last uint64
	err := r.conn.QueryRow(ctx, `
		SELECT count(DISTINCT block_height), max(block_height)
		FROM block_stream
		WHERE block_height >= ? AND block_height <= ?`, start, end,
	).Scan(&count, &last)
	if err != nil {
		return 0, false, errors.Wrapf(err, "last height in [%d, %d]", start, end)
	}
	if count == 0 {
		return 0, false, nil
	}
	return last, true, nil
}

// MaxIndexedHeight returns the chain-wide high-water mark of block_stream.
func (r *Repository) MaxIndexedHeight(ctx context.Context) (uint64, error) {
	var max uint64
	err := r.conn.QueryRow(ctx, "SELECT max(block_height) FROM block_stream").Scan(&max)
	return max, errors.Wrap(err, "max indexed height")
}

// HeightRangeForTimestamps returns the min and max block heights whose
// timestamps fall in [fromTS, toTS), or ok=false when the window is empty.
func (r *Repository) HeightRangeForTimestamps(ctx context.Context, fromTS, toTS uint64) (uint64, uint64, bool, error) {
	var count, min, max uint64
	err := r.conn.QueryRow(ctx, `
		SELECT count(DISTINCT block_height), min(block_height), max(block_height)
		FROM block_stream
		WHERE block_timestamp >= ? AND block_timestamp < ?`, fromTS, toTS,
	).Scan(&count, &min, &max)
	if err != nil {
		return 0, 0, false, errors.Wrapf(err, "heights for window [%d, %d)", fromTS, toTS)
	}
	if count == 0 {
		return 0, 0, false, nil
	}
	return min, max, true, nil
}

// FirstBlockTimestamp returns the earliest block timestamp in block_stream,
// or (0, false) when the store is empty. Anchors the balance-series period
// grid on first run.
func (r *Repository) FirstBlockTimestamp(ctx context.Context) (uint64, bool, error) {
	var count, ts uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count(), min(block_timestamp) FROM block_stream",
	).Scan(&count, &ts)
	if err != nil {
		return 0, false, errors.Wrap(err, "first block timestamp")
	}
	if count == 0 {
		return 0, false, nil
	}
	return ts, true, nil
}

// BlockAtOrBeforeTimestamp returns the height and hash of the latest block
// whose timestamp is <= ts, or ok=false when no block qualifies.
func (r *Repository) BlockAtOrBeforeTimestamp(ctx context.Context, ts uint64) (uint64, string, bool, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT block_height, block_hash
		FROM block_stream FINAL
		WHERE block_timestamp <= ?
		ORDER BY block_timestamp DESC, block_height DESC
		LIMIT 1`, ts)
	if err != nil {
		return 0, "", false, errors.Wrapf(err, "block at or before %d", ts)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, "", false, rows.Err()
	}
	var (
		height uint64
		hash   string
	)
	if err := rows.Scan(&height, &hash); err != nil {
		return 0, "", false, errors.Wrap(err, "scan block pointer")
	}
	return height, hash, true, nil
}

// IndexedHeightsInRange returns the distinct indexed heights within
// [start, end] in ascending order. Used for gap detection.
func (r *Repository) IndexedHeightsInRange(ctx context.Context, start, end uint64) ([]uint64, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT DISTINCT block_height
		FROM block_stream
		WHERE block_height >= ? AND block_height <= ?
		ORDER BY block_height`, start, end)
	if err != nil {
		return nil, errors.Wrapf(err, "heights in [%d, %d]", start, end)
	}
	defer rows.Close()

	var heights []uint64
	for rows.Next() {
		var h uint64
		if err := rows.Scan(&h); err != nil {
			return nil, errors.Wrap(err, "scan height")
		}
		heights = append(heights, h)
	}
	return heights, rows.Err()
}
