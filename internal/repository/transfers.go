package repository

import (
	"context"

	"github.com/pkg/errors"

	"torusscan/internal/models"
)

// InsertTransfers bulk-inserts balance_transfers rows. Replays are safe:
// (extrinsic_id, event_idx) keys collapse to the highest _version on merge.
func (r *Repository) InsertTransfers(ctx context.Context, transfers []models.BalanceTransfer) error {
	if len(transfers) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO balance_transfers")
	if err != nil {
		return errors.Wrap(err, "prepare balance_transfers batch")
	}
	for _, t := range transfers {
		if err := batch.Append(
			t.ExtrinsicID,
			t.EventIdx,
			t.BlockHeight,
			t.BlockTimestamp,
			t.FromAddress,
			t.ToAddress,
			t.Asset,
			t.Amount,
			t.Fee,
			t.Version,
		); err != nil {
			return errors.Wrapf(err, "append transfer %s/%s", t.ExtrinsicID, t.EventIdx)
		}
	}
	return errors.Wrap(batch.Send(), "send balance_transfers batch")
}

// MaxTransferHeight is the transfers projection's progress marker.
func (r *Repository) MaxTransferHeight(ctx context.Context) (uint64, error) {
	var max uint64
	err := r.conn.QueryRow(ctx, "SELECT max(block_height) FROM balance_transfers").Scan(&max)
	return max, errors.Wrap(err, "max transfer height")
}

// GetTransfersByRange reads merged transfer rows with block heights in
// [from, to], ordered by height then event index.
func (r *Repository) GetTransfersByRange(ctx context.Context, from, to uint64) ([]models.BalanceTransfer, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT extrinsic_id, event_idx, block_height, block_timestamp,
			from_address, to_address, asset, amount, fee, _version
		FROM balance_transfers FINAL
		WHERE block_height >= ? AND block_height <= ?
		ORDER BY block_height, event_idx`, from, to)
	if err != nil {
		return nil, errors.Wrapf(err, "transfers [%d, %d]", from, to)
	}
	defer rows.Close()

	var out []models.BalanceTransfer
	for rows.Next() {
		var t models.BalanceTransfer
		if err := rows.Scan(
			&t.ExtrinsicID, &t.EventIdx, &t.BlockHeight, &t.BlockTimestamp,
			&t.FromAddress, &t.ToAddress, &t.Asset, &t.Amount, &t.Fee, &t.Version,
		); err != nil {
			return nil, errors.Wrap(err, "scan transfer")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
