package repository

import (
	"context"

	"github.com/pkg/errors"

	"torusscan/internal/models"
)

// InsertSnapshots bulk-inserts balance_series rows. Keyed by
// (period_start_timestamp, address, asset); _version is wall-clock so a
// corrected re-run of a period wins on merge.
func (r *Repository) InsertSnapshots(ctx context.Context, snapshots []models.BalanceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO balance_series")
	if err != nil {
		return errors.Wrap(err, "prepare balance_series batch")
	}
	for _, s := range snapshots {
		if err := batch.Append(
			s.PeriodStart,
			s.PeriodEnd,
			s.BlockHeight,
			s.Address,
			s.Asset,
			s.Free,
			s.Reserved,
			s.Staked,
			s.Total,
			s.FreeDelta,
			s.ReservedDelta,
			s.StakedDelta,
			s.TotalDelta,
			s.TotalPctChange,
			s.Version,
		); err != nil {
			return errors.Wrapf(err, "append snapshot %s@%d", s.Address, s.PeriodStart)
		}
	}
	return errors.Wrap(batch.Send(), "send balance_series batch")
}

// LatestPeriodEnd returns the series projection's progress marker: the
// highest period_end_timestamp written, or (0, false) on an empty table.
func (r *Repository) LatestPeriodEnd(ctx context.Context) (uint64, bool, error) {
	var count, latest uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count(), max(period_end_timestamp) FROM balance_series",
	).Scan(&count, &latest)
	if err != nil {
		return 0, false, errors.Wrap(err, "latest period end")
	}
	if count == 0 {
		return 0, false, nil
	}
	return latest, true, nil
}

// HasSnapshots reports whether any balance_series row exists. Gates the
// one-shot genesis seeding.
func (r *Repository) HasSnapshots(ctx context.Context) (bool, error) {
	var count uint64
	err := r.conn.QueryRow(ctx, "SELECT count() FROM balance_series").Scan(&count)
	return count > 0, errors.Wrap(err, "count balance_series")
}

// PreviousSnapshot returns the latest merged snapshot for (address, asset)
// strictly before the given period start, or (zero, false) when none exists.
func (r *Repository) PreviousSnapshot(ctx context.Context, address, asset string, beforePeriodStart uint64) (models.BalanceSnapshot, bool, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT period_start_timestamp, period_end_timestamp, block_height,
			address, asset, free_balance, reserved_balance, staked_balance,
			total_balance, _version
		FROM balance_series FINAL
		WHERE address = ? AND asset = ? AND period_start_timestamp < ?
		ORDER BY period_start_timestamp DESC
		LIMIT 1`, address, asset, beforePeriodStart)
	if err != nil {
		return models.BalanceSnapshot{}, false, errors.Wrapf(err, "previous snapshot for %s", address)
	}
	defer rows.Close()

	if !rows.Next() {
		return models.BalanceSnapshot{}, false, rows.Err()
	}
	var s models.BalanceSnapshot
	if err := rows.Scan(
		&s.PeriodStart, &s.PeriodEnd, &s.BlockHeight,
		&s.Address, &s.Asset, &s.Free, &s.Reserved, &s.Staked,
		&s.Total, &s.Version,
	); err != nil {
		return models.BalanceSnapshot{}, false, errors.Wrap(err, "scan snapshot")
	}
	return s, true, nil
}
