package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"torusscan/internal/models"
)

// InsertAsset writes one assets row. The (network, asset_contract) key and
// last_updated version make repeated inserts collapse to the newest row.
func (r *Repository) InsertAsset(ctx context.Context, a models.Asset) error {
	batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO assets")
	if err != nil {
		return errors.Wrap(err, "prepare assets batch")
	}
	if err := batch.Append(
		a.Network,
		a.Symbol,
		a.Contract,
		a.Verified,
		a.Name,
		a.Type,
		int32(a.Decimals),
		a.FirstSeenBlock,
		a.FirstSeenTimestamp,
		a.Notes,
		a.LastUpdated,
	); err != nil {
		return errors.Wrapf(err, "append asset %s", a.Contract)
	}
	return errors.Wrap(batch.Send(), "send assets batch")
}

// GetAsset reads the merged row for one contract on this repository's
// network. The second return is false when the asset is unknown.
func (r *Repository) GetAsset(ctx context.Context, contract string) (models.Asset, bool, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT network, asset, asset_contract, asset_verified, name, type,
			decimals, first_seen_block, first_seen_timestamp, notes, last_updated
		FROM assets FINAL
		WHERE network = ? AND asset_contract = ?
		LIMIT 1`, string(r.network), contract)
	if err != nil {
		return models.Asset{}, false, errors.Wrapf(err, "asset %s", contract)
	}
	defer rows.Close()

	if !rows.Next() {
		return models.Asset{}, false, rows.Err()
	}
	var (
		a        models.Asset
		decimals int32
	)
	if err := rows.Scan(
		&a.Network, &a.Symbol, &a.Contract, &a.Verified, &a.Name, &a.Type,
		&decimals, &a.FirstSeenBlock, &a.FirstSeenTimestamp, &a.Notes, &a.LastUpdated,
	); err != nil {
		return models.Asset{}, false, errors.Wrap(err, "scan asset")
	}
	a.Decimals = int(decimals)
	return a, true, nil
}

// UpdateAssetVerification mutates the verification state of one asset row in
// place. Mutation (not insert) keeps first-seen provenance intact.
func (r *Repository) UpdateAssetVerification(ctx context.Context, contract, status, updatedBy, notes string) error {
	note := "verification set to " + status + " by " + updatedBy
	if notes != "" {
		note = notes
	}
	err := r.conn.Exec(ctx, `
		ALTER TABLE assets UPDATE
			asset_verified = ?,
			notes = ?,
			last_updated = ?
		WHERE network = ? AND asset_contract = ?`,
		status, note, uint64(time.Now().UnixMilli()), string(r.network), contract)
	return errors.Wrapf(err, "update verification of %s", contract)
}
