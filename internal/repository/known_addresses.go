package repository

import (
	"context"

	"github.com/pkg/errors"

	"torusscan/internal/models"
)

// GetKnownAddresses reads the externally imported address labels for this
// repository's network. The graph projection applies them as node labels.
func (r *Repository) GetKnownAddresses(ctx context.Context) ([]models.KnownAddress, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT network, address, source, label
		FROM known_addresses FINAL
		WHERE network = ?
		ORDER BY address, source`, string(r.network))
	if err != nil {
		return nil, errors.Wrap(err, "known addresses")
	}
	defer rows.Close()

	var out []models.KnownAddress
	for rows.Next() {
		var ka models.KnownAddress
		if err := rows.Scan(&ka.Network, &ka.Address, &ka.Source, &ka.Label); err != nil {
			return nil, errors.Wrap(err, "scan known address")
		}
		out = append(out, ka)
	}
	return out, rows.Err()
}
