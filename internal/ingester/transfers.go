package ingester

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"torusscan/internal/assets"
	"torusscan/internal/metrics"
	"torusscan/internal/models"
	"torusscan/internal/networks"
)

// BalanceTransfersIndexer projects canonical blocks into balance_transfers
// rows. It reads block_stream only, never the node, so it can be replayed
// against an existing canonical store at any time.
type BalanceTransfersIndexer struct {
	network  networks.Network
	params   networks.Params
	repo     transferStore
	assets   *assets.Manager
	strategy transferStrategy
	log      *logrus.Entry

	batchSize   uint64
	sleepTime   time.Duration
	startHeight uint64
	endHeight   uint64 // 0 means follow the canonical head
}

type TransfersConfig struct {
	BatchSize   int
	SleepTime   time.Duration
	StartHeight uint64
	EndHeight   uint64
}

func NewBalanceTransfersIndexer(network networks.Network, repo transferStore, am *assets.Manager, cfg TransfersConfig, log *logrus.Logger) *BalanceTransfersIndexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.SleepTime <= 0 {
		cfg.SleepTime = 6 * time.Second
	}
	return &BalanceTransfersIndexer{
		network:     network,
		params:      networks.MustParams(network),
		repo:        repo,
		assets:      am,
		strategy:    transferStrategyFor(network),
		log:         log.WithField("component", "balance_transfers"),
		batchSize:   uint64(cfg.BatchSize),
		sleepTime:   cfg.SleepTime,
		startHeight: cfg.StartHeight,
		endHeight:   cfg.EndHeight,
	}
}

// Run consumes block_stream from the projection's high-water mark, batch by
// batch, until the context is cancelled (or endHeight is reached when set).
func (ix *BalanceTransfersIndexer) Run(ctx context.Context) error {
	if err := ix.assets.InitNativeAssets(ctx); err != nil {
		return errors.Wrap(err, "init native assets")
	}

	next := ix.startHeight
	if marker, err := ix.repo.MaxTransferHeight(ctx); err != nil {
		return errors.Wrap(err, "read progress marker")
	} else if marker >= next && marker > 0 {
		next = marker + 1
	}
	ix.log.WithField("from", next).Info("balance transfers indexer started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		head, err := ix.repo.MaxIndexedHeight(ctx)
		if err != nil {
			return errors.Wrap(err, "canonical head")
		}
		limit := head
		if ix.endHeight > 0 && ix.endHeight < limit {
			limit = ix.endHeight
		}
		if next > limit {
			if ix.endHeight > 0 && next > ix.endHeight {
				ix.log.WithField("end", ix.endHeight).Info("reached end height, stopping")
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ix.sleepTime):
			}
			continue
		}

		to := next + ix.batchSize - 1
		if to > limit {
			to = limit
		}
		if err := ix.processRange(ctx, next, to); err != nil {
			ix.log.WithError(err).WithFields(logrus.Fields{"from": next, "to": to}).Error("batch failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ix.sleepTime):
			}
			continue
		}
		next = to + 1
	}
}

func (ix *BalanceTransfersIndexer) processRange(ctx context.Context, from, to uint64) error {
	blocks, err := ix.repo.GetBlocksByRange(ctx, from, to, true)
	if err != nil {
		return err
	}

	var rows []models.BalanceTransfer
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		blockRows, err := ix.extractBlock(ctx, b)
		if err != nil {
			return errors.Wrapf(err, "block %d", b.Height)
		}
		rows = append(rows, blockRows...)
	}

	if err := ix.repo.InsertTransfers(ctx, rows); err != nil {
		return err
	}
	if len(rows) > 0 {
		metrics.ProjectionRows.WithLabelValues(string(ix.network), "balance_transfers").Add(float64(len(rows)))
		ix.log.WithFields(logrus.Fields{"from": from, "to": to, "rows": len(rows)}).Info("transfers written")
	}
	metrics.LastIndexedHeight.WithLabelValues(string(ix.network), "balance_transfers").Set(float64(to))
	return nil
}

// extractBlock resolves token decimals through the asset manager, then runs
// the pure extraction.
func (ix *BalanceTransfersIndexer) extractBlock(ctx context.Context, b models.Block) ([]models.BalanceTransfer, error) {
	for _, ev := range b.Events {
		if ev.FullName() != "Assets.Transferred" {
			continue
		}
		attrs := decodeAttrs(ev)
		assetID, ok := attrs.integer("asset_id")
		if !ok {
			continue
		}
		contract := decimal.NewFromInt(assetID).String()
		if _, err := ix.assets.EnsureAssetExists(ctx, tokenSymbol(assetID), contract, models.AssetTypeToken, 18, b.Height, b.Timestamp, "", ""); err != nil {
			return nil, err
		}
	}

	return ExtractTransfers(b, ix.strategy, ix.params.NativeSymbol, ix.params.NativeDecimals, func(contract string) int {
		a, err := ix.assets.GetAssetInfo(ctx, contract)
		if err != nil {
			return 18
		}
		return a.Decimals
	}), nil
}

// ExtractTransfers derives the balance_transfers rows of one canonical
// block. Events are grouped per extrinsic; a group containing a failed
// extrinsic emits nothing. Fees attach only to explicit Balances.Transfer
// rows, from the same extrinsic's first TransactionFeePaid whose payer is
// the transfer's sender.
func ExtractTransfers(b models.Block, strat transferStrategy, nativeSymbol string, nativeDecimals int, tokenDecimals func(contract string) int) []models.BalanceTransfer {
	var rows []models.BalanceTransfer
	order, groups := groupEventsByExtrinsic(b.Events)

	for _, extrinsicID := range order {
		group := groups[extrinsicID]
		if groupHasFailure(group) {
			continue
		}

		for _, ev := range group {
			attrs := decodeAttrs(ev)

			switch ev.FullName() {
			case "Balances.Transfer":
				from := attrs.str("from")
				to := attrs.str("to")
				amount, ok := attrs.amount("amount")
				if from == "" || to == "" || !ok {
					continue
				}
				rows = append(rows, models.BalanceTransfer{
					ExtrinsicID:    extrinsicID,
					EventIdx:       ev.EventIdx,
					BlockHeight:    b.Height,
					BlockTimestamp: b.Timestamp,
					FromAddress:    from,
					ToAddress:      to,
					Asset:          nativeSymbol,
					Amount:         scaleAmount(amount, nativeDecimals),
					Fee:            scaleAmount(feeFor(group, from), nativeDecimals),
					Version:        b.Height,
				})

			case "Assets.Transferred":
				from := attrs.str("from")
				to := attrs.str("to")
				assetID, idOK := attrs.integer("asset_id")
				amount, ok := attrs.amount("amount")
				if from == "" || to == "" || !idOK || !ok {
					continue
				}
				contract := decimal.NewFromInt(assetID).String()
				rows = append(rows, models.BalanceTransfer{
					ExtrinsicID:    extrinsicID,
					EventIdx:       ev.EventIdx,
					BlockHeight:    b.Height,
					BlockTimestamp: b.Timestamp,
					FromAddress:    from,
					ToAddress:      to,
					Asset:          tokenSymbol(assetID),
					Amount:         scaleAmount(amount, tokenDecimals(contract)),
					Fee:            decimal.Zero,
					Version:        b.Height,
				})

			default:
				for _, p := range strat.Extract(ev, attrs) {
					rows = append(rows, models.BalanceTransfer{
						ExtrinsicID:    extrinsicID,
						EventIdx:       ev.EventIdx,
						BlockHeight:    b.Height,
						BlockTimestamp: b.Timestamp,
						FromAddress:    p.From,
						ToAddress:      p.To,
						Asset:          nativeSymbol,
						Amount:         scaleAmount(p.Amount, nativeDecimals),
						Fee:            decimal.Zero,
						Version:        b.Height,
					})
				}
			}
		}
	}
	return rows
}

// ReplayTransfers re-derives balance_transfers rows for [from, to] out of
// the canonical store. Because rows keep _version = block height, a replay
// of already-projected heights merge-collapses to the existing state.
func ReplayTransfers(ctx context.Context, network networks.Network, repo transferStore, am *assets.Manager, from, to uint64, batchSize int, log *logrus.Logger) error {
	ix := NewBalanceTransfersIndexer(network, repo, am, TransfersConfig{BatchSize: batchSize}, log)
	for start := from; start <= to; start += ix.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + ix.batchSize - 1
		if end > to {
			end = to
		}
		if err := ix.processRange(ctx, start, end); err != nil {
			return errors.Wrapf(err, "replay [%d, %d]", start, end)
		}
	}
	return nil
}

// feeFor scans an extrinsic group's TransactionFeePaid events and returns
// the raw fee of the first one paid by the sender, zero when none matches.
func feeFor(group []models.Event, from string) decimal.Decimal {
	for _, ev := range group {
		if ev.ModuleID != "TransactionPayment" || ev.EventID != "TransactionFeePaid" {
			continue
		}
		attrs := decodeAttrs(ev)
		if attrs.str("who") != from {
			continue
		}
		if fee, ok := attrs.amount("actual_fee", "fee", "amount"); ok {
			return fee
		}
	}
	return decimal.Zero
}
