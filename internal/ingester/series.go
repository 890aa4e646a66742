package ingester

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"torusscan/internal/genesis"
	"torusscan/internal/metrics"
	"torusscan/internal/models"
	"torusscan/internal/networks"
)

// defaultPeriodHours is the balance-series sampling interval.
const defaultPeriodHours = 4

// ErrNegativeBalance marks a chain-reported balance component below zero.
// A negative component means the storage decode is wrong, so the period is
// not written.
var ErrNegativeBalance = errors.New("negative balance component")

// BalanceSeriesIndexer samples per-address balances at fixed period
// boundaries. Affected addresses come from block_stream; the balances
// themselves are read from chain state at the period-end block.
type BalanceSeriesIndexer struct {
	network networks.Network
	params  networks.Params
	client  balanceSource
	repo    seriesStore
	log     *logrus.Entry

	periodMs    uint64
	sleepTime   time.Duration
	genesisFile string

	// lastProcessed is the newest period boundary handled by this process.
	// Quiet periods write no rows, so MAX(period_end) alone cannot advance
	// past them.
	lastProcessed uint64
}

type SeriesConfig struct {
	PeriodHours int
	SleepTime   time.Duration
	GenesisFile string
}

func NewBalanceSeriesIndexer(network networks.Network, client balanceSource, repo seriesStore, cfg SeriesConfig, log *logrus.Logger) *BalanceSeriesIndexer {
	if cfg.PeriodHours <= 0 {
		cfg.PeriodHours = defaultPeriodHours
	}
	if cfg.SleepTime <= 0 {
		cfg.SleepTime = 30 * time.Second
	}
	return &BalanceSeriesIndexer{
		network:     network,
		params:      networks.MustParams(network),
		client:      client,
		repo:        repo,
		log:         log.WithField("component", "balance_series"),
		periodMs:    uint64(cfg.PeriodHours) * 3600 * 1000,
		sleepTime:   cfg.SleepTime,
		genesisFile: cfg.GenesisFile,
	}
}

// alignPeriod floors a millisecond timestamp to its epoch-aligned period
// start.
func alignPeriod(tsMs, periodMs uint64) uint64 {
	return tsMs - tsMs%periodMs
}

// Run seeds genesis balances when applicable, then processes completed
// periods one by one, sleeping until the next boundary when caught up.
func (ix *BalanceSeriesIndexer) Run(ctx context.Context) error {
	if err := ix.seedGenesis(ctx); err != nil {
		return errors.Wrap(err, "genesis seeding")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		periodEnd, ok, err := ix.nextPeriodEnd(ctx)
		if err != nil {
			return err
		}
		if !ok {
			// Nothing in block_stream yet.
			if err := ix.sleep(ctx, ix.sleepTime); err != nil {
				return err
			}
			continue
		}

		if wait := time.Until(time.UnixMilli(int64(periodEnd))); wait > 0 {
			ix.log.WithField("period_end", periodEnd).Info("caught up, waiting for next period")
			if err := ix.sleepUntil(ctx, periodEnd); err != nil {
				return err
			}
		}

		if err := ix.processPeriod(ctx, periodEnd-ix.periodMs, periodEnd); err != nil {
			ix.log.WithError(err).WithField("period_end", periodEnd).Error("period failed, retrying")
			if err := ix.sleep(ctx, ix.sleepTime); err != nil {
				return err
			}
		}
	}
}

// nextPeriodEnd derives the next period boundary to process: one period past
// the latest handled boundary (stored snapshot or in-process cursor,
// whichever is newer), or the first boundary after the earliest canonical
// block on a fresh table.
func (ix *BalanceSeriesIndexer) nextPeriodEnd(ctx context.Context) (uint64, bool, error) {
	latest, ok, err := ix.repo.LatestPeriodEnd(ctx)
	if err != nil {
		return 0, false, err
	}
	if ix.lastProcessed > 0 && (!ok || ix.lastProcessed > latest) {
		latest, ok = ix.lastProcessed, true
	}
	if ok {
		return latest + ix.periodMs, true, nil
	}
	first, ok, err := ix.repo.FirstBlockTimestamp(ctx)
	if err != nil || !ok {
		return 0, false, err
	}
	return alignPeriod(first, ix.periodMs) + ix.periodMs, true, nil
}

func (ix *BalanceSeriesIndexer) processPeriod(ctx context.Context, start, end uint64) error {
	// The block whose state we sample: nearest at or before the period end.
	height, hash, ok, err := ix.repo.BlockAtOrBeforeTimestamp(ctx, end)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("no block at or before period end %d", end)
	}

	addresses, err := ix.affectedAddresses(ctx, start, end)
	if err != nil {
		return err
	}
	log := ix.log.WithFields(logrus.Fields{"period_start": start, "period_end": end, "addresses": len(addresses)})
	if len(addresses) == 0 {
		log.Info("no balance activity in period")
		ix.lastProcessed = end
		return nil
	}

	decimals := ix.client.TokenDecimals()
	version := uint64(time.Now().UnixMilli())
	snapshots := make([]models.BalanceSnapshot, 0, len(addresses))
	for _, address := range addresses {
		if err := ctx.Err(); err != nil {
			return err
		}
		balances, err := ix.client.BalancesAt(ctx, hash, address)
		if err != nil {
			return errors.Wrapf(err, "balances of %s", address)
		}

		cur := models.BalanceSnapshot{
			PeriodStart: start,
			PeriodEnd:   end,
			BlockHeight: height,
			Address:     address,
			Asset:       ix.params.NativeSymbol,
			Free:        scaleAmount(decimal.NewFromBigInt(balances.Free, 0), decimals),
			Reserved:    scaleAmount(decimal.NewFromBigInt(balances.Reserved, 0), decimals),
			Staked:      scaleAmount(decimal.NewFromBigInt(balances.Staked, 0), decimals),
			Total:       scaleAmount(decimal.NewFromBigInt(balances.Total, 0), decimals),
			Version:     version,
		}

		prev, hasPrev, err := ix.repo.PreviousSnapshot(ctx, address, cur.Asset, start)
		if err != nil {
			return err
		}
		var prevPtr *models.BalanceSnapshot
		if hasPrev {
			prevPtr = &prev
		}
		snapshot, warned, err := finalizeSnapshot(cur, prevPtr)
		if err != nil {
			return errors.Wrapf(err, "snapshot of %s at %d", address, height)
		}
		if warned {
			log.WithField("address", address).Warn("total mismatch corrected to component sum")
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := ix.repo.InsertSnapshots(ctx, snapshots); err != nil {
		return err
	}
	ix.lastProcessed = end
	metrics.ProjectionRows.WithLabelValues(string(ix.network), "balance_series").Add(float64(len(snapshots)))
	metrics.LastIndexedHeight.WithLabelValues(string(ix.network), "balance_series").Set(float64(height))
	log.WithField("snapshots", len(snapshots)).Info("period snapshotted")
	return nil
}

// finalizeSnapshot enforces the balance invariants and fills delta fields
// against the previous snapshot. Negative components are fatal; a total that
// disagrees with the component sum is corrected (warned=true).
func finalizeSnapshot(cur models.BalanceSnapshot, prev *models.BalanceSnapshot) (models.BalanceSnapshot, bool, error) {
	if cur.Free.IsNegative() || cur.Reserved.IsNegative() || cur.Staked.IsNegative() {
		return cur, false, errors.Wrapf(ErrNegativeBalance, "free=%s reserved=%s staked=%s",
			cur.Free, cur.Reserved, cur.Staked)
	}

	warned := false
	sum := cur.Free.Add(cur.Reserved).Add(cur.Staked)
	if !cur.Total.Equal(sum) {
		cur.Total = sum
		warned = true
	}

	if prev != nil {
		free := cur.Free.Sub(prev.Free)
		reserved := cur.Reserved.Sub(prev.Reserved)
		staked := cur.Staked.Sub(prev.Staked)
		total := cur.Total.Sub(prev.Total)
		cur.FreeDelta = &free
		cur.ReservedDelta = &reserved
		cur.StakedDelta = &staked
		cur.TotalDelta = &total
		if !prev.Total.IsZero() {
			pct := total.Div(prev.Total).Mul(decimal.NewFromInt(100))
			cur.TotalPctChange = &pct
		}
	}
	return cur, warned, nil
}

// affectedAddresses unions the participants of transfer-like events across
// all blocks whose timestamps fall in [start, end).
func (ix *BalanceSeriesIndexer) affectedAddresses(ctx context.Context, start, end uint64) ([]string, error) {
	minH, maxH, ok, err := ix.repo.HeightRangeForTimestamps(ctx, start, end)
	if err != nil || !ok {
		return nil, err
	}
	blocks, err := ix.repo.GetBlocksByRange(ctx, minH, maxH, true)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, b := range blocks {
		if b.Timestamp < start || b.Timestamp >= end {
			continue
		}
		for _, ev := range b.Events {
			if !transferLikeEvents[ev.FullName()] {
				continue
			}
			attrs := decodeAttrs(ev)
			for _, key := range transferAddressKeys {
				if v, ok := attrs[key].(string); ok && v != "" {
					seen[v] = true
				}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}

// seedGenesis inserts height-0 snapshots from the network's genesis
// allocation file, once, before any period has been processed. Torus only;
// other networks have no genesis file configured.
func (ix *BalanceSeriesIndexer) seedGenesis(ctx context.Context) error {
	if !ix.network.IsTorus() || ix.genesisFile == "" {
		return nil
	}
	seeded, err := ix.repo.HasSnapshots(ctx)
	if err != nil {
		return err
	}
	if seeded {
		return nil
	}

	allocs, err := genesis.LoadAllocations(ix.genesisFile)
	if err != nil {
		return err
	}

	// Anchor the grid one period before the chain's first block so the first
	// real period processes everything from genesis on.
	firstTS, ok, err := ix.repo.FirstBlockTimestamp(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("cannot seed genesis before block 0 is indexed")
	}
	periodEnd := alignPeriod(firstTS, ix.periodMs)
	periodStart := periodEnd - ix.periodMs
	version := uint64(time.Now().UnixMilli())

	snapshots := make([]models.BalanceSnapshot, 0, len(allocs))
	for _, alloc := range allocs {
		free := scaleAmount(alloc.Amount, ix.params.NativeDecimals)
		snapshots = append(snapshots, models.BalanceSnapshot{
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			BlockHeight: 0,
			Address:     alloc.Address,
			Asset:       ix.params.NativeSymbol,
			Free:        free,
			Total:       free,
			Version:     version,
		})
	}
	if err := ix.repo.InsertSnapshots(ctx, snapshots); err != nil {
		return err
	}
	ix.log.WithField("allocations", len(snapshots)).Info("genesis balances seeded")
	return nil
}

func (ix *BalanceSeriesIndexer) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// sleepUntil waits for the wall clock to pass the millisecond deadline,
// waking periodically so cancellation is honoured promptly.
func (ix *BalanceSeriesIndexer) sleepUntil(ctx context.Context, deadlineMs uint64) error {
	deadline := time.UnixMilli(int64(deadlineMs))
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if remaining > ix.sleepTime {
			remaining = ix.sleepTime
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(remaining):
		}
	}
}
