package ingester

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"torusscan/internal/assets"
	"torusscan/internal/graph"
	"torusscan/internal/metrics"
	"torusscan/internal/models"
	"torusscan/internal/networks"
)

// knownAddressLabelInterval is how often externally curated labels are
// re-applied to graph nodes.
const knownAddressLabelInterval = 10 * time.Minute

// MoneyFlowIndexer projects canonical blocks into the money-flow graph. It
// is the graph's only writer; each block's mutations commit atomically with
// the GlobalState height marker, so processing is exactly-once across
// restarts and replays.
type MoneyFlowIndexer struct {
	network  networks.Network
	params   networks.Params
	repo     flowStore
	graph    flowGraph
	assets   *assets.Manager
	strategy graphStrategy
	log      *logrus.Entry

	batchSize         uint64
	sleepTime         time.Duration
	analyticsInterval uint64
}

type MoneyFlowConfig struct {
	BatchSize int
	SleepTime time.Duration
}

func NewMoneyFlowIndexer(network networks.Network, repo flowStore, g flowGraph, am *assets.Manager, cfg MoneyFlowConfig, log *logrus.Logger) *MoneyFlowIndexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.SleepTime <= 0 {
		cfg.SleepTime = 6 * time.Second
	}
	params := networks.MustParams(network)
	return &MoneyFlowIndexer{
		network:           network,
		params:            params,
		repo:              repo,
		graph:             g,
		assets:            am,
		strategy:          graphStrategyFor(network),
		log:               log.WithField("component", "money_flow"),
		batchSize:         uint64(cfg.BatchSize),
		sleepTime:         cfg.SleepTime,
		analyticsInterval: analyticsIntervalBlocks(params.BlockTimeSeconds),
	}
}

// analyticsIntervalBlocks converts the 4-hour analytics cadence to a block
// count for the network's block time. The block-height clock, unlike wall
// time, cannot fire with no new data during node outages.
func analyticsIntervalBlocks(blockTimeSeconds int) uint64 {
	return uint64(defaultPeriodHours * 3600 / blockTimeSeconds)
}

// shouldRunAnalytics reports whether the analytics pipeline is due at this
// height.
func shouldRunAnalytics(height, interval uint64) bool {
	return height > 0 && height%interval == 0
}

// Run starts the label refresher and consumes canonical blocks from just
// past the graph's GlobalState marker until cancellation.
func (ix *MoneyFlowIndexer) Run(ctx context.Context) error {
	if err := ix.assets.InitNativeAssets(ctx); err != nil {
		return errors.Wrap(err, "init native assets")
	}
	if err := ix.graph.EnsureIndexes(ctx); err != nil {
		return errors.Wrap(err, "ensure graph indexes")
	}

	go ix.labelLoop(ctx)

	last, _, err := ix.graph.LastProcessedHeight(ctx)
	if err != nil {
		return errors.Wrap(err, "read global state")
	}
	next := last + 1
	ix.log.WithField("from", next).Info("money flow indexer started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		head, err := ix.repo.MaxIndexedHeight(ctx)
		if err != nil {
			return errors.Wrap(err, "canonical head")
		}
		if next > head {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ix.sleepTime):
			}
			continue
		}

		to := next + ix.batchSize - 1
		if to > head {
			to = head
		}
		blocks, err := ix.repo.GetBlocksByRange(ctx, next, to, false)
		if err != nil {
			return errors.Wrapf(err, "blocks [%d, %d]", next, to)
		}

		for _, b := range blocks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := ix.processBlock(ctx, b); err != nil {
				return errors.Wrapf(err, "block %d", b.Height)
			}
		}
		next = to + 1
	}
}

// processBlock applies one block's graph mutations. Blocks at or below the
// GlobalState marker are skipped without touching the graph; otherwise the
// marker and every mutation commit in one transaction, so a replay after a
// mid-block crash reprocesses the whole block.
func (ix *MoneyFlowIndexer) processBlock(ctx context.Context, b models.Block) error {
	last, ok, err := ix.graph.LastProcessedHeight(ctx)
	if err != nil {
		return err
	}
	if ok && b.Height <= last {
		metrics.BlocksSkipped.WithLabelValues(string(ix.network)).Inc()
		return nil
	}

	err = ix.graph.ApplyBlock(ctx, b.Height, func(m graph.Mutator) error {
		for _, ev := range b.Events {
			attrs := decodeAttrs(ev)
			if err := ix.handleEvent(ctx, m, b, ev, attrs); err != nil {
				return errors.Wrapf(err, "event %s %s", ev.EventIdx, ev.FullName())
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.LastIndexedHeight.WithLabelValues(string(ix.network), "money_flow").Set(float64(b.Height))

	if shouldRunAnalytics(b.Height, ix.analyticsInterval) {
		if err := ix.graph.RunAnalytics(ctx); err != nil {
			// Analytics failures don't block ingestion; the next cadence
			// point reruns the full pipeline.
			ix.log.WithError(err).WithField("height", b.Height).Error("analytics run failed")
		} else {
			metrics.AnalyticsRuns.WithLabelValues(string(ix.network), "full").Inc()
		}
	}
	return nil
}

func (ix *MoneyFlowIndexer) handleEvent(ctx context.Context, m graph.Mutator, b models.Block, ev models.Event, attrs eventAttrs) error {
	switch ev.FullName() {
	case "Balances.Endowed":
		account := attrs.str("account", "who")
		if account == "" {
			return nil
		}
		return m.UpsertAddress(account, b.Height, b.Timestamp)

	case "Balances.Transfer":
		from := attrs.str("from")
		to := attrs.str("to")
		amount, ok := attrs.amount("amount")
		if from == "" || to == "" || !ok {
			return nil
		}
		return m.UpsertTransfer(graph.Transfer{
			From:      from,
			To:        to,
			Asset:     ix.params.NativeSymbol,
			Contract:  networks.NativeContract,
			Amount:    scaleAmount(amount, ix.params.NativeDecimals),
			Height:    b.Height,
			Timestamp: b.Timestamp,
		})

	case "Assets.Transferred":
		from := attrs.str("from")
		to := attrs.str("to")
		assetID, idOK := attrs.integer("asset_id")
		amount, ok := attrs.amount("amount")
		if from == "" || to == "" || !idOK || !ok {
			return nil
		}
		contract := decimal.NewFromInt(assetID).String()
		if _, err := ix.assets.EnsureAssetExists(ctx, tokenSymbol(assetID), contract, models.AssetTypeToken, 18, b.Height, b.Timestamp, "", ""); err != nil {
			return err
		}
		info, err := ix.assets.GetAssetInfo(ctx, contract)
		if err != nil {
			return err
		}
		return m.UpsertTransfer(graph.Transfer{
			From:      from,
			To:        to,
			Asset:     tokenSymbol(assetID),
			Contract:  contract,
			Amount:    scaleAmount(amount, info.Decimals),
			Height:    b.Height,
			Timestamp: b.Timestamp,
		})

	default:
		return ix.strategy.Apply(m, b, ev, attrs)
	}
}

// labelLoop re-applies known-address labels on a fixed interval.
func (ix *MoneyFlowIndexer) labelLoop(ctx context.Context) {
	ticker := time.NewTicker(knownAddressLabelInterval)
	defer ticker.Stop()

	for {
		if err := ix.applyKnownLabels(ctx); err != nil && ctx.Err() == nil {
			ix.log.WithError(err).Warn("known address labeling failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (ix *MoneyFlowIndexer) applyKnownLabels(ctx context.Context) error {
	known, err := ix.repo.GetKnownAddresses(ctx)
	if err != nil {
		return err
	}
	if len(known) == 0 {
		return nil
	}
	labels := make(map[string][]string, len(known))
	for _, ka := range known {
		labels[ka.Address] = append(labels[ka.Address], ka.Label)
	}
	return ix.graph.ApplyKnownAddressLabels(ctx, labels)
}

// graphStrategy applies one network's own graph-relevant events; the common
// Balances/Assets handling lives in handleEvent.
type graphStrategy interface {
	Apply(m graph.Mutator, b models.Block, ev models.Event, attrs eventAttrs) error
}

func graphStrategyFor(n networks.Network) graphStrategy {
	switch {
	case n.IsTorus():
		return torusGraphStrategy{}
	case n.IsBittensor():
		return bittensorGraphStrategy{}
	default:
		return noopGraphStrategy{}
	}
}

type noopGraphStrategy struct{}

func (noopGraphStrategy) Apply(graph.Mutator, models.Block, models.Event, eventAttrs) error {
	return nil
}

type torusGraphStrategy struct{}

func (torusGraphStrategy) Apply(m graph.Mutator, b models.Block, ev models.Event, attrs eventAttrs) error {
	if ev.FullName() != "Torus0.AgentRegistered" {
		return nil
	}
	agent := attrs.str("agent", "who", "account")
	if agent == "" {
		return nil
	}
	return m.LabelAddress(agent, "agent", b.Height, b.Timestamp)
}

type bittensorGraphStrategy struct{}

func (bittensorGraphStrategy) Apply(m graph.Mutator, b models.Block, ev models.Event, attrs eventAttrs) error {
	switch ev.FullName() {
	case "SubtensorModule.NeuronRegistered":
		networkID, netOK := attrs.integer("network_id", "netuid")
		neuronID, idOK := attrs.integer("neuron_id", "uid")
		owner := attrs.str("owner", "hotkey")
		if !netOK || !idOK || owner == "" {
			return nil
		}
		return m.UpsertNeuron(networkID, neuronID, owner, b.Height, b.Timestamp)

	case "SubtensorModule.NetworkAdded":
		networkID, ok := attrs.integer("network_id", "netuid")
		if !ok {
			return nil
		}
		// The event itself names no creator; the registering extrinsic's
		// signer fills that role when the event is tied to an extrinsic.
		return m.UpsertSubnet(networkID, extrinsicSigner(b, ev.ExtrinsicID), b.Height, b.Timestamp)
	}
	return nil
}

// extrinsicSigner resolves the signer of the block transaction with the
// given extrinsic id, empty for inherents and unsigned extrinsics.
func extrinsicSigner(b models.Block, extrinsicID string) string {
	if extrinsicID == "" {
		return ""
	}
	for _, tx := range b.Transactions {
		if tx.ExtrinsicID == extrinsicID {
			return tx.Signer
		}
	}
	return ""
}
