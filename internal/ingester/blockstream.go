package ingester

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"torusscan/internal/metrics"
	"torusscan/internal/models"
	"torusscan/internal/networks"
	"torusscan/internal/repository"
	"torusscan/internal/substrate"
)

// BlockStreamIndexer writes canonical blocks into block_stream. Historical
// partitions are backfilled by independent workers, each owning one
// contiguous height range; a continuous worker follows the chain head and
// extends the open final partition.
type BlockStreamIndexer struct {
	network networks.Network
	params  networks.Params
	client  chainSource
	repo    blockWriter
	log     *logrus.Entry

	batchSize uint64
	sleepTime time.Duration
}

type BlockStreamConfig struct {
	BatchSize int
	SleepTime time.Duration
}

func NewBlockStreamIndexer(network networks.Network, client chainSource, repo blockWriter, cfg BlockStreamConfig, log *logrus.Logger) *BlockStreamIndexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.SleepTime <= 0 {
		cfg.SleepTime = 6 * time.Second
	}
	return &BlockStreamIndexer{
		network:   network,
		params:    networks.MustParams(network),
		client:    client,
		repo:      repo,
		log:       log.WithField("component", "block_stream"),
		batchSize: uint64(cfg.BatchSize),
		sleepTime: cfg.SleepTime,
	}
}

// RunPartitions backfills the given partitions in parallel and returns when
// all have completed or the context is cancelled. A nil partition list means
// every partition up to the current chain head; workers caps concurrency
// (0 runs one goroutine per partition).
func (ix *BlockStreamIndexer) RunPartitions(ctx context.Context, partitions []uint64, workers int) error {
	if len(partitions) == 0 {
		head, err := ix.client.CurrentHeight(ctx)
		if err != nil {
			return errors.Wrap(err, "chain head")
		}
		for k := uint64(0); k <= repository.PartitionFor(head, ix.params.PartitionSize); k++ {
			partitions = append(partitions, k)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	if workers > 0 {
		eg.SetLimit(workers)
	}
	for _, k := range partitions {
		k := k
		eg.Go(func() error {
			err := ix.RunPartition(egCtx, k)
			if err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrapf(err, "partition %d", k)
			}
			return nil
		})
	}
	return eg.Wait()
}

// RunPartition backfills one partition until it is complete. The worker is
// resumable: on each pass it recomputes the partition's missing ranges and
// fetches only those, so crashes and gaps self-heal.
func (ix *BlockStreamIndexer) RunPartition(ctx context.Context, k uint64) error {
	start, end := repository.PartitionBounds(k, ix.params.PartitionSize)
	log := ix.log.WithField("partition", k)
	log.WithFields(logrus.Fields{"start": start, "end": end}).Info("partition worker started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		head, err := ix.client.CurrentHeight(ctx)
		if err != nil {
			return errors.Wrap(err, "chain head")
		}
		effectiveEnd := end
		if head < effectiveEnd {
			effectiveEnd = head
		}
		if head < start {
			// The chain has not reached this partition yet.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ix.sleepTime):
			}
			continue
		}

		heights, err := ix.repo.IndexedHeightsInRange(ctx, start, end)
		if err != nil {
			return err
		}
		st := repository.ComputePartitionStatus(k, ix.params.PartitionSize, heights)
		if st.Status == models.PartitionCompleted {
			log.Info("partition completed")
			return nil
		}

		indexedAny := false
		for _, r := range st.RemainingRanges {
			if r.Start > effectiveEnd {
				break
			}
			rangeEnd := r.End
			if rangeEnd > effectiveEnd {
				rangeEnd = effectiveEnd
			}
			n, err := ix.indexRange(ctx, r.Start, rangeEnd, log)
			if err != nil {
				return err
			}
			indexedAny = indexedAny || n > 0
		}

		if !indexedAny {
			// Caught up to the head inside this partition; poll for new blocks.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ix.sleepTime):
			}
		}
	}
}

// RunContinuous follows the chain head indefinitely, starting right after
// the canonical high-water mark (or startHeight when the store is empty).
func (ix *BlockStreamIndexer) RunContinuous(ctx context.Context, startHeight uint64) error {
	log := ix.log.WithField("worker", "continuous")

	next := startHeight
	if marker, err := ix.repo.MaxIndexedHeight(ctx); err != nil {
		return errors.Wrap(err, "canonical head")
	} else if marker > 0 && marker >= next {
		next = marker + 1
	}
	log.WithField("from", next).Info("continuous worker started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		head, err := ix.client.CurrentHeight(ctx)
		if err != nil {
			return errors.Wrap(err, "chain head")
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
		if _, err := ix.indexRange(ctx, next, to, log); err != nil {
			return err
		}
		next = to + 1
	}
}

// indexRange fetches and writes [from, to] in batch-size slices, in height
// order, and returns the number of blocks written.
func (ix *BlockStreamIndexer) indexRange(ctx context.Context, from, to uint64, log *logrus.Entry) (int, error) {
	total := 0
	for batchStart := from; batchStart <= to; batchStart += ix.batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batchEnd := batchStart + ix.batchSize - 1
		if batchEnd > to {
			batchEnd = to
		}

		blocks, err := ix.client.BlocksByRange(ctx, batchStart, batchEnd)
		if err != nil {
			if errors.Is(err, substrate.ErrMissingTimestamp) {
				log.WithError(err).WithFields(logrus.Fields{"from": batchStart, "to": batchEnd}).
					Error("block without timestamp, refusing to write batch")
			}
			return total, errors.Wrapf(err, "fetch [%d, %d]", batchStart, batchEnd)
		}

		for i := range blocks {
			blocks[i].Addresses = ExtractAddresses(blocks[i].Transactions, blocks[i].Events)
		}
		if err := ix.repo.InsertBlocks(ctx, blocks); err != nil {
			return total, errors.Wrapf(err, "insert [%d, %d]", batchStart, batchEnd)
		}

		total += len(blocks)
		metrics.BlocksIndexed.WithLabelValues(string(ix.network), "block_stream").Add(float64(len(blocks)))
		metrics.LastIndexedHeight.WithLabelValues(string(ix.network), "block_stream").Set(float64(batchEnd))
		log.WithFields(logrus.Fields{"from": batchStart, "to": batchEnd, "blocks": len(blocks)}).Info("blocks indexed")
	}
	return total, nil
}
