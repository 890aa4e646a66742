package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"torusscan/internal/assets"
	"torusscan/internal/config"
	"torusscan/internal/graph"
	"torusscan/internal/ingester"
	"torusscan/internal/metrics"
	"torusscan/internal/networks"
	"torusscan/internal/repository"
	"torusscan/internal/substrate"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}

	commonFlags := []cli.Flag{
		&cli.StringFlag{Name: "network", Usage: "network to index (torus, torus_testnet, bittensor, bittensor_testnet, polkadot)", EnvVars: []string{"NETWORK"}, Required: true},
		&cli.IntFlag{Name: "batch-size", Usage: "blocks per batch", Value: 0},
		&cli.Uint64Flag{Name: "start-height", Usage: "first height to process"},
		&cli.Uint64Flag{Name: "end-height", Usage: "last height to process (0 = follow head)"},
		&cli.DurationFlag{Name: "sleep-time", Usage: "poll interval when caught up"},
		&cli.IntFlag{Name: "metrics-port", Usage: "prometheus listener port (0 = off)", Value: -1},
	}

	app := &cli.App{
		Name:    "torusscan",
		Usage:   "multi-network chain indexing pipeline",
		Version: BuildCommit,
		Commands: []*cli.Command{
			{
				Name:  "block-stream",
				Usage: "index canonical blocks into block_stream",
				Flags: append([]cli.Flag{
					&cli.Uint64SliceFlag{Name: "partition", Usage: "partition id to backfill (repeatable); omit for continuous tail"},
					&cli.BoolFlag{Name: "continuous", Usage: "follow the chain head"},
					&cli.IntFlag{Name: "workers", Usage: "max parallel partition workers (0 = one per partition)"},
				}, commonFlags...),
				Action: runBlockStream(log),
			},
			{
				Name:   "balance-transfers",
				Usage:  "project block_stream into balance_transfers",
				Flags:  commonFlags,
				Action: runBalanceTransfers(log),
			},
			{
				Name:  "balance-series",
				Usage: "snapshot per-address balances on the period grid",
				Flags: append([]cli.Flag{
					&cli.IntFlag{Name: "period-hours", Usage: "sampling period in hours", Value: 4},
				}, commonFlags...),
				Action: runBalanceSeries(log),
			},
			{
				Name:   "money-flow",
				Usage:  "project block_stream into the money-flow graph",
				Flags:  commonFlags,
				Action: runMoneyFlow(log),
			},
			{
				Name:   "status",
				Usage:  "print per-partition indexing progress",
				Flags:  commonFlags,
				Action: runStatus(log),
			},
		},
	}

	if err := app.Run(os.Args); err != nil && err != context.Canceled {
		log.WithError(err).Fatal("exited with error")
	}
}

// setup loads and validates config for the selected network and arranges
// signal-driven cancellation.
func setup(c *cli.Context, log *logrus.Logger) (context.Context, context.CancelFunc, networks.Network, *config.Config, error) {
	network, err := networks.Parse(c.String("network"))
	if err != nil {
		return nil, nil, "", nil, err
	}
	cfg, err := config.Load(network)
	if err != nil {
		return nil, nil, "", nil, err
	}
	if c.Int("batch-size") > 0 {
		cfg.BatchSize = c.Int("batch-size")
	}
	if c.Duration("sleep-time") > 0 {
		cfg.SleepTime = c.Duration("sleep-time")
	}
	if c.Int("metrics-port") >= 0 {
		cfg.MetricsPort = c.Int("metrics-port")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, "", nil, err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	metrics.Serve(log.WithField("component", "metrics"), cfg.MetricsPort)
	log.WithFields(logrus.Fields{"network": network, "command": c.Command.Name}).Info("starting")
	return ctx, cancel, network, cfg, nil
}

// ensureSchema runs the idempotent table DDL unless migrations are managed
// out of band.
func ensureSchema(ctx context.Context, repo *repository.Repository, cfg *config.Config) error {
	if cfg.SkipMigration {
		return nil
	}
	return repo.EnsureSchema(ctx)
}

func runBlockStream(log *logrus.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel, network, cfg, err := setup(c, log)
		if err != nil {
			return err
		}
		defer cancel()

		client, err := substrate.NewClient(ctx, network, cfg.NodeWSURL, log)
		if err != nil {
			return fmt.Errorf("node client: %w", err)
		}
		defer client.Close()

		repo, err := repository.NewRepository(ctx, network, cfg.ClickHouse, log)
		if err != nil {
			return fmt.Errorf("repository: %w", err)
		}
		defer repo.Close()
		if err := ensureSchema(ctx, repo, cfg); err != nil {
			return err
		}

		ix := ingester.NewBlockStreamIndexer(network, client, repo, ingester.BlockStreamConfig{
			BatchSize: cfg.BatchSize,
			SleepTime: cfg.SleepTime,
		}, log)

		partitions := c.Uint64Slice("partition")
		if len(partitions) == 0 || c.Bool("continuous") {
			return ix.RunContinuous(ctx, c.Uint64("start-height"))
		}
		return ix.RunPartitions(ctx, partitions, c.Int("workers"))
	}
}

func runBalanceTransfers(log *logrus.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel, network, cfg, err := setup(c, log)
		if err != nil {
			return err
		}
		defer cancel()

		repo, err := repository.NewRepository(ctx, network, cfg.ClickHouse, log)
		if err != nil {
			return fmt.Errorf("repository: %w", err)
		}
		defer repo.Close()
		if err := ensureSchema(ctx, repo, cfg); err != nil {
			return err
		}

		am := assets.NewManager(network, repo, log)
		ix := ingester.NewBalanceTransfersIndexer(network, repo, am, ingester.TransfersConfig{
			BatchSize:   cfg.BatchSize,
			SleepTime:   cfg.SleepTime,
			StartHeight: c.Uint64("start-height"),
			EndHeight:   c.Uint64("end-height"),
		}, log)
		return ix.Run(ctx)
	}
}

func runBalanceSeries(log *logrus.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel, network, cfg, err := setup(c, log)
		if err != nil {
			return err
		}
		defer cancel()

		client, err := substrate.NewClient(ctx, network, cfg.NodeWSURL, log)
		if err != nil {
			return fmt.Errorf("node client: %w", err)
		}
		defer client.Close()

		repo, err := repository.NewRepository(ctx, network, cfg.ClickHouse, log)
		if err != nil {
			return fmt.Errorf("repository: %w", err)
		}
		defer repo.Close()
		if err := ensureSchema(ctx, repo, cfg); err != nil {
			return err
		}

		ix := ingester.NewBalanceSeriesIndexer(network, client, repo, ingester.SeriesConfig{
			PeriodHours: c.Int("period-hours"),
			SleepTime:   cfg.SleepTime,
			GenesisFile: cfg.GenesisBalancesFile,
		}, log)
		return ix.Run(ctx)
	}
}

func runMoneyFlow(log *logrus.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel, network, cfg, err := setup(c, log)
		if err != nil {
			return err
		}
		defer cancel()

		repo, err := repository.NewRepository(ctx, network, cfg.ClickHouse, log)
		if err != nil {
			return fmt.Errorf("repository: %w", err)
		}
		defer repo.Close()
		if err := ensureSchema(ctx, repo, cfg); err != nil {
			return err
		}

		g, err := graph.NewClient(ctx, cfg.Memgraph, log)
		if err != nil {
			return fmt.Errorf("graph client: %w", err)
		}
		defer g.Close(context.Background())

		am := assets.NewManager(network, repo, log)
		ix := ingester.NewMoneyFlowIndexer(network, repo, g, am, ingester.MoneyFlowConfig{
			BatchSize: cfg.BatchSize,
			SleepTime: cfg.SleepTime,
		}, log)
		return ix.Run(ctx)
	}
}

func runStatus(log *logrus.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel, network, cfg, err := setup(c, log)
		if err != nil {
			return err
		}
		defer cancel()

		client, err := substrate.NewClient(ctx, network, cfg.NodeWSURL, log)
		if err != nil {
			return fmt.Errorf("node client: %w", err)
		}
		defer client.Close()

		repo, err := repository.NewRepository(ctx, network, cfg.ClickHouse, log)
		if err != nil {
			return fmt.Errorf("repository: %w", err)
		}
		defer repo.Close()

		head, err := client.CurrentHeight(ctx)
		if err != nil {
			return err
		}
		params := networks.MustParams(network)
		statuses, err := repo.GetIndexingStatus(ctx, params.PartitionSize, head)
		if err != nil {
			return err
		}

		fmt.Printf("network %s, chain head %d\n", network, head)
		for _, st := range statuses {
			fmt.Printf("partition %d [%d, %d]: %s, %d/%d blocks",
				st.Partition, st.Start, st.End, st.Status, st.BlockCount, st.ExpectedBlocks)
			if st.BlockCount > 0 {
				fmt.Printf(", first %d, last %d", st.FirstIndexed, st.LastIndexed)
			}
			if st.HasGaps {
				fmt.Printf(", %d ranges missing", len(st.RemainingRanges))
			}
			fmt.Println()
		}
		return nil
	}
}
