// Prints per-partition block_stream progress as JSON, for dashboards and
// cron checks. Reads the same env config as the indexers.
package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"

	"torusscan/internal/config"
	"torusscan/internal/networks"
	"torusscan/internal/repository"
	"torusscan/internal/substrate"
)

func main() {
	log := logrus.New()

	network, err := networks.Parse(os.Getenv("NETWORK"))
	if err != nil {
		log.WithError(err).Fatal("NETWORK is not set to a supported network")
	}
	cfg, err := config.Load(network)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	ctx := context.Background()

	client, err := substrate.NewClient(ctx, network, cfg.NodeWSURL, log)
	if err != nil {
		log.WithError(err).Fatal("node client")
	}
	defer client.Close()

	repo, err := repository.NewRepository(ctx, network, cfg.ClickHouse, log)
	if err != nil {
		log.WithError(err).Fatal("repository")
	}
	defer repo.Close()

	head, err := client.CurrentHeight(ctx)
	if err != nil {
		log.WithError(err).Fatal("chain head")
	}
	statuses, err := repo.GetIndexingStatus(ctx, networks.MustParams(network).PartitionSize, head)
	if err != nil {
		log.WithError(err).Fatal("indexing status")
	}

	out := map[string]any{
		"network":    network,
		"chain_head": head,
		"partitions": statuses,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.WithError(err).Fatal("encode status")
	}
}
