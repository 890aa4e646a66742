// Replays the balance_transfers projection for a height range from the
// canonical block_stream, without touching the node. Replayed rows carry the
// same _version as the originals, so the merge engine collapses duplicates.
//
// Usage: NETWORK=torus replay_transfers -from 1000 -to 2000
package main

import (
	"context"
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"torusscan/internal/assets"
	"torusscan/internal/config"
	"torusscan/internal/ingester"
	"torusscan/internal/networks"
	"torusscan/internal/repository"
)

func main() {
	from := flag.Uint64("from", 0, "first height to replay")
	to := flag.Uint64("to", 0, "last height to replay")
	batch := flag.Int("batch", 500, "blocks per batch")
	flag.Parse()

	log := logrus.New()
	if *to < *from {
		log.Fatal("-to must be >= -from")
	}

	network, err := networks.Parse(os.Getenv("NETWORK"))
	if err != nil {
		log.WithError(err).Fatal("NETWORK is not set to a supported network")
	}
	cfg, err := config.Load(network)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	ctx := context.Background()
	repo, err := repository.NewRepository(ctx, network, cfg.ClickHouse, log)
	if err != nil {
		log.WithError(err).Fatal("repository")
	}
	defer repo.Close()

	am := assets.NewManager(network, repo, log)
	if err := am.InitNativeAssets(ctx); err != nil {
		log.WithError(err).Fatal("init native assets")
	}

	if err := ingester.ReplayTransfers(ctx, network, repo, am, *from, *to, *batch, log); err != nil {
		log.WithError(err).Fatal("replay failed")
	}
	log.WithFields(logrus.Fields{"from": *from, "to": *to}).Info("replay complete")
}
