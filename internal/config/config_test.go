package config

import (
	"os"
	"path/filepath"
	"testing"

	"torusscan/internal/networks"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TORUS_NODE_WS_URL", "wss://node.torus.example:443")
	t.Setenv("TORUS_CLICKHOUSE_HOST", "ch.internal")
	t.Setenv("TORUS_CLICKHOUSE_PORT", "9440")
	t.Setenv("TORUS_MEMGRAPH_URL", "bolt://mg.internal:7687")
	t.Setenv("BATCH_SIZE", "250")

	cfg, err := Load(networks.Torus)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeWSURL != "wss://node.torus.example:443" {
		t.Fatalf("node url=%q", cfg.NodeWSURL)
	}
	if got := cfg.ClickHouse.Addr(); got != "ch.internal:9440" {
		t.Fatalf("clickhouse addr=%q", got)
	}
	if cfg.Memgraph.URL != "bolt://mg.internal:7687" {
		t.Fatalf("memgraph url=%q", cfg.Memgraph.URL)
	}
	if cfg.BatchSize != 250 {
		t.Fatalf("batch size=%d", cfg.BatchSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRequiresNodeURL(t *testing.T) {
	t.Setenv("BITTENSOR_NODE_WS_URL", "")

	cfg, err := Load(networks.Bittensor)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate passed without node url")
	}
}

func TestFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "networks.yaml")
	body := `
polkadot:
  node_ws_url: wss://rpc.polkadot.example
  clickhouse:
    host: ch-polkadot
  batch_size: 50
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("POLKADOT_NODE_WS_URL", "wss://from-env")
	t.Setenv("POLKADOT_CLICKHOUSE_USER", "reader")

	cfg, err := Load(networks.Polkadot)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// File wins over env where set, env survives where the file is silent.
	if cfg.NodeWSURL != "wss://rpc.polkadot.example" {
		t.Fatalf("node url=%q", cfg.NodeWSURL)
	}
	if cfg.ClickHouse.Host != "ch-polkadot" {
		t.Fatalf("clickhouse host=%q", cfg.ClickHouse.Host)
	}
	if cfg.ClickHouse.User != "reader" {
		t.Fatalf("clickhouse user=%q", cfg.ClickHouse.User)
	}
	if cfg.BatchSize != 50 {
		t.Fatalf("batch size=%d", cfg.BatchSize)
	}
}
