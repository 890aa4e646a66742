package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"torusscan/internal/networks"
)

// ClickHouse holds the analytics-store connection settings for one network.
type ClickHouse struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Database         string `yaml:"database"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	MaxExecutionTime int    `yaml:"max_execution_time"`
	MaxQuerySize     int    `yaml:"max_query_size"`
}

// Addr returns host:port.
func (c ClickHouse) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Memgraph holds the graph-store connection settings for one network.
type Memgraph struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Config is the resolved configuration for one network's indexers.
// Values come from <NET>_* environment variables, optionally overlaid by a
// YAML file named in CONFIG_FILE, and finally by CLI flags.
type Config struct {
	Network    networks.Network `yaml:"network"`
	NodeWSURL  string           `yaml:"node_ws_url"`
	ClickHouse ClickHouse       `yaml:"clickhouse"`
	Memgraph   Memgraph         `yaml:"memgraph"`

	BatchSize   int           `yaml:"batch_size"`
	SleepTime   time.Duration `yaml:"sleep_time"`
	MetricsPort int           `yaml:"metrics_port"`

	// SkipMigration disables the startup schema DDL, for deployments where
	// the tables are managed out of band.
	SkipMigration bool `yaml:"skip_migration"`

	// GenesisBalancesFile is the Torus genesis [[address, amount], ...] JSON
	// used to seed balance_series on first run.
	GenesisBalancesFile string `yaml:"genesis_balances_file"`
}

// fileConfig is the shape of the optional CONFIG_FILE overlay: a map of
// network name to per-network settings.
type fileConfig map[string]Config

// Load resolves configuration for the given network.
func Load(network networks.Network) (*Config, error) {
	prefix := network.EnvPrefix()

	cfg := &Config{
		Network:   network,
		NodeWSURL: os.Getenv(prefix + "_NODE_WS_URL"),
		ClickHouse: ClickHouse{
			Host:             envDefault(prefix+"_CLICKHOUSE_HOST", "localhost"),
			Port:             envInt(prefix+"_CLICKHOUSE_PORT", 9000),
			Database:         envDefault(prefix+"_CLICKHOUSE_DATABASE", string(network)),
			User:             envDefault(prefix+"_CLICKHOUSE_USER", "default"),
			Password:         os.Getenv(prefix + "_CLICKHOUSE_PASSWORD"),
			MaxExecutionTime: envInt(prefix+"_CLICKHOUSE_MAX_EXECUTION_TIME", 300),
			MaxQuerySize:     envInt(prefix+"_CLICKHOUSE_MAX_QUERY_SIZE", 0),
		},
		Memgraph: Memgraph{
			URL:      envDefault(prefix+"_MEMGRAPH_URL", "bolt://localhost:7687"),
			User:     os.Getenv(prefix + "_MEMGRAPH_USER"),
			Password: os.Getenv(prefix + "_MEMGRAPH_PASSWORD"),
		},
		BatchSize:           envInt("BATCH_SIZE", 100),
		SleepTime:           time.Duration(envInt("SLEEP_TIME", 6)) * time.Second,
		MetricsPort:         envInt("METRICS_PORT", 0),
		SkipMigration:       envBool("SKIP_MIGRATION"),
		GenesisBalancesFile: envDefault(prefix+"_GENESIS_BALANCES_FILE", "genesis/torus_genesis.json"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	return cfg, nil
}

// Validate checks the settings a store-dependent service cannot start without.
func (c *Config) Validate() error {
	if c.NodeWSURL == "" {
		return fmt.Errorf("%s_NODE_WS_URL is required", c.Network.EnvPrefix())
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// applyFile overlays non-zero values from the YAML file's entry for this
// network. Env vars stay authoritative for anything the file leaves unset.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	over, ok := fc[string(c.Network)]
	if !ok {
		return nil
	}

	if over.NodeWSURL != "" {
		c.NodeWSURL = over.NodeWSURL
	}
	if over.ClickHouse.Host != "" {
		c.ClickHouse.Host = over.ClickHouse.Host
	}
	if over.ClickHouse.Port != 0 {
		c.ClickHouse.Port = over.ClickHouse.Port
	}
	if over.ClickHouse.Database != "" {
		c.ClickHouse.Database = over.ClickHouse.Database
	}
	if over.ClickHouse.User != "" {
		c.ClickHouse.User = over.ClickHouse.User
	}
	if over.ClickHouse.Password != "" {
		c.ClickHouse.Password = over.ClickHouse.Password
	}
	if over.Memgraph.URL != "" {
		c.Memgraph.URL = over.Memgraph.URL
	}
	if over.Memgraph.User != "" {
		c.Memgraph.User = over.Memgraph.User
	}
	if over.Memgraph.Password != "" {
		c.Memgraph.Password = over.Memgraph.Password
	}
	if over.GenesisBalancesFile != "" {
		c.GenesisBalancesFile = over.GenesisBalancesFile
	}
	if over.BatchSize != 0 {
		c.BatchSize = over.BatchSize
	}
	if over.MetricsPort != 0 {
		c.MetricsPort = over.MetricsPort
	}
	return nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && b
}
