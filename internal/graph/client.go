package graph

import (
	"context"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"torusscan/internal/config"
)

// Client wraps the Bolt connection to the money-flow graph store. The store
// speaks OpenCypher with Memgraph's procedure modules (path, pagerank,
// community_detection, vector_search).
type Client struct {
	driver neo4j.DriverWithContext
	log    *logrus.Entry
}

func NewClient(ctx context.Context, cfg config.Memgraph, log *logrus.Logger) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URL, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, errors.Wrap(err, "create graph driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, errors.Wrapf(err, "connect to graph store at %s", cfg.URL)
	}
	return &Client{
		driver: driver,
		log:    log.WithField("component", "graph"),
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// executeWrite runs one managed write transaction, retrying transient
// failures with constant backoff. Serialization conflicts under concurrent
// MERGE are expected and resolve on retry; the transaction work function must
// therefore be safe to re-run.
func (c *Client) executeWrite(ctx context.Context, work func(tx neo4j.ManagedTransaction) (any, error)) error {
	const maxAttempts = 5
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		session := c.driver.NewSession(ctx, neo4j.SessionConfig{})
		_, err := session.ExecuteWrite(ctx, work)
		session.Close(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
		c.log.WithError(err).WithField("attempt", attempt).Warn("graph write failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return errors.Wrap(lastErr, "graph write exhausted retries")
}

// write runs one Cypher statement in its own write transaction.
func (c *Client) write(ctx context.Context, cypher string, params map[string]any) error {
	return c.executeWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return nil, result.Err()
	})
}

// ApplyBlock runs the GlobalState marker update and all of one block's
// mutations in a single write transaction, so a crash mid-block rolls the
// marker back with the mutations and the block is reprocessed on restart.
func (c *Client) ApplyBlock(ctx context.Context, height uint64, fn func(Mutator) error) error {
	return c.executeWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		m := &Tx{ctx: ctx, tx: tx}
		err := m.run(`
			MERGE (g:GlobalState {name: "last_block_height"})
			SET g.block_height = $height`,
			map[string]any{"height": int64(height)})
		if err != nil {
			return nil, err
		}
		return nil, fn(m)
	})
}

// readSingle runs one Cypher statement and returns the first record's first
// value, or (nil, false) when the query matched nothing.
func (c *Client) readSingle(ctx context.Context, cypher string, params map[string]any) (any, bool, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		if result.Next(ctx) {
			values := result.Record().Values
			if len(values) > 0 {
				return values[0], nil
			}
		}
		return nil, result.Err()
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"conflicting transactions",
		"cannot resolve conflicting",
		"transient",
		"connection reset",
		"broken pipe",
		"eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return neo4j.IsRetryable(err) || neo4j.IsConnectivityError(err)
}

// EnsureIndexes creates the lookup indexes and the 6-dimension cosine vector
// index the analytics queries depend on. All statements are idempotent.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	stmts := []string{
		"CREATE INDEX ON :Address(address)",
		"CREATE INDEX ON :Address(last_activity_timestamp)",
		"CREATE INDEX ON :Address(community_id)",
		"CREATE INDEX ON :Community(community_id)",
		"CREATE INDEX ON :Subnet(network_id)",
		"CREATE INDEX ON :Neuron(neuron_id)",
		"CREATE EDGE INDEX ON :TO(id)",
		"CREATE EDGE INDEX ON :TO(asset)",
		"CREATE EDGE INDEX ON :TO(volume)",
		"CREATE EDGE INDEX ON :TO(transfer_count)",
		"CREATE EDGE INDEX ON :TO(last_activity_timestamp)",
		`CREATE VECTOR INDEX NetworkEmbeddings ON :Address(network_embedding)
			WITH CONFIG {"dimension": 6, "metric": "cos", "capacity": 4096}`,
	}
	for _, stmt := range stmts {
		if err := c.write(ctx, stmt, nil); err != nil {
			// Index creation races and re-creation both surface as errors on
			// some server versions; treat "already exists" as success.
			if strings.Contains(strings.ToLower(err.Error()), "already exists") {
				continue
			}
			return errors.Wrapf(err, "ensure index: %s", stmt)
		}
	}
	return nil
}
