package substrate

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/parser"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"torusscan/internal/metrics"
	"torusscan/internal/models"
	"torusscan/internal/networks"
)

// resetStagger is the pause between reopening the two connections so a
// flapping node is not hit by both dials at once.
const resetStagger = 500 * time.Millisecond

// defaultRequestsPerSecond bounds the raw connection's call rate.
const defaultRequestsPerSecond = 50

// Client is a stateful, reconnecting RPC client for one substrate chain
// endpoint. It owns two independent connections: a raw JSON-RPC websocket
// for block data and a gsrpc connection for metadata, events and storage.
// Workers own their client; it is not shared across components.
type Client struct {
	network networks.Network
	params  networks.Params
	url     string
	log     *logrus.Entry

	mu          sync.RWMutex
	blockConn   *rpcConn
	eventsAPI   *gsrpc.SubstrateAPI
	meta        *types.Metadata
	eventReg    registry.EventRegistry
	callNames   map[types.CallIndex]string
	tsCallIndex types.CallIndex
	decimals    int

	eventParser parser.EventParser
}

// NewClient dials both connections and initializes runtime metadata.
func NewClient(ctx context.Context, network networks.Network, url string, log *logrus.Logger) (*Client, error) {
	c := &Client{
		network:     network,
		params:      networks.MustParams(network),
		url:         url,
		log:         log.WithField("component", "node").WithField("network", string(network)),
		eventParser: parser.NewEventParser(),
		decimals:    networks.MustParams(network).NativeDecimals,
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// connect opens both connections (staggered) and loads metadata and the
// decode registries from the events connection.
func (c *Client) connect(ctx context.Context) error {
	blockConn, err := dialRPC(ctx, c.url, defaultRequestsPerSecond)
	if err != nil {
		return errors.Wrap(err, "block-data connection")
	}

	select {
	case <-ctx.Done():
		_ = blockConn.close()
		return ctx.Err()
	case <-time.After(resetStagger):
	}

	api, err := gsrpc.NewSubstrateAPI(c.url)
	if err != nil {
		_ = blockConn.close()
		return errors.Wrap(err, "events connection")
	}

	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil || meta == nil {
		_ = blockConn.close()
		if err == nil {
			err = ErrMetadataNull
		}
		return errors.Wrap(err, "runtime metadata")
	}

	factory := registry.NewFactory()
	eventReg, err := factory.CreateEventRegistry(meta)
	if err != nil {
		_ = blockConn.close()
		return errors.Wrap(err, "event registry")
	}

	callNames := map[types.CallIndex]string{}
	if callReg, err := factory.CreateCallRegistry(meta); err != nil {
		// Call names degrade to "Unknown"; events still decode.
		c.log.WithError(err).Warn("call registry unavailable")
	} else {
		for idx, dec := range callReg {
			callNames[idx] = dec.Name
		}
	}

	tsIndex, err := meta.FindCallIndex("Timestamp.set")
	if err != nil {
		_ = blockConn.close()
		return errors.Wrap(err, "resolve Timestamp.set")
	}

	c.mu.Lock()
	c.blockConn = blockConn
	c.eventsAPI = api
	c.meta = meta
	c.eventReg = eventReg
	c.callNames = callNames
	c.tsCallIndex = tsIndex
	c.mu.Unlock()

	c.introspectDecimals(ctx)
	return nil
}

// reset closes both connections, pauses briefly, and reconnects. Called from
// the retry loop on transport or metadata errors.
func (c *Client) reset(ctx context.Context) error {
	metrics.ConnectionResets.WithLabelValues(string(c.network)).Inc()
	c.closeConns()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retryBackoff):
	}
	return c.connect(ctx)
}

func (c *Client) closeConns() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blockConn != nil {
		_ = c.blockConn.close()
		c.blockConn = nil
	}
	if c.eventsAPI != nil {
		if closer, ok := any(c.eventsAPI.Client).(interface{ Close() }); ok {
			closer.Close()
		}
		c.eventsAPI = nil
	}
}

// Close releases both connections. Pending calls fail with a closed-conn
// error; no new work is started afterwards.
func (c *Client) Close() {
	c.closeConns()
}

// Network returns the network this client is bound to.
func (c *Client) Network() networks.Network { return c.network }

func (c *Client) conns() (*rpcConn, *gsrpc.SubstrateAPI, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.blockConn == nil || c.eventsAPI == nil {
		return nil, nil, errors.New("client connections are closed")
	}
	return c.blockConn, c.eventsAPI, nil
}

func (c *Client) metadata() (*types.Metadata, registry.EventRegistry) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta, c.eventReg
}

type rawHeader struct {
	Number     string `json:"number"`
	ParentHash string `json:"parentHash"`
}

type rawBlock struct {
	Block struct {
		Header     rawHeader `json:"header"`
		Extrinsics []string  `json:"extrinsics"`
	} `json:"block"`
}

// CurrentHeight returns the latest block height known to the node.
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.retryForever(ctx, "current_height", func() error {
		conn, _, err := c.conns()
		if err != nil {
			return err
		}
		var header rawHeader
		if err := conn.call(ctx, "chain_getHeader", []any{}, &header); err != nil {
			return err
		}
		h, err := parseHexUint(header.Number)
		if err != nil {
			return err
		}
		height = h
		return nil
	})
	return height, err
}

// BlockByHeight fetches a full canonical block. The block body and the
// events are fetched concurrently on the two connections; both complete or
// neither does. A block whose timestamp extrinsic is absent fails
// permanently with ErrMissingTimestamp.
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (*models.Block, error) {
	var block *models.Block
	err := c.retryForever(ctx, "block_by_height", func() error {
		b, err := c.fetchBlock(ctx, height)
		if err != nil {
			return err
		}
		block = b
		return nil
	})
	return block, err
}

func (c *Client) fetchBlock(ctx context.Context, height uint64) (*models.Block, error) {
	conn, _, err := c.conns()
	if err != nil {
		return nil, err
	}

	var hashHex string
	if err := conn.call(ctx, "chain_getBlockHash", []any{height}, &hashHex); err != nil {
		return nil, errors.Wrapf(err, "block hash for height %d", height)
	}

	var (
		raw    rawBlock
		events []models.Event
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return conn.call(egCtx, "chain_getBlock", []any{hashHex}, &raw)
	})
	eg.Go(func() error {
		var err error
		events, err = c.eventsAt(egCtx, hashHex, height)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrapf(err, "fetch block %d", height)
	}

	txs, tsMillis, err := c.decodeExtrinsics(height, raw.Block.Extrinsics)
	if err != nil {
		return nil, err
	}
	if tsMillis == 0 {
		if height != 0 {
			return nil, permanent(errors.Wrapf(ErrMissingTimestamp, "block %d", height))
		}
		// A genesis block carries no extrinsics, so it has no timestamp of
		// its own; anchor it on its child's so the chain's time axis still
		// covers genesis state. Retried until block 1 exists.
		tsMillis, err = c.timestampOf(ctx, 1)
		if err != nil {
			return nil, errors.Wrap(err, "genesis timestamp")
		}
	}

	applyExtrinsicStatus(txs, events)

	return &models.Block{
		Height:       height,
		Hash:         hashHex,
		Timestamp:    tsMillis,
		Transactions: txs,
		Events:       events,
		Version:      height,
	}, nil
}

// timestampOf fetches just the Timestamp.set value of one block, in ms.
func (c *Client) timestampOf(ctx context.Context, height uint64) (uint64, error) {
	conn, _, err := c.conns()
	if err != nil {
		return 0, err
	}

	var hashHex string
	if err := conn.call(ctx, "chain_getBlockHash", []any{height}, &hashHex); err != nil {
		return 0, errors.Wrapf(err, "block hash for height %d", height)
	}
	var raw rawBlock
	if err := conn.call(ctx, "chain_getBlock", []any{hashHex}, &raw); err != nil {
		return 0, errors.Wrapf(err, "fetch block %d", height)
	}

	_, ts, err := c.decodeExtrinsics(height, raw.Block.Extrinsics)
	if err != nil {
		return 0, err
	}
	if ts == 0 {
		return 0, permanent(errors.Wrapf(ErrMissingTimestamp, "block %d", height))
	}
	return ts, nil
}

// BlocksByRange fetches heights [lo, hi] sequentially, checking cancellation
// between blocks.
func (c *Client) BlocksByRange(ctx context.Context, lo, hi uint64) ([]models.Block, error) {
	if hi < lo {
		return nil, errors.Errorf("invalid range [%d, %d]", lo, hi)
	}
	blocks := make([]models.Block, 0, hi-lo+1)
	for h := lo; h <= hi; h++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := c.BlockByHeight(ctx, h)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *b)
	}
	return blocks, nil
}

// StorageAt queries one storage value at a block hash. Returns nil when the
// key has no value at that block.
func (c *Client) StorageAt(ctx context.Context, blockHash string, module, function string, args ...[]byte) ([]byte, error) {
	var data []byte
	err := c.retryForever(ctx, "storage_at", func() error {
		_, api, err := c.conns()
		if err != nil {
			return err
		}
		meta, _ := c.metadata()
		if meta == nil {
			return ErrMetadataNull
		}

		key, err := types.CreateStorageKey(meta, module, function, args...)
		if err != nil {
			return permanent(errors.Wrapf(err, "storage key %s.%s", module, function))
		}
		hash, err := types.NewHashFromHexString(blockHash)
		if err != nil {
			return permanent(errors.Wrapf(err, "parse block hash %s", blockHash))
		}

		raw, err := api.RPC.State.GetStorageRaw(key, hash)
		if err != nil {
			return err
		}
		if raw == nil {
			data = nil
			return nil
		}
		data = *raw
		return nil
	})
	return data, err
}

// TokenDecimals returns the chain-reported token decimals. When the node
// publishes no system_properties the network constant stands in, rather than
// a width-derived default (u128 runtimes conventionally 12, u256 runtimes
// 18): the supported chains all use u128 balances, and their registered
// constants are exact where the width heuristic is not.
func (c *Client) TokenDecimals() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.decimals
}

// introspectDecimals reads system_properties once per (re)connect.
func (c *Client) introspectDecimals(ctx context.Context) {
	conn, _, err := c.conns()
	if err != nil {
		return
	}

	var props map[string]any
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.call(callCtx, "system_properties", []any{}, &props); err != nil {
		c.log.WithError(err).Debug("system_properties unavailable, keeping decimals fallback")
		return
	}

	if d, ok := propDecimals(props["tokenDecimals"]); ok {
		c.mu.Lock()
		c.decimals = d
		c.mu.Unlock()
	}
}

// propDecimals handles both scalar and per-asset array forms of
// tokenDecimals.
func propDecimals(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case []any:
		if len(x) > 0 {
			if f, ok := x[0].(float64); ok {
				return int(f), true
			}
		}
	}
	return 0, false
}

// applyExtrinsicStatus marks transactions failed when their extrinsic group
// contains System.ExtrinsicFailed.
func applyExtrinsicStatus(txs []models.Transaction, events []models.Event) {
	failed := map[string]bool{}
	for _, ev := range events {
		if ev.ModuleID == "System" && ev.EventID == "ExtrinsicFailed" && ev.ExtrinsicID != "" {
			failed[ev.ExtrinsicID] = true
		}
	}
	for i := range txs {
		if failed[txs[i].ExtrinsicID] {
			txs[i].Status = "failed"
		} else {
			txs[i].Status = "success"
		}
	}
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, errors.New("empty hex number")
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse hex %q", s)
	}
	return v, nil
}
