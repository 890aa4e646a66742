package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// rpcConn is a synchronous JSON-RPC 2.0 connection over websocket. It serves
// the block-data side of the client (chain_getBlock and friends), where the
// responses are plain JSON and no SCALE state is needed. One request is in
// flight at a time; callers serialize through the mutex.
type rpcConn struct {
	url     string
	limiter *rate.Limiter

	mu     sync.Mutex
	ws     *websocket.Conn
	nextID uint64
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	Method  string          `json:"method"` // set on subscription notifications
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// dialRPC opens the websocket connection. requestsPerSecond bounds the call
// rate so retry loops cannot hot-spin the node.
func dialRPC(ctx context.Context, url string, requestsPerSecond int) (*rpcConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return &rpcConn{
		url:     url,
		ws:      ws,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}, nil
}

// call performs one request/response round trip. Subscription notifications
// arriving in between are discarded; we never subscribe on this connection,
// but a node may still push them after a reconnect race.
func (c *rpcConn) call(ctx context.Context, method string, params any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil {
		return errors.New("rpc connection is closed")
	}

	c.nextID++
	id := c.nextID

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		_ = c.ws.SetReadDeadline(deadline)
	} else {
		_ = c.ws.SetWriteDeadline(time.Now().Add(30 * time.Second))
		_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	}

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.ws.WriteJSON(req); err != nil {
		return errors.Wrapf(err, "write %s", method)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var resp rpcResponse
		if err := c.ws.ReadJSON(&resp); err != nil {
			return errors.Wrapf(err, "read %s", method)
		}
		if resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		if len(resp.Result) == 0 || string(resp.Result) == "null" {
			return errors.Errorf("%s returned null", method)
		}
		return errors.Wrapf(json.Unmarshal(resp.Result, result), "decode %s result", method)
	}
}

func (c *rpcConn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return nil
	}
	err := c.ws.Close()
	c.ws = nil
	return err
}
