package substrate

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"torusscan/internal/metrics"
)

// Sentinel errors surfaced by the client. ErrMissingTimestamp is permanent
// per block; everything else is retried until the context is cancelled.
var (
	ErrMissingTimestamp = errors.New("block has no timestamp extrinsic")
	ErrMetadataNull     = errors.New("runtime metadata not initialized")
)

// retryBackoff is the constant sleep between attempts.
const retryBackoff = time.Second

// logEveryN throttles connection-error logging to every Nth retry.
const logEveryN = 10

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// permanent marks an error as not retryable.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// retryForever runs fn until it succeeds, fails permanently, or ctx is
// cancelled. Metadata errors force a full connection reset before the next
// attempt. Connection errors are logged only every Nth retry.
func (c *Client) retryForever(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		attempt++
		metrics.RPCRetries.WithLabelValues(string(c.network), op).Inc()

		if needsReset(err) {
			c.log.WithError(err).WithField("op", op).Warn("resetting node connections")
			if rerr := c.reset(ctx); rerr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.log.WithError(rerr).Warn("connection reset failed, will retry")
			}
		} else if attempt%logEveryN == 1 {
			c.log.WithError(err).WithFields(map[string]any{"op": op, "attempt": attempt}).
				Warn("node call failed, retrying")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
}

// needsReset reports whether the error indicates stale connections or
// uninitialized runtime metadata, both of which require a reconnect before
// any retry can succeed.
func needsReset(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMetadataNull) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"metadata",
		"websocket: close",
		"use of closed network connection",
		"broken pipe",
		"connection reset by peer",
		"unexpected eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
