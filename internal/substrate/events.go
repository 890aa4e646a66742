package substrate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/pkg/errors"
	subkey "github.com/vedhavyas/go-subkey/v2"

	"torusscan/internal/models"
)

// eventsAt reads and decodes System.Events at the given block hash using the
// dynamic registry built from runtime metadata, so pallets the client has no
// static types for (Torus0, SubtensorModule) decode too.
func (c *Client) eventsAt(ctx context.Context, blockHashHex string, height uint64) ([]models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, api, err := c.conns()
	if err != nil {
		return nil, err
	}
	meta, eventReg := c.metadata()
	if meta == nil || eventReg == nil {
		return nil, ErrMetadataNull
	}

	key, err := types.CreateStorageKey(meta, "System", "Events")
	if err != nil {
		return nil, errors.Wrap(err, "events storage key")
	}
	hash, err := types.NewHashFromHexString(blockHashHex)
	if err != nil {
		return nil, permanent(errors.Wrapf(err, "parse block hash %s", blockHashHex))
	}

	raw, err := api.RPC.State.GetStorageRaw(key, hash)
	if err != nil {
		return nil, errors.Wrapf(err, "events at %s", blockHashHex)
	}
	if raw == nil || len(*raw) == 0 {
		return nil, nil
	}

	parsed, err := c.eventParser.ParseEvents(eventReg, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode events at height %d", height)
	}

	events := make([]models.Event, 0, len(parsed))
	for i, ev := range parsed {
		moduleID, eventID := splitCallName(ev.Name)

		extrinsicID := ""
		if ev.Phase != nil && ev.Phase.IsApplyExtrinsic {
			extrinsicID = fmt.Sprintf("%d-%d", height, ev.Phase.AsApplyExtrinsic)
		}

		attrs, err := encodeEventFields(ev.Fields, c.params.SS58Prefix)
		if err != nil {
			return nil, errors.Wrapf(err, "encode attributes of %s at %d", ev.Name, height)
		}

		events = append(events, models.Event{
			EventIdx:    fmt.Sprintf("%d-%d", height, i),
			ExtrinsicID: extrinsicID,
			ModuleID:    moduleID,
			EventID:     eventID,
			Attributes:  attrs,
		})
	}
	return events, nil
}

// accountFieldNames are attribute names whose 32-byte values are account ids
// and get SS58-encoded rather than hex-encoded.
var accountFieldNames = map[string]bool{
	"from": true, "to": true, "who": true, "account": true, "stash": true,
	"owner": true, "coldkey": true, "hotkey": true, "bidder": true,
	"agent": true, "dest": true, "source": true, "target": true,
	"beneficiary": true, "payee": true, "staker": true, "validator": true,
}

// encodeEventFields renders decoded event fields as a JSON object keyed by
// the (lowercased) metadata field names. Unnamed fields get positional keys.
func encodeEventFields(fields registry.DecodedFields, prefix uint16) (json.RawMessage, error) {
	attrs := fieldsToMap(fields, prefix)
	out, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func fieldsToMap(fields registry.DecodedFields, prefix uint16) map[string]any {
	attrs := make(map[string]any, len(fields))
	for i, f := range fields {
		name := strings.ToLower(strings.TrimSpace(f.Name))
		if name == "" {
			name = fmt.Sprintf("field_%d", i)
		}
		attrs[name] = convertDecodedValue(name, f.Value, prefix)
	}
	return attrs
}

// convertDecodedValue maps a registry-decoded value to a JSON-friendly form.
// Large integers become decimal strings so amounts never pass through
// floats; 32-byte values become SS58 addresses for account-like fields and
// 0x-hex otherwise.
func convertDecodedValue(name string, v any, prefix uint16) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return x
	case string:
		return x
	case types.U8:
		return uint64(x)
	case types.U16:
		return uint64(x)
	case types.U32:
		return uint64(x)
	case types.U64:
		return uint64(x)
	case types.I8:
		return int64(x)
	case types.I16:
		return int64(x)
	case types.I32:
		return int64(x)
	case types.I64:
		return int64(x)
	case types.U128:
		return x.String()
	case types.U256:
		return x.String()
	case big.Int:
		return x.String()
	case *big.Int:
		return x.String()
	case types.Bytes:
		return "0x" + hex.EncodeToString(x)
	case []byte:
		return bytesValue(name, x, prefix)
	case registry.DecodedFields:
		return fieldsToMap(x, prefix)
	case []any:
		return sliceValue(name, x, prefix)
	}

	if b, ok := thirtyTwoBytes(v); ok {
		return bytesValue(name, b, prefix)
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}

func sliceValue(name string, xs []any, prefix uint16) any {
	// A slice of small unsigned ints is a byte blob (commonly an account id).
	if bs, ok := byteSlice(xs); ok {
		return bytesValue(name, bs, prefix)
	}
	out := make([]any, len(xs))
	for i, e := range xs {
		out[i] = convertDecodedValue(name, e, prefix)
	}
	return out
}

func bytesValue(name string, b []byte, prefix uint16) any {
	if len(b) == 32 && accountFieldNames[name] {
		return subkey.SS58Encode(b, prefix)
	}
	return "0x" + hex.EncodeToString(b)
}

func byteSlice(xs []any) ([]byte, bool) {
	if len(xs) == 0 {
		return nil, false
	}
	out := make([]byte, len(xs))
	for i, e := range xs {
		switch b := e.(type) {
		case types.U8:
			out[i] = byte(b)
		case uint8:
			out[i] = b
		default:
			return nil, false
		}
	}
	return out, true
}

// thirtyTwoBytes detects 32-byte array-shaped values (AccountId32, H256)
// regardless of their concrete named type.
func thirtyTwoBytes(v any) ([]byte, bool) {
	if tb, ok := v.(interface{ ToBytes() []byte }); ok {
		b := tb.ToBytes()
		if len(b) == 32 {
			return b, true
		}
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Len() == 32 && rv.Type().Elem().Kind() == reflect.Uint8 {
		out := make([]byte, 32)
		for i := 0; i < 32; i++ {
			out[i] = byte(rv.Index(i).Uint())
		}
		return out, true
	}
	return nil, false
}
