package substrate

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	subkey "github.com/vedhavyas/go-subkey/v2"

	"torusscan/internal/models"
)

func TestEncodeEventFieldsTransfer(t *testing.T) {
	t.Parallel()

	from := make([]byte, 32)
	to := make([]byte, 32)
	for i := range from {
		from[i] = 0xAA
		to[i] = 0xBB
	}

	fromVal := make([]any, 32)
	toVal := make([]any, 32)
	for i := 0; i < 32; i++ {
		fromVal[i] = types.U8(from[i])
		toVal[i] = types.U8(to[i])
	}

	fields := registry.DecodedFields{
		{Name: "from", Value: fromVal},
		{Name: "to", Value: toVal},
		{Name: "amount", Value: types.NewU128(*big.NewInt(0).Mul(big.NewInt(1e9), big.NewInt(1e9)))},
	}

	raw, err := encodeEventFields(fields, 42)
	if err != nil {
		t.Fatalf("encodeEventFields: %v", err)
	}

	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		t.Fatalf("unmarshal attributes: %v", err)
	}

	if got, want := attrs["from"], subkey.SS58Encode(from, 42); got != want {
		t.Fatalf("from=%v want %v", got, want)
	}
	if got, want := attrs["to"], subkey.SS58Encode(to, 42); got != want {
		t.Fatalf("to=%v want %v", got, want)
	}
	// Amounts are decimal strings, never floats.
	if got := attrs["amount"]; got != "1000000000000000000" {
		t.Fatalf("amount=%v (%T)", got, got)
	}
}

func TestConvertDecodedValueScalars(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   any
		want any
	}{
		{name: "u32", in: types.U32(7), want: uint64(7)},
		{name: "u64", in: types.U64(9), want: uint64(9)},
		{name: "bool", in: true, want: true},
		{name: "string", in: "x", want: "x"},
		{name: "big int", in: big.NewInt(12345), want: "12345"},
		{name: "bytes", in: types.Bytes{0xde, 0xad}, want: "0xdead"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := convertDecodedValue("x", tc.in, 42); got != tc.want {
				t.Fatalf("convertDecodedValue(%v)=%v want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestConvertDecodedValueNonAccount32Bytes(t *testing.T) {
	t.Parallel()

	// 32-byte values under non-account names stay hex (block hashes etc.).
	val := make([]any, 32)
	for i := range val {
		val[i] = types.U8(0x11)
	}
	got := convertDecodedValue("hash", val, 42)
	s, ok := got.(string)
	if !ok || len(s) != 66 || s[:2] != "0x" {
		t.Fatalf("got %v", got)
	}
}

func TestConvertDecodedValueNested(t *testing.T) {
	t.Parallel()

	nested := registry.DecodedFields{
		{Name: "netuid", Value: types.U16(12)},
	}
	got := convertDecodedValue("subnet", nested, 42)
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("got %T", got)
	}
	if m["netuid"] != uint64(12) {
		t.Fatalf("netuid=%v", m["netuid"])
	}
}

func TestApplyExtrinsicStatus(t *testing.T) {
	t.Parallel()

	txs := []models.Transaction{
		{ExtrinsicID: "100-0"},
		{ExtrinsicID: "100-1"},
		{ExtrinsicID: "100-2"},
	}
	events := []models.Event{
		{EventIdx: "100-0", ExtrinsicID: "100-1", ModuleID: "System", EventID: "ExtrinsicFailed"},
		{EventIdx: "100-1", ExtrinsicID: "100-2", ModuleID: "System", EventID: "ExtrinsicSuccess"},
	}

	applyExtrinsicStatus(txs, events)

	for i, want := range []string{"success", "failed", "success"} {
		if txs[i].Status != want {
			t.Fatalf("tx %d status=%q want %q", i, txs[i].Status, want)
		}
	}
}
