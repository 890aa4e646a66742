package substrate

import (
	"math/big"
	"testing"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	subkey "github.com/vedhavyas/go-subkey/v2"
)

func TestCompactDecode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   []byte
		want uint64
	}{
		{name: "zero", in: []byte{0x00}, want: 0},
		{name: "one", in: []byte{0x04}, want: 1},
		{name: "forty two", in: []byte{0xa8}, want: 42},
		{name: "two byte mode", in: []byte{0x15, 0x01}, want: 69},
		{name: "two byte max", in: []byte{0xfd, 0xff}, want: 16383},
		{name: "four byte mode", in: []byte{0x02, 0x00, 0x01, 0x00}, want: 16384},
		{name: "big int mode", in: []byte{0x07, 0x00, 0x00, 0x00, 0x00, 0x01}, want: 1 << 32},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := newScaleReader(tc.in).compact()
			if err != nil {
				t.Fatalf("compact(%x): %v", tc.in, err)
			}
			if got.Uint64() != tc.want {
				t.Fatalf("compact(%x)=%d want %d", tc.in, got.Uint64(), tc.want)
			}
		})
	}
}

func TestCompactDecodeTruncated(t *testing.T) {
	t.Parallel()

	for _, in := range [][]byte{{}, {0x15}, {0x02, 0x00}, {0x07, 0x00}} {
		if _, err := newScaleReader(in).compact(); err == nil {
			t.Fatalf("compact(%x) expected error", in)
		}
	}
}

// compactLen encodes a small length in SCALE compact form.
func compactLen(v int) []byte {
	if v < 1<<6 {
		return []byte{byte(v << 2)}
	}
	x := uint64(v)<<2 | 0x01
	return []byte{byte(x), byte(x >> 8)}
}

// compactBig encodes v in SCALE compact big-integer mode (mode 3).
func compactBig(v *big.Int) []byte {
	be := v.Bytes()
	n := len(be)
	le := make([]byte, n)
	for i, b := range be {
		le[n-1-i] = b
	}
	return append([]byte{byte((n-4)<<2) | 0x03}, le...)
}

func TestDecodeTimestampInherent(t *testing.T) {
	t.Parallel()

	tsIndex := types.CallIndex{SectionIndex: 3, MethodIndex: 0}
	now := big.NewInt(1_700_000_000_000)

	payload := []byte{0x04, 0x03, 0x00} // unsigned v4, Timestamp.set
	payload = append(payload, compactBig(now)...)
	data := append(compactLen(len(payload)), payload...)

	call, signer, got := decodeOneExtrinsic(newScaleReader(data), nil, tsIndex, 42)
	if call != "Timestamp.set" {
		t.Fatalf("call=%q want Timestamp.set", call)
	}
	if signer != "" {
		t.Fatalf("signer=%q want empty", signer)
	}
	if got != now.Uint64() {
		t.Fatalf("now=%d want %d", got, now.Uint64())
	}
}

func TestDecodeSignedExtrinsic(t *testing.T) {
	t.Parallel()

	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = byte(i + 1)
	}

	payload := []byte{0x84} // signed v4
	payload = append(payload, 0x00)
	payload = append(payload, pub...) // MultiAddress::Id
	payload = append(payload, 0x01)
	payload = append(payload, make([]byte, 64)...) // sr25519 signature
	payload = append(payload, 0x00)                // immortal era
	payload = append(payload, 0x00)                // nonce
	payload = append(payload, 0x00)                // tip
	payload = append(payload, 0x05, 0x00)          // call index

	data := append(compactLen(len(payload)), payload...)

	callNames := map[types.CallIndex]string{
		{SectionIndex: 5, MethodIndex: 0}: "Balances.transfer_allow_death",
	}

	call, signer, now := decodeOneExtrinsic(newScaleReader(data), callNames, types.CallIndex{SectionIndex: 3}, 42)
	if call != "Balances.transfer_allow_death" {
		t.Fatalf("call=%q", call)
	}
	if want := subkey.SS58Encode(pub, 42); signer != want {
		t.Fatalf("signer=%q want %q", signer, want)
	}
	if now != 0 {
		t.Fatalf("now=%d want 0", now)
	}
}

func TestDecodeSignedExtrinsicWithExtensionByte(t *testing.T) {
	t.Parallel()

	pub := make([]byte, 32)

	payload := []byte{0x84}
	payload = append(payload, 0x00)
	payload = append(payload, pub...)
	payload = append(payload, 0x00)
	payload = append(payload, make([]byte, 64)...)
	payload = append(payload, 0x00)       // era
	payload = append(payload, 0x00)       // nonce
	payload = append(payload, 0x00)       // tip
	payload = append(payload, 0x00)       // extension mode byte
	payload = append(payload, 0x07, 0x02) // call index after the extension

	data := append(compactLen(len(payload)), payload...)

	callNames := map[types.CallIndex]string{
		{SectionIndex: 7, MethodIndex: 2}: "Staking.bond",
	}

	call, _, _ := decodeOneExtrinsic(newScaleReader(data), callNames, types.CallIndex{}, 0)
	if call != "Staking.bond" {
		t.Fatalf("call=%q want Staking.bond", call)
	}
}

func TestDecodeExtrinsicsGenesis(t *testing.T) {
	t.Parallel()

	// A genesis block body carries no extrinsics at all. That must decode
	// cleanly to zero transactions and a zero timestamp, so the fetch path
	// can substitute the child block's timestamp instead of failing.
	c := &Client{}
	txs, ts, err := c.decodeExtrinsics(0, nil)
	if err != nil {
		t.Fatalf("decodeExtrinsics(0, nil): %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("txs=%d want 0", len(txs))
	}
	if ts != 0 {
		t.Fatalf("ts=%d want 0", ts)
	}
}

func TestPropDecimals(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   any
		want int
		ok   bool
	}{
		{name: "scalar", in: float64(12), want: 12, ok: true},
		{name: "per-asset array", in: []any{float64(9), float64(6)}, want: 9, ok: true},
		{name: "empty array", in: []any{}, ok: false},
		{name: "absent", in: nil, ok: false},
		{name: "wrong type", in: "12", ok: false},
	}
	for _, tc := range cases {
		got, ok := propDecimals(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%s: propDecimals(%v)=(%d,%v) want (%d,%v)", tc.name, tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestSplitCallName(t *testing.T) {
	t.Parallel()

	if m, f := splitCallName("Balances.Transfer"); m != "Balances" || f != "Transfer" {
		t.Fatalf("got %q %q", m, f)
	}
	if m, f := splitCallName("bare"); m != "bare" || f != "Unknown" {
		t.Fatalf("got %q %q", m, f)
	}
}
