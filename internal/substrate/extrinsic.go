package substrate

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/pkg/errors"
	subkey "github.com/vedhavyas/go-subkey/v2"
	"golang.org/x/crypto/blake2b"

	"torusscan/internal/models"
)

// decodeExtrinsics turns the raw SCALE-encoded extrinsics of one block into
// transaction rows and extracts the block timestamp from the Timestamp.set
// inherent. Decoding is lenient: runtimes carry custom signed extensions
// (Bittensor in particular), so an extrinsic whose call cannot be located
// still yields a row with its id, hash and signer, and call names fall back
// to "Unknown". A zero returned timestamp means the inherent was absent.
func (c *Client) decodeExtrinsics(height uint64, raws []string) ([]models.Transaction, uint64, error) {
	c.mu.RLock()
	callNames := c.callNames
	tsIndex := c.tsCallIndex
	prefix := c.params.SS58Prefix
	c.mu.RUnlock()

	txs := make([]models.Transaction, 0, len(raws))
	var tsMillis uint64

	for i, raw := range raws {
		data, err := hexDecode(raw)
		if err != nil {
			return nil, 0, permanent(errors.Wrapf(err, "extrinsic %d-%d hex", height, i))
		}

		sum := blake2b.Sum256(data)
		tx := models.Transaction{
			ExtrinsicID:   fmt.Sprintf("%d-%d", height, i),
			ExtrinsicHash: "0x" + hex.EncodeToString(sum[:]),
			CallModule:    "Unknown",
			CallFunction:  "Unknown",
		}

		dec := newScaleReader(data)
		call, signer, now := decodeOneExtrinsic(dec, callNames, tsIndex, prefix)
		if signer != "" {
			tx.Signer = signer
		}
		if call != "" {
			tx.CallModule, tx.CallFunction = splitCallName(call)
		}
		if now != 0 {
			tsMillis = now
		}

		txs = append(txs, tx)
	}

	return txs, tsMillis, nil
}

// decodeOneExtrinsic walks one extrinsic's envelope. Returns the resolved
// call name (empty if unresolved), the SS58 signer (empty if unsigned or
// undecodable) and, for the timestamp inherent, the `now` argument in ms.
func decodeOneExtrinsic(r *scaleReader, callNames map[types.CallIndex]string, tsIndex types.CallIndex, prefix uint16) (call, signer string, now uint64) {
	if _, err := r.compact(); err != nil { // length prefix
		return "", "", 0
	}
	version, err := r.byte()
	if err != nil {
		return "", "", 0
	}
	signed := version&0x80 != 0

	if !signed {
		idx, err := r.callIndex()
		if err != nil {
			return "", "", 0
		}
		if idx == tsIndex {
			if v, err := r.compact(); err == nil {
				now = v.Uint64()
			}
			return "Timestamp.set", "", now
		}
		return callNames[idx], "", 0
	}

	signer = r.multiAddress(prefix)
	if !r.multiSignature() || !r.era() {
		return "", signer, 0
	}
	if _, err := r.compact(); err != nil { // nonce
		return "", signer, 0
	}
	if _, err := r.compact(); err != nil { // tip
		return "", signer, 0
	}

	// Whatever follows depends on the runtime's signed extensions; standard
	// runtimes put the call index right here, some insert extension payloads
	// (e.g. a CheckMetadataHash mode byte) first. Probe a few offsets for an
	// index the call registry knows.
	pos := r.pos
	for skip := 0; skip <= 4; skip++ {
		r.pos = pos + skip
		idx, err := r.callIndex()
		if err != nil {
			break
		}
		if name, ok := callNames[idx]; ok {
			return name, signer, 0
		}
	}
	return "", signer, 0
}

func splitCallName(name string) (module, function string) {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i], name[i+1:]
	}
	return name, "Unknown"
}

// scaleReader is a minimal SCALE cursor over one extrinsic's bytes. Only the
// envelope forms needed here are implemented.
type scaleReader struct {
	data []byte
	pos  int
}

func newScaleReader(data []byte) *scaleReader {
	return &scaleReader{data: data}
}

func (r *scaleReader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errors.New("scale: unexpected end of data")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *scaleReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, errors.New("scale: unexpected end of data")
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// compact decodes a SCALE compact unsigned integer.
func (r *scaleReader) compact() (*big.Int, error) {
	b0, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch b0 & 0x03 {
	case 0:
		return big.NewInt(int64(b0 >> 2)), nil
	case 1:
		b1, err := r.byte()
		if err != nil {
			return nil, err
		}
		return big.NewInt(int64((uint64(b0) | uint64(b1)<<8) >> 2)), nil
	case 2:
		bs, err := r.take(3)
		if err != nil {
			return nil, err
		}
		v := uint64(b0) | uint64(bs[0])<<8 | uint64(bs[1])<<16 | uint64(bs[2])<<24
		return new(big.Int).SetUint64(v >> 2), nil
	default:
		n := int(b0>>2) + 4
		bs, err := r.take(n)
		if err != nil {
			return nil, err
		}
		le := make([]byte, n)
		for i, b := range bs {
			le[n-1-i] = b
		}
		return new(big.Int).SetBytes(le), nil
	}
}

func (r *scaleReader) callIndex() (types.CallIndex, error) {
	bs, err := r.take(2)
	if err != nil {
		return types.CallIndex{}, err
	}
	return types.CallIndex{SectionIndex: bs[0], MethodIndex: bs[1]}, nil
}

// multiAddress consumes a MultiAddress and returns the SS58 form for the Id
// variant, empty otherwise.
func (r *scaleReader) multiAddress(prefix uint16) string {
	tag, err := r.byte()
	if err != nil {
		return ""
	}
	switch tag {
	case 0: // Id(AccountId32)
		id, err := r.take(32)
		if err != nil {
			return ""
		}
		return subkey.SS58Encode(id, prefix)
	case 1: // Index(compact)
		_, _ = r.compact()
	case 2: // Raw(Vec<u8>)
		if n, err := r.compact(); err == nil {
			_, _ = r.take(int(n.Int64()))
		}
	case 3: // Address32
		_, _ = r.take(32)
	case 4: // Address20
		_, _ = r.take(20)
	}
	return ""
}

// multiSignature consumes a MultiSignature; false when the data ran out.
func (r *scaleReader) multiSignature() bool {
	tag, err := r.byte()
	if err != nil {
		return false
	}
	n := 64
	if tag == 2 { // Ecdsa
		n = 65
	}
	_, err = r.take(n)
	return err == nil
}

// era consumes an extrinsic era: one byte for immortal, two for mortal.
func (r *scaleReader) era() bool {
	b0, err := r.byte()
	if err != nil {
		return false
	}
	if b0 == 0 {
		return true
	}
	_, err = r.byte()
	return err == nil
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
