package genesis

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Allocation is one genesis balance: an address and its raw free amount.
type Allocation struct {
	Address string
	Amount  decimal.Decimal
}

// LoadAllocations reads a genesis balances file: a JSON array of
// [address, amount] pairs, amounts as decimal strings in raw chain units.
func LoadAllocations(path string) ([]Allocation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read genesis file %s", path)
	}

	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, errors.Wrapf(err, "parse genesis file %s", path)
	}

	out := make([]Allocation, 0, len(pairs))
	for i, pair := range pairs {
		var address string
		if err := json.Unmarshal(pair[0], &address); err != nil {
			return nil, errors.Wrapf(err, "genesis entry %d address", i)
		}

		// Amounts may be quoted strings or bare numbers.
		var amountStr string
		if err := json.Unmarshal(pair[1], &amountStr); err != nil {
			var amountNum json.Number
			if err := json.Unmarshal(pair[1], &amountNum); err != nil {
				return nil, errors.Wrapf(err, "genesis entry %d amount", i)
			}
			amountStr = amountNum.String()
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, errors.Wrapf(err, "genesis entry %d amount %q", i, amountStr)
		}
		if amount.IsNegative() {
			return nil, errors.Errorf("genesis entry %d has negative amount %s", i, amount)
		}

		out = append(out, Allocation{Address: address, Amount: amount})
	}
	return out, nil
}
