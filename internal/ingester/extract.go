package ingester

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"torusscan/internal/models"
)

// eventAttrs is one event's decoded attribute object.
type eventAttrs map[string]any

func decodeAttrs(ev models.Event) eventAttrs {
	var attrs eventAttrs
	if err := ev.DecodeAttributes(&attrs); err != nil {
		return eventAttrs{}
	}
	return attrs
}

// str returns the first present string-valued attribute among keys.
func (a eventAttrs) str(keys ...string) string {
	for _, k := range keys {
		if v, ok := a[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// amount returns the first present attribute among keys parsed as a raw
// (unscaled) integer amount. Large amounts arrive as decimal strings; small
// ones may arrive as JSON numbers.
func (a eventAttrs) amount(keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		switch v := a[k].(type) {
		case string:
			if d, err := decimal.NewFromString(v); err == nil {
				return d, true
			}
		case float64:
			return decimal.NewFromFloat(v), true
		case int64:
			return decimal.NewFromInt(v), true
		}
	}
	return decimal.Zero, false
}

// integer returns the first present attribute among keys as an int64 (ids,
// indices). Same wire shapes as amount.
func (a eventAttrs) integer(keys ...string) (int64, bool) {
	d, ok := a.amount(keys...)
	if !ok {
		return 0, false
	}
	return d.IntPart(), true
}

// transferAddressKeys are the attribute names that carry addresses in
// transfer-like events across the supported runtimes.
var transferAddressKeys = []string{
	"from", "to", "account", "who", "stash", "coldkey", "hotkey", "bidder", "dest",
}

// transferLikeEvents are the event names whose participants count as touched
// addresses for a canonical block.
var transferLikeEvents = map[string]bool{
	"Balances.Transfer":                true,
	"Balances.Endowed":                 true,
	"Staking.Reward":                   true,
	"Staking.Rewarded":                 true,
	"Treasury.Awarded":                 true,
	"SubtensorModule.StakeAdded":       true,
	"SubtensorModule.StakeRemoved":     true,
	"SubtensorModule.EmissionReceived": true,
	"Crowdloan.Contributed":            true,
	"Auctions.BidAccepted":             true,
	"Assets.Transferred":               true,
}

// ExtractAddresses computes a block's touched-address set: every extrinsic
// signer plus every address field of its transfer-like events, sorted for a
// stable column value.
func ExtractAddresses(txs []models.Transaction, events []models.Event) []string {
	seen := map[string]bool{}
	for _, tx := range txs {
		if tx.Signer != "" {
			seen[tx.Signer] = true
		}
	}
	for _, ev := range events {
		if !transferLikeEvents[ev.FullName()] {
			continue
		}
		attrs := decodeAttrs(ev)
		for _, key := range transferAddressKeys {
			if v, ok := attrs[key].(string); ok && v != "" {
				seen[v] = true
			}
		}
	}

	out := make([]string, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// groupEventsByExtrinsic splits a block's events into per-extrinsic groups
// preserving appearance order. Events outside any extrinsic (inherent and
// finalization phases) form their own group under the empty key.
func groupEventsByExtrinsic(events []models.Event) ([]string, map[string][]models.Event) {
	groups := map[string][]models.Event{}
	var order []string
	for _, ev := range events {
		if _, ok := groups[ev.ExtrinsicID]; !ok {
			order = append(order, ev.ExtrinsicID)
		}
		groups[ev.ExtrinsicID] = append(groups[ev.ExtrinsicID], ev)
	}
	return order, groups
}

func groupHasFailure(group []models.Event) bool {
	for _, ev := range group {
		if ev.ModuleID == "System" && ev.EventID == "ExtrinsicFailed" {
			return true
		}
	}
	return false
}

// scaleAmount converts a raw chain amount to decimal units.
func scaleAmount(raw decimal.Decimal, decimals int) decimal.Decimal {
	return raw.Shift(int32(-decimals))
}

// tokenSymbol names an on-chain asset by its id, e.g. TOKEN_42.
func tokenSymbol(assetID int64) string {
	return fmt.Sprintf("TOKEN_%d", assetID)
}
