package ingester

import (
	"fmt"

	"github.com/shopspring/decimal"

	"torusscan/internal/models"
	"torusscan/internal/networks"
)

// pseudoTransfer is a value movement implied by a protocol event rather than
// an explicit transfer call: rewards, stake moves, treasury spends. Amounts
// are raw chain units; fee is always zero.
type pseudoTransfer struct {
	From   string
	To     string
	Amount decimal.Decimal
}

// transferStrategy extracts the network's pseudo-transfers from one event.
// Common Balances handling lives in the shared extraction routine; only the
// per-runtime emission events differ.
type transferStrategy interface {
	Extract(ev models.Event, attrs eventAttrs) []pseudoTransfer
}

func transferStrategyFor(n networks.Network) transferStrategy {
	switch {
	case n.IsTorus():
		return torusStrategy{}
	case n.IsBittensor():
		return bittensorStrategy{}
	default:
		return polkadotStrategy{}
	}
}

type torusStrategy struct{}

func (torusStrategy) Extract(ev models.Event, attrs eventAttrs) []pseudoTransfer {
	switch ev.FullName() {
	case "Staking.Reward":
		to := attrs.str("stash", "who", "account")
		amount, ok := attrs.amount("amount")
		if to == "" || !ok {
			return nil
		}
		return []pseudoTransfer{{From: "system", To: to, Amount: amount}}
	case "Treasury.Awarded":
		to := attrs.str("account", "who")
		amount, ok := attrs.amount("award", "amount")
		if to == "" || !ok {
			return nil
		}
		return []pseudoTransfer{{From: "treasury", To: to, Amount: amount}}
	}
	return nil
}

type bittensorStrategy struct{}

func (bittensorStrategy) Extract(ev models.Event, attrs eventAttrs) []pseudoTransfer {
	switch ev.FullName() {
	case "SubtensorModule.StakeAdded":
		from := attrs.str("coldkey")
		to := attrs.str("hotkey")
		amount, ok := attrs.amount("amount", "stake")
		if from == "" || to == "" || !ok {
			return nil
		}
		return []pseudoTransfer{{From: from, To: to, Amount: amount}}
	case "SubtensorModule.StakeRemoved":
		from := attrs.str("hotkey")
		to := attrs.str("coldkey")
		amount, ok := attrs.amount("amount", "stake")
		if from == "" || to == "" || !ok {
			return nil
		}
		return []pseudoTransfer{{From: from, To: to, Amount: amount}}
	case "SubtensorModule.EmissionReceived":
		to := attrs.str("hotkey", "account")
		amount, ok := attrs.amount("emission", "amount")
		if to == "" || !ok {
			return nil
		}
		return []pseudoTransfer{{From: "emission", To: to, Amount: amount}}
	}
	return nil
}

type polkadotStrategy struct{}

func (polkadotStrategy) Extract(ev models.Event, attrs eventAttrs) []pseudoTransfer {
	switch ev.FullName() {
	case "Staking.Rewarded":
		to := attrs.str("stash", "who")
		amount, ok := attrs.amount("amount")
		if to == "" || !ok {
			return nil
		}
		return []pseudoTransfer{{From: "staking", To: to, Amount: amount}}
	case "Treasury.Awarded":
		to := attrs.str("account", "who")
		amount, ok := attrs.amount("award", "amount")
		if to == "" || !ok {
			return nil
		}
		return []pseudoTransfer{{From: "treasury", To: to, Amount: amount}}
	case "Crowdloan.Contributed":
		from := attrs.str("who", "account")
		fund, ok := attrs.integer("fund_index", "para_id")
		amount, amountOK := attrs.amount("amount")
		if from == "" || !ok || !amountOK {
			return nil
		}
		return []pseudoTransfer{{From: from, To: fmt.Sprintf("crowdloan-%d", fund), Amount: amount}}
	case "Auctions.BidAccepted":
		from := attrs.str("bidder", "who")
		para, ok := attrs.integer("para_id")
		amount, amountOK := attrs.amount("amount")
		if from == "" || !ok || !amountOK {
			return nil
		}
		return []pseudoTransfer{{From: from, To: fmt.Sprintf("auction-%d", para), Amount: amount}}
	}
	return nil
}
