package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Block is one canonical row in block_stream: the block header fields plus
// the flattened transactions, events and touched addresses.
type Block struct {
	Height       uint64        `json:"block_height"`
	Hash         string        `json:"block_hash"`
	Timestamp    uint64        `json:"block_timestamp"` // ms since epoch
	Transactions []Transaction `json:"transactions"`
	Events       []Event       `json:"events"`
	Addresses    []string      `json:"addresses"`
	Version      uint64        `json:"_version"`
}

// Transaction is one extrinsic within a canonical block.
type Transaction struct {
	ExtrinsicID   string `json:"extrinsic_id"` // "<height>-<index>"
	ExtrinsicHash string `json:"extrinsic_hash"`
	Signer        string `json:"signer,omitempty"`
	CallModule    string `json:"call_module"`
	CallFunction  string `json:"call_function"`
	Status        string `json:"status"`
}

// Event is one runtime event within a canonical block. Attributes carries the
// decoded event fields as a JSON object keyed by field name.
type Event struct {
	EventIdx    string          `json:"event_idx"`    // "<height>-<eventIndex>"
	ExtrinsicID string          `json:"extrinsic_id"` // empty for non-extrinsic phases
	ModuleID    string          `json:"module_id"`
	EventID     string          `json:"event_id"`
	Attributes  json.RawMessage `json:"attributes"`
}

// FullName returns "Module.Event", e.g. "Balances.Transfer".
func (e Event) FullName() string {
	return e.ModuleID + "." + e.EventID
}

// DecodeAttributes unmarshals the event's attribute JSON into v.
func (e Event) DecodeAttributes(v any) error {
	if len(e.Attributes) == 0 {
		return fmt.Errorf("event %s %s has no attributes", e.EventIdx, e.FullName())
	}
	return json.Unmarshal(e.Attributes, v)
}

// BalanceTransfer is one row in balance_transfers, keyed by
// (extrinsic_id, event_idx) with _version = block height.
type BalanceTransfer struct {
	ExtrinsicID    string          `json:"extrinsic_id"`
	EventIdx       string          `json:"event_idx"`
	BlockHeight    uint64          `json:"block_height"`
	BlockTimestamp uint64          `json:"block_timestamp"`
	FromAddress    string          `json:"from_address"`
	ToAddress      string          `json:"to_address"`
	Asset          string          `json:"asset"`
	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	Version        uint64          `json:"_version"`
}

// BalanceSnapshot is one row in balance_series: the balances of one
// (address, asset) at the end of one period, with deltas against the
// immediately preceding snapshot. Delta fields are nil when no prior
// snapshot exists.
type BalanceSnapshot struct {
	PeriodStart    uint64           `json:"period_start_timestamp"` // ms
	PeriodEnd      uint64           `json:"period_end_timestamp"`   // ms
	BlockHeight    uint64           `json:"block_height"`
	Address        string           `json:"address"`
	Asset          string           `json:"asset"`
	Free           decimal.Decimal  `json:"free_balance"`
	Reserved       decimal.Decimal  `json:"reserved_balance"`
	Staked         decimal.Decimal  `json:"staked_balance"`
	Total          decimal.Decimal  `json:"total_balance"`
	FreeDelta      *decimal.Decimal `json:"free_balance_change,omitempty"`
	ReservedDelta  *decimal.Decimal `json:"reserved_balance_change,omitempty"`
	StakedDelta    *decimal.Decimal `json:"staked_balance_change,omitempty"`
	TotalDelta     *decimal.Decimal `json:"total_balance_change,omitempty"`
	TotalPctChange *decimal.Decimal `json:"total_balance_percent_change,omitempty"`
	Version        uint64           `json:"_version"`
}

// Verification states for an asset row.
const (
	AssetVerified  = "verified"
	AssetUnknown   = "unknown"
	AssetMalicious = "malicious"
)

// Asset types.
const (
	AssetTypeNative = "native"
	AssetTypeToken  = "token"
)

// Asset is one row in the assets dictionary, keyed by (network, contract).
type Asset struct {
	Network            string `json:"network"`
	Symbol             string `json:"asset"`
	Contract           string `json:"asset_contract"`
	Verified           string `json:"asset_verified"`
	Name               string `json:"name,omitempty"`
	Type               string `json:"type"`
	Decimals           int    `json:"decimals"`
	FirstSeenBlock     uint64 `json:"first_seen_block"`
	FirstSeenTimestamp uint64 `json:"first_seen_timestamp"`
	Notes              string `json:"notes,omitempty"`
	LastUpdated        uint64 `json:"last_updated"` // ms, doubles as merge version
}

// KnownAddress is one externally imported row in known_addresses.
type KnownAddress struct {
	Network string `json:"network"`
	Address string `json:"address"`
	Source  string `json:"source"`
	Label   string `json:"label"`
}

// Partition progress states reported by the block-stream status query.
const (
	PartitionCompleted          = "completed"
	PartitionIncomplete         = "incomplete"
	PartitionIncompleteWithGaps = "incomplete_with_gaps"
	PartitionNotStarted         = "not_started"
)

// HeightRange is an inclusive block-height range.
type HeightRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// PartitionStatus is the per-partition progress report.
type PartitionStatus struct {
	Partition       uint64        `json:"partition"`
	Start           uint64        `json:"start"`
	End             uint64        `json:"end"` // effective end, capped at chain head
	ExpectedBlocks  uint64        `json:"expected_blocks"`
	BlockCount      uint64        `json:"block_count"`
	FirstIndexed    uint64        `json:"first_indexed"`
	LastIndexed     uint64        `json:"last_indexed"`
	HasGaps         bool          `json:"has_gaps"`
	Status          string        `json:"status"`
	RemainingBlocks uint64        `json:"remaining_blocks"`
	RemainingRanges []HeightRange `json:"remaining_ranges,omitempty"`
}
