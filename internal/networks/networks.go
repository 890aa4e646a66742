package networks

import (
	"fmt"
	"strings"
	"time"
)

// Network identifies one of the supported substrate chains.
type Network string

const (
	Torus            Network = "torus"
	TorusTestnet     Network = "torus_testnet"
	Bittensor        Network = "bittensor"
	BittensorTestnet Network = "bittensor_testnet"
	Polkadot         Network = "polkadot"
)

// NativeContract is the reserved contract string for a chain's native asset.
const NativeContract = "native"

// Params holds the per-network constants the indexers depend on.
type Params struct {
	Network Network

	// NativeSymbol is the chain's built-in token symbol (contract = "native").
	NativeSymbol string

	// NativeDecimals is the decimal scale of the native token's raw units.
	NativeDecimals int

	// BlockTimeSeconds is the target block interval.
	BlockTimeSeconds int

	// PartitionSize is the block-stream backfill partition width in blocks.
	PartitionSize uint64

	// SS58Prefix is the address encoding prefix for 32-byte account ids.
	SS58Prefix uint16
}

var registry = map[Network]Params{
	Torus: {
		Network:          Torus,
		NativeSymbol:     "TOR",
		NativeDecimals:   18,
		BlockTimeSeconds: 8,
		PartitionSize:    324_000,
		SS58Prefix:       42,
	},
	TorusTestnet: {
		Network:          TorusTestnet,
		NativeSymbol:     "TOR",
		NativeDecimals:   18,
		BlockTimeSeconds: 8,
		PartitionSize:    324_000,
		SS58Prefix:       42,
	},
	Bittensor: {
		Network:          Bittensor,
		NativeSymbol:     "TAO",
		NativeDecimals:   18,
		BlockTimeSeconds: 12,
		PartitionSize:    216_000,
		SS58Prefix:       42,
	},
	BittensorTestnet: {
		Network:          BittensorTestnet,
		NativeSymbol:     "TAO",
		NativeDecimals:   18,
		BlockTimeSeconds: 12,
		PartitionSize:    216_000,
		SS58Prefix:       42,
	},
	Polkadot: {
		Network:          Polkadot,
		NativeSymbol:     "DOT",
		NativeDecimals:   10,
		BlockTimeSeconds: 6,
		PartitionSize:    432_000,
		SS58Prefix:       0,
	},
}

// Parse resolves a user-supplied network name (case-insensitive, dashes
// accepted) to a Network.
func Parse(name string) (Network, error) {
	n := Network(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_"))
	if _, ok := registry[n]; !ok {
		return "", fmt.Errorf("unknown network %q", name)
	}
	return n, nil
}

// MustParams returns the constants for a known network and panics otherwise.
// Callers validate the network via Parse at startup, so a miss here is a bug.
func MustParams(n Network) Params {
	p, ok := registry[n]
	if !ok {
		panic(fmt.Sprintf("networks: no params registered for %q", n))
	}
	return p
}

// All returns every registered network, mainnet entries first.
func All() []Network {
	return []Network{Torus, TorusTestnet, Bittensor, BittensorTestnet, Polkadot}
}

// BlockTime returns the target block interval as a duration.
func (p Params) BlockTime() time.Duration {
	return time.Duration(p.BlockTimeSeconds) * time.Second
}

// EnvPrefix is the uppercased prefix used for this network's environment
// variables, e.g. TORUS_NODE_WS_URL.
func (n Network) EnvPrefix() string {
	return strings.ToUpper(string(n))
}

// IsTorus reports whether n is a Torus network (mainnet or testnet). Torus
// chains carry the Torus0 pallet, which changes staking queries and adds
// network-specific events.
func (n Network) IsTorus() bool {
	return n == Torus || n == TorusTestnet
}

// IsBittensor reports whether n is a Bittensor network.
func (n Network) IsBittensor() bool {
	return n == Bittensor || n == BittensorTestnet
}
