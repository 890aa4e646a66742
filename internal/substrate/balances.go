package substrate

import (
	"bytes"
	"context"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/xxhash"
	"github.com/pkg/errors"
	subkey "github.com/vedhavyas/go-subkey/v2"
	"golang.org/x/crypto/blake2b"
)

// Balances holds one account's balances at a block, in raw chain units.
// Total = Free + Reserved + Staked.
type Balances struct {
	Free     *big.Int
	Reserved *big.Int
	Staked   *big.Int
	Total    *big.Int
}

// accountInfo matches the System.Account storage layout of current runtimes
// (free/reserved/frozen/flags account data).
type accountInfo struct {
	Nonce       types.U32
	Consumers   types.U32
	Providers   types.U32
	Sufficients types.U32
	Data        struct {
		Free     types.U128
		Reserved types.U128
		Frozen   types.U128
		Flags    types.U128
	}
}

// BalancesAt queries System.Account for the address at the given block hash.
// On Torus networks the staked component additionally sums the account's
// Torus0.StakingTo entries; elsewhere staked is zero (locked stake is part
// of free/reserved on those chains).
func (c *Client) BalancesAt(ctx context.Context, blockHash string, address string) (Balances, error) {
	_, pub, err := subkey.SS58Decode(address)
	if err != nil {
		return Balances{}, errors.Wrapf(err, "decode address %s", address)
	}

	raw, err := c.StorageAt(ctx, blockHash, "System", "Account", pub)
	if err != nil {
		return Balances{}, err
	}

	b := Balances{
		Free:     new(big.Int),
		Reserved: new(big.Int),
		Staked:   new(big.Int),
	}
	if len(raw) > 0 {
		var info accountInfo
		if err := scale.NewDecoder(bytes.NewReader(raw)).Decode(&info); err != nil {
			return Balances{}, errors.Wrapf(err, "decode System.Account for %s", address)
		}
		b.Free = info.Data.Free.Int
		b.Reserved = info.Data.Reserved.Int
	}

	if c.network.IsTorus() {
		staked, err := c.stakingToSum(ctx, blockHash, pub)
		if err != nil {
			return Balances{}, err
		}
		b.Staked = staked
	}

	b.Total = new(big.Int).Add(new(big.Int).Add(b.Free, b.Reserved), b.Staked)
	return b, nil
}

// stakingToSum sums all Torus0.StakingTo(staker, *) values for one staker at
// a block hash. The map's first key uses Blake2_128Concat, so all of one
// staker's entries share a prefix we can enumerate with state_getKeys.
func (c *Client) stakingToSum(ctx context.Context, blockHash string, pub []byte) (*big.Int, error) {
	sum := new(big.Int)
	err := c.retryForever(ctx, "staking_to", func() error {
		_, api, err := c.conns()
		if err != nil {
			return err
		}
		hash, err := types.NewHashFromHexString(blockHash)
		if err != nil {
			return permanent(errors.Wrapf(err, "parse block hash %s", blockHash))
		}

		prefix := storageMapPrefix("Torus0", "StakingTo")
		prefix = append(prefix, blake2128Concat(pub)...)

		keys, err := api.RPC.State.GetKeys(types.StorageKey(prefix), hash)
		if err != nil {
			return errors.Wrap(err, "StakingTo keys")
		}
		if len(keys) == 0 {
			sum = new(big.Int)
			return nil
		}

		sets, err := api.RPC.State.QueryStorageAt(keys, hash)
		if err != nil {
			return errors.Wrap(err, "StakingTo values")
		}

		total := new(big.Int)
		for _, set := range sets {
			for _, kv := range set.Changes {
				if !kv.HasStorageData {
					continue
				}
				var v types.U128
				if err := scale.NewDecoder(bytes.NewReader(kv.StorageData)).Decode(&v); err != nil {
					return errors.Wrap(err, "decode StakingTo value")
				}
				total.Add(total, v.Int)
			}
		}
		sum = total
		return nil
	})
	return sum, err
}

// storageMapPrefix is twox128(module) ++ twox128(storage).
func storageMapPrefix(module, storage string) []byte {
	prefix := xxhash.New128([]byte(module)).Sum(nil)
	return append(prefix, xxhash.New128([]byte(storage)).Sum(nil)...)
}

// blake2128Concat is the Blake2_128Concat storage hasher: blake2b-128 of the
// key followed by the key itself.
func blake2128Concat(data []byte) []byte {
	h, err := blake2b.New(16, nil)
	if err != nil {
		panic(err) // blake2b.New only fails on bad key sizes
	}
	h.Write(data)
	return append(h.Sum(nil), data...)
}
