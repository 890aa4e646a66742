package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Mutator is the mutation surface available inside one block's transaction.
// All calls commit or roll back together with the GlobalState marker.
type Mutator interface {
	UpsertAddress(address string, height, ts uint64) error
	UpsertTransfer(t Transfer) error
	LabelAddress(address, label string, height, ts uint64) error
	UpsertNeuron(networkID, neuronID int64, owner string, height, ts uint64) error
	UpsertSubnet(networkID int64, creator string, height, ts uint64) error
}

// Tx applies mutations within one managed write transaction. Created by
// Client.ApplyBlock; never outlives its callback.
type Tx struct {
	ctx context.Context
	tx  neo4j.ManagedTransaction
}

func (t *Tx) run(cypher string, params map[string]any) error {
	result, err := t.tx.Run(t.ctx, cypher, params)
	if err != nil {
		return err
	}
	return result.Err()
}

// LastProcessedHeight reads the GlobalState singleton's block height. Zero
// with ok=false means the graph has never been written.
func (c *Client) LastProcessedHeight(ctx context.Context) (uint64, bool, error) {
	v, ok, err := c.readSingle(ctx,
		`MATCH (g:GlobalState {name: "last_block_height"}) RETURN g.block_height`, nil)
	if err != nil {
		return 0, false, errors.Wrap(err, "read global state")
	}
	if !ok {
		return 0, false, nil
	}
	h, isInt := v.(int64)
	if !isInt {
		return 0, false, errors.Errorf("global state height has type %T", v)
	}
	return uint64(h), true, nil
}

// EdgeID is the TO edge's unique key.
func EdgeID(from, to, asset, contract string) string {
	return fmt.Sprintf("%s-%s-%s-%s", from, to, asset, contract)
}

// Transfer is one value movement to record in the graph.
type Transfer struct {
	From      string
	To        string
	Asset     string
	Contract  string
	Amount    decimal.Decimal
	Height    uint64
	Timestamp uint64 // ms
}

// UpsertAddress records activity on one address (Balances.Endowed and the
// pseudo-transfer counterparties). First-activity fields are set only once.
func (t *Tx) UpsertAddress(address string, height, ts uint64) error {
	return t.run(`
		MERGE (a:Address {address: $address})
		ON CREATE SET
			a.first_activity_timestamp = $ts,
			a.first_activity_height = $height,
			a.transfer_count = 0,
			a.neighbor_count = 0,
			a.unique_senders = 0,
			a.unique_receivers = 0
		SET a.last_activity_timestamp = $ts,
			a.last_activity_height = $height`,
		map[string]any{"address": address, "height": int64(height), "ts": int64(ts)})
}

// UpsertTransfer merges both endpoint Address nodes and the TO edge between
// them. Creating an edge means a new neighbor pair, so the endpoint
// neighbor/unique counters move only on edge creation; volume and counts
// accumulate on every transfer.
func (t *Tx) UpsertTransfer(tr Transfer) error {
	return t.run(`
		MERGE (from:Address {address: $from})
		ON CREATE SET
			from.first_activity_timestamp = $ts,
			from.first_activity_height = $height,
			from.transfer_count = 0,
			from.neighbor_count = 0,
			from.unique_senders = 0,
			from.unique_receivers = 0
		SET from.last_activity_timestamp = $ts,
			from.last_activity_height = $height,
			from.transfer_count = from.transfer_count + 1
		MERGE (to:Address {address: $to})
		ON CREATE SET
			to.first_activity_timestamp = $ts,
			to.first_activity_height = $height,
			to.transfer_count = 0,
			to.neighbor_count = 0,
			to.unique_senders = 0,
			to.unique_receivers = 0
		SET to.last_activity_timestamp = $ts,
			to.last_activity_height = $height,
			to.transfer_count = to.transfer_count + 1
		MERGE (from)-[e:TO {id: $edgeID}]->(to)
		ON CREATE SET
			e.asset = $asset,
			e.asset_contract = $contract,
			e.volume = $amount,
			e.transfer_count = 1,
			e.first_activity_timestamp = $ts,
			e.first_activity_height = $height,
			e.last_activity_timestamp = $ts,
			e.last_activity_height = $height,
			from.neighbor_count = from.neighbor_count + 1,
			from.unique_receivers = from.unique_receivers + 1,
			to.neighbor_count = to.neighbor_count + 1,
			to.unique_senders = to.unique_senders + 1
		ON MATCH SET
			e.volume = e.volume + $amount,
			e.transfer_count = e.transfer_count + 1,
			e.last_activity_timestamp = $ts,
			e.last_activity_height = $height`,
		map[string]any{
			"from":     tr.From,
			"to":       tr.To,
			"edgeID":   EdgeID(tr.From, tr.To, tr.Asset, tr.Contract),
			"asset":    tr.Asset,
			"contract": tr.Contract,
			"amount":   tr.Amount.InexactFloat64(),
			"height":   int64(tr.Height),
			"ts":       int64(tr.Timestamp),
		})
}

// LabelAddress appends a label to the address's labels list if not present,
// creating the node when needed.
func (t *Tx) LabelAddress(address, label string, height, ts uint64) error {
	return t.run(`
		MERGE (a:Address {address: $address})
		ON CREATE SET
			a.first_activity_timestamp = $ts,
			a.first_activity_height = $height,
			a.transfer_count = 0,
			a.neighbor_count = 0,
			a.unique_senders = 0,
			a.unique_receivers = 0,
			a.last_activity_timestamp = $ts,
			a.last_activity_height = $height
		SET a.labels = CASE
			WHEN a.labels IS NULL THEN [$label]
			WHEN NOT $label IN a.labels THEN a.labels + $label
			ELSE a.labels
		END`,
		map[string]any{"address": address, "label": label, "height": int64(height), "ts": int64(ts)})
}

// UpsertNeuron maintains the Neuron node and the owner's OWNS relationship.
func (t *Tx) UpsertNeuron(networkID, neuronID int64, owner string, height, ts uint64) error {
	if err := t.LabelAddress(owner, "neuron_owner", height, ts); err != nil {
		return err
	}
	return t.run(`
		MERGE (n:Neuron {network_id: $networkID, neuron_id: $neuronID})
		WITH n
		MATCH (a:Address {address: $owner})
		MERGE (a)-[:OWNS]->(n)`,
		map[string]any{"networkID": networkID, "neuronID": neuronID, "owner": owner})
}

// UpsertSubnet maintains the Subnet node; when the registering extrinsic's
// signer is known it is labeled and linked as the creator.
func (t *Tx) UpsertSubnet(networkID int64, creator string, height, ts uint64) error {
	if err := t.run(
		"MERGE (s:Subnet {network_id: $networkID})",
		map[string]any{"networkID": networkID}); err != nil {
		return err
	}
	if creator == "" {
		return nil
	}
	if err := t.LabelAddress(creator, "subnet_creator", height, ts); err != nil {
		return err
	}
	return t.run(`
		MATCH (a:Address {address: $creator}), (s:Subnet {network_id: $networkID})
		MERGE (a)-[:CREATED]->(s)`,
		map[string]any{"creator": creator, "networkID": networkID})
}

// ApplyKnownAddressLabels stamps externally curated labels onto existing
// Address nodes. Nodes the graph has not seen yet are skipped; the next pass
// picks them up once activity creates them.
func (c *Client) ApplyKnownAddressLabels(ctx context.Context, labels map[string][]string) error {
	for address, ls := range labels {
		for _, label := range ls {
			err := c.write(ctx, `
				MATCH (a:Address {address: $address})
				SET a.labels = CASE
					WHEN a.labels IS NULL THEN [$label]
					WHEN NOT $label IN a.labels THEN a.labels + $label
					ELSE a.labels
				END`,
				map[string]any{"address": address, "label": label})
			if err != nil {
				return errors.Wrapf(err, "label %s", address)
			}
		}
	}
	return nil
}
