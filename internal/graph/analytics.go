package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"
)

// RunAnalytics executes the periodic analytics pipeline: community detection
// over the address/transfer subgraph, community-scoped PageRank, then the
// embedding refresh. Steps run in order; a failure aborts the run and the
// next scheduled run starts over.
func (c *Client) RunAnalytics(ctx context.Context) error {
	c.log.Info("analytics run starting")

	if err := c.detectCommunities(ctx); err != nil {
		return errors.Wrap(err, "community detection")
	}
	if err := c.computeCommunityPageRank(ctx); err != nil {
		return errors.Wrap(err, "community pagerank")
	}
	if err := c.refreshEmbeddings(ctx); err != nil {
		return errors.Wrap(err, "embedding refresh")
	}

	c.log.Info("analytics run finished")
	return nil
}

// detectCommunities assigns a community_id to every Address node from the
// induced subgraph of Address nodes and TO edges, and materializes one
// Community node per detected community.
func (c *Client) detectCommunities(ctx context.Context) error {
	return c.write(ctx, `
		MATCH (a:Address)
		OPTIONAL MATCH (a)-[e:TO]->(b:Address)
		WITH collect(DISTINCT a) + collect(DISTINCT b) AS ns, collect(DISTINCT e) AS es
		CALL community_detection.get_subgraph(ns, es) YIELD node, community_id
		SET node.community_id = community_id
		WITH DISTINCT community_id
		MERGE (:Community {community_id: community_id})`, nil)
}

// computeCommunityPageRank iterates communities one at a time, computing
// PageRank on the subgraph reachable within 3 TO hops of any member and
// writing the rank back onto member nodes. Cancellation is honoured between
// communities so a long run never blocks shutdown.
func (c *Client) computeCommunityPageRank(ctx context.Context) error {
	ids, err := c.communityIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.write(ctx, `
			MATCH (m:Address {community_id: $cid})
			CALL path.expand(m, ["TO"], ["Address"], 0, 3) YIELD result
			WITH collect(DISTINCT m) AS members, collect(result) AS paths
			WITH reduce(ns = members, p IN paths | ns + nodes(p)) AS ns,
				reduce(es = [], p IN paths | es + relationships(p)) AS es
			CALL pagerank.get(ns, es) YIELD node, rank
			WITH node, rank
			WHERE node.community_id = $cid
			SET node.community_page_rank = rank`,
			map[string]any{"cid": id})
		if err != nil {
			return errors.Wrapf(err, "pagerank for community %d", id)
		}
	}
	c.log.WithField("communities", len(ids)).Info("community pagerank updated")
	return nil
}

// refreshEmbeddings rewrites every Address's 6-dim embedding from its
// activity counters and analytics results. The NetworkEmbeddings vector
// index picks the new values up automatically.
func (c *Client) refreshEmbeddings(ctx context.Context) error {
	return c.write(ctx, `
		MATCH (a:Address)
		SET a.network_embedding = [
			toFloat(coalesce(a.transfer_count, 0)),
			toFloat(coalesce(a.unique_senders, 0)),
			toFloat(coalesce(a.unique_receivers, 0)),
			toFloat(coalesce(a.neighbor_count, 0)),
			toFloat(coalesce(a.community_id, -1)),
			toFloat(coalesce(a.community_page_rank, 0.0))
		]`, nil)
}

func (c *Client) communityIDs(ctx context.Context) ([]int64, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			"MATCH (a:Address) WHERE a.community_id IS NOT NULL RETURN DISTINCT a.community_id", nil)
		if err != nil {
			return nil, err
		}
		var ids []int64
		for result.Next(ctx) {
			if id, ok := result.Record().Values[0].(int64); ok {
				ids = append(ids, id)
			}
		}
		return ids, result.Err()
	})
	if err != nil {
		return nil, errors.Wrap(err, "list communities")
	}
	ids, _ := out.([]int64)
	return ids, nil
}
