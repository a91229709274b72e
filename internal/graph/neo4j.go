package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4j stores the associative graph in a Neo4j instance. Edge atomicity
// comes from the database; clamping is done in Cypher so no write can leave
// a weight outside [0,1].
type Neo4j struct {
	driver        neo4j.DriverWithContext
	halfLifeHours float64
	logger        *zap.Logger
}

// NewNeo4j connects to a Neo4j server.
func NewNeo4j(uri, user, password string, edgeHalfLifeHours float64, logger *zap.Logger) (*Neo4j, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Neo4j{driver: driver, halfLifeHours: edgeHalfLifeHours, logger: logger}, nil
}

// Close shuts down the driver.
func (g *Neo4j) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// Ping verifies the connection.
func (g *Neo4j) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// AddNode registers a memory node.
func (g *Neo4j) AddNode(ctx context.Context, id string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (m:Memory {id: $id})`,
		map[string]interface{}{"id": id})
	return err
}

// RemoveNode deletes the node and every incident edge.
func (g *Neo4j) RemoveNode(ctx context.Context, id string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (m:Memory {id: $id})
		 WITH m, count(m) AS found
		 DETACH DELETE m
		 RETURN found`,
		map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	if !result.Next(ctx) {
		return ErrNodeNotFound
	}
	return nil
}

// Connect creates or resets an edge.
func (g *Neo4j) Connect(ctx context.Context, a, b string, weight float64) error {
	if err := validateEndpoints(a, b); err != nil {
		return err
	}
	if weight < 0 || weight > 1 {
		return ErrInvalidEdge
	}
	a, b = orderPair(a, b)
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (x:Memory {id: $a}), (y:Memory {id: $b})
		 MERGE (x)-[r:ASSOCIATED]-(y)
		 SET r.weight = $weight, r.updated_at = datetime()
		 RETURN r.weight`,
		map[string]interface{}{"a": a, "b": b, "weight": weight})
	if err != nil {
		return err
	}
	if !result.Next(ctx) {
		return ErrNodeNotFound
	}
	return nil
}

// Strengthen reinforces the edge, creating it when absent. Weight decay is
// folded in before the delta so reinforcement and forgetting compose.
func (g *Neo4j) Strengthen(ctx context.Context, a, b string, delta float64) error {
	if err := validateEndpoints(a, b); err != nil {
		return err
	}
	a, b = orderPair(a, b)
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (x:Memory {id: $a}), (y:Memory {id: $b})
		 MERGE (x)-[r:ASSOCIATED]-(y)
		 ON CREATE SET r.weight = 0.0, r.updated_at = datetime()
		 WITH r,
		      duration.inSeconds(r.updated_at, datetime()).seconds / 3600.0 AS hours
		 SET r.weight = CASE
		       WHEN r.weight * (0.5 ^ (hours / $halfLife)) + $delta > 1.0 THEN 1.0
		       WHEN r.weight * (0.5 ^ (hours / $halfLife)) + $delta < 0.0 THEN 0.0
		       ELSE r.weight * (0.5 ^ (hours / $halfLife)) + $delta
		     END,
		     r.updated_at = datetime()
		 RETURN r.weight`,
		map[string]interface{}{"a": a, "b": b, "delta": delta, "halfLife": g.halfLifeHours})
	if err != nil {
		return err
	}
	if !result.Next(ctx) {
		return ErrNodeNotFound
	}
	return nil
}

// EdgeWeight returns the stored edge weight.
func (g *Neo4j) EdgeWeight(ctx context.Context, a, b string) (float64, error) {
	if err := validateEndpoints(a, b); err != nil {
		return 0, err
	}
	a, b = orderPair(a, b)
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (x:Memory {id: $a})-[r:ASSOCIATED]-(y:Memory {id: $b})
		 RETURN r.weight AS weight`,
		map[string]interface{}{"a": a, "b": b})
	if err != nil {
		return 0, err
	}
	if !result.Next(ctx) {
		return 0, ErrNoPath
	}
	if v, ok := result.Record().Get("weight"); ok && v != nil {
		return v.(float64), nil
	}
	return 0, ErrNoPath
}

// Neighbors traverses up to depth hops, accumulating path weight as the
// product of edge weights.
func (g *Neo4j) Neighbors(ctx context.Context, id string, depth int) ([]Neighbor, error) {
	if depth < 1 {
		depth = 1
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	exists, err := session.Run(ctx,
		`MATCH (m:Memory {id: $id}) RETURN m.id`,
		map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	if !exists.Next(ctx) {
		return nil, ErrNodeNotFound
	}

	query := fmt.Sprintf(`
		MATCH path = (seed:Memory {id: $id})-[:ASSOCIATED*1..%d]-(node:Memory)
		WHERE node.id <> $id
		WITH node, length(path) AS depth,
		     reduce(w = 1.0, r IN relationships(path) | w * coalesce(r.weight, 0.0)) AS pathWeight
		RETURN node.id AS id, MAX(pathWeight) AS weight, MIN(depth) AS depth
		ORDER BY weight DESC, id`, depth)

	result, err := session.Run(ctx, query, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}

	var out []Neighbor
	for result.Next(ctx) {
		rec := result.Record()
		n := Neighbor{}
		if v, ok := rec.Get("id"); ok && v != nil {
			n.ID = v.(string)
		}
		if v, ok := rec.Get("weight"); ok && v != nil {
			n.Weight = v.(float64)
		}
		if v, ok := rec.Get("depth"); ok && v != nil {
			n.Depth = int(v.(int64))
		}
		out = append(out, n)
	}
	return out, nil
}

// ShortestPath uses Cypher's shortestPath over the association edges.
func (g *Neo4j) ShortestPath(ctx context.Context, a, b string) ([]string, error) {
	if err := validateEndpoints(a, b); err != nil {
		return nil, err
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (x:Memory {id: $a}), (y:Memory {id: $b}),
		       path = shortestPath((x)-[:ASSOCIATED*]-(y))
		 RETURN [n IN nodes(path) | n.id] AS ids`,
		map[string]interface{}{"a": a, "b": b})
	if err != nil {
		return nil, err
	}
	if !result.Next(ctx) {
		return nil, ErrNoPath
	}
	v, ok := result.Record().Get("ids")
	if !ok || v == nil {
		return nil, ErrNoPath
	}
	raw := v.([]interface{})
	ids := make([]string, 0, len(raw))
	for _, r := range raw {
		ids = append(ids, r.(string))
	}
	return ids, nil
}

// DecaySweep applies exponential decay to all edge weights.
func (g *Neo4j) DecaySweep(ctx context.Context) (int, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Memory)-[r:ASSOCIATED]-(:Memory)
		 WITH DISTINCT r,
		      duration.inSeconds(r.updated_at, datetime()).seconds / 3600.0 AS hours
		 WHERE hours > 0
		 SET r.weight = r.weight * (0.5 ^ (hours / $halfLife)),
		     r.updated_at = datetime()
		 RETURN count(r) AS updated`,
		map[string]interface{}{"halfLife": g.halfLifeHours})
	if err != nil {
		return 0, err
	}
	var updated int
	if result.Next(ctx) {
		if v, ok := result.Record().Get("updated"); ok {
			updated = int(v.(int64))
		}
	}
	g.logger.Debug("edge decay sweep complete", zap.Int("updated", updated))
	return updated, nil
}

// Edges returns a snapshot of all edges.
func (g *Neo4j) Edges(ctx context.Context) ([]Edge, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (x:Memory)-[r:ASSOCIATED]-(y:Memory)
		 WHERE x.id < y.id
		 RETURN x.id AS a, y.id AS b, r.weight AS weight`,
		nil)
	if err != nil {
		return nil, err
	}
	var out []Edge
	for result.Next(ctx) {
		rec := result.Record()
		e := Edge{}
		if v, ok := rec.Get("a"); ok && v != nil {
			e.A = v.(string)
		}
		if v, ok := rec.Get("b"); ok && v != nil {
			e.B = v.(string)
		}
		if v, ok := rec.Get("weight"); ok && v != nil {
			e.Weight = v.(float64)
		}
		out = append(out, e)
	}
	return out, nil
}
