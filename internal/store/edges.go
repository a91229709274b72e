package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/synapse/internal/graph"
)

// SaveEdge upserts an association edge. Endpoints are stored in canonical
// order so (a,b) and (b,a) hit the same row.
func (s *Store) SaveEdge(ctx context.Context, e graph.Edge) error {
	a, b := e.A, e.B
	if b < a {
		a, b = b, a
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO memory_edges (node_a, node_b, weight, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (node_a, node_b) DO UPDATE SET
			weight = EXCLUDED.weight,
			updated_at = EXCLUDED.updated_at`,
		a, b, e.Weight, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save edge %s-%s: %w", a, b, err)
	}
	return nil
}

// LoadEdges returns every persisted edge.
func (s *Store) LoadEdges(ctx context.Context) ([]graph.Edge, error) {
	rows, err := s.db.Query(ctx, `
		SELECT node_a, node_b, weight, updated_at
		FROM memory_edges
		ORDER BY node_a, node_b`)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	defer rows.Close()

	var out []graph.Edge
	for rows.Next() {
		var e graph.Edge
		if err := rows.Scan(&e.A, &e.B, &e.Weight, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
