package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/synapse/internal/learning"
)

// SavePattern upserts a learned pattern keyed by signature.
func (s *Store) SavePattern(ctx context.Context, p learning.Pattern) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO patterns (id, signature, frequency, strength, confidence, context, last_updated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (signature) DO UPDATE SET
			frequency = EXCLUDED.frequency,
			strength = EXCLUDED.strength,
			confidence = EXCLUDED.confidence,
			context = EXCLUDED.context,
			last_updated = EXCLUDED.last_updated`,
		p.ID, p.Signature, p.Frequency, p.Strength, p.Confidence,
		p.Context, p.LastUpdated, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save pattern %s: %w", p.Signature, err)
	}
	return nil
}

// LoadPatterns returns every persisted pattern.
func (s *Store) LoadPatterns(ctx context.Context) ([]learning.Pattern, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, signature, frequency, strength, confidence, context, last_updated, created_at
		FROM patterns
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	defer rows.Close()

	var out []learning.Pattern
	for rows.Next() {
		var p learning.Pattern
		if err := rows.Scan(
			&p.ID, &p.Signature, &p.Frequency, &p.Strength, &p.Confidence,
			&p.Context, &p.LastUpdated, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
