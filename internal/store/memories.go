package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/synapse/internal/memory"
)

// SaveMemory upserts a memory snapshot.
func (s *Store) SaveMemory(ctx context.Context, m memory.Memory) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO memories (id, type, content, signature, embedding, strength, confidence, access_count, tags, last_accessed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			signature = EXCLUDED.signature,
			embedding = EXCLUDED.embedding,
			strength = EXCLUDED.strength,
			confidence = EXCLUDED.confidence,
			access_count = EXCLUDED.access_count,
			tags = EXCLUDED.tags,
			last_accessed = EXCLUDED.last_accessed`,
		m.ID, string(m.Type), m.Content, m.Signature, m.Embedding,
		m.Strength, m.Confidence, m.AccessCount, m.Tags, m.LastAccessed, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save memory %s: %w", m.ID, err)
	}
	return nil
}

// LoadMemories returns every persisted memory, oldest first.
func (s *Store) LoadMemories(ctx context.Context) ([]memory.Memory, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, type, content, signature, embedding, strength, confidence, access_count, tags, last_accessed, created_at
		FROM memories
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	defer rows.Close()

	var out []memory.Memory
	for rows.Next() {
		var m memory.Memory
		var typ string
		if err := rows.Scan(
			&m.ID, &typ, &m.Content, &m.Signature, &m.Embedding,
			&m.Strength, &m.Confidence, &m.AccessCount, &m.Tags, &m.LastAccessed, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Type = memory.Type(typ)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMemory removes a memory and any edges touching it.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM memory_edges WHERE node_a = $1 OR node_b = $1`, id); err != nil {
		return fmt.Errorf("delete edges for %s: %w", id, err)
	}
	if _, err := s.db.Exec(ctx,
		`DELETE FROM memories WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}
