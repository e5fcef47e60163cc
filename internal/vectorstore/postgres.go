package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"ragcore/internal/chunk"
)

// PostgresStore is the pgvector-backed ANN backend: operator selection by
// configured metric, JSONB metadata, best-effort schema bootstrap.
type PostgresStore struct {
	pool       *pgxpool.Pool
	dimensions int
	metric     string
}

// NewPostgresStore wraps an existing pool (opened lazily by the caller)
// and ensures the pgvector extension and backing table exist.
func NewPostgresStore(pool *pgxpool.Pool, dimensions int, metric string) *PostgresStore {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	vecType := "vector"
	if dimensions > 0 {
		vecType = fmt.Sprintf("vector(%d)", dimensions)
	}
	_, _ = pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS rag_chunks (
  id TEXT PRIMARY KEY,
  document_id TEXT NOT NULL,
  ordinal INT NOT NULL DEFAULT 0,
  text TEXT NOT NULL DEFAULT '',
  token_count INT NOT NULL DEFAULT 0,
  vec %s,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb
)`, vecType))
	return &PostgresStore{pool: pool, dimensions: dimensions, metric: strings.ToLower(strings.TrimSpace(metric))}
}

// Upsert indexes one chunk's primary embedding.
func (p *PostgresStore) Upsert(ctx context.Context, c chunk.Chunk) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO rag_chunks(id, document_id, ordinal, text, token_count, vec, metadata)
VALUES ($1, $2, $3, $4, $5, $6::vector, $7)
ON CONFLICT (id) DO UPDATE SET
  document_id=EXCLUDED.document_id, ordinal=EXCLUDED.ordinal,
  text=EXCLUDED.text, token_count=EXCLUDED.token_count,
  vec=EXCLUDED.vec, metadata=EXCLUDED.metadata
`, c.ID, c.DocumentID, c.Ordinal, c.Text, c.TokenCount, toVectorLiteral(c.Primary), c.Metadata)
	return err
}

func (p *PostgresStore) Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]chunk.Candidate, error) {
	k, err := validateK(k, 0)
	if err != nil {
		return nil, err
	}
	vecLit := toVectorLiteral(vector)
	op, distExpr := "<=>", "(vec <=> $1::vector)"
	switch p.metric {
	case "l2", "euclidean":
		op, distExpr = "<->", "(vec <-> $1::vector)"
	case "ip", "dot":
		op, distExpr = "<#>", "(vec <#> $1::vector)"
	}

	args := []any{vecLit, k}
	where := ""
	if tenant, ok := filter["tenant"]; ok {
		where = "WHERE metadata->>'tenant' = $3"
		args = append(args, tenant)
	}
	query := fmt.Sprintf(`
SELECT id, document_id, ordinal, text, token_count, %s AS distance, metadata
FROM rag_chunks %s
ORDER BY vec %s $1::vector
LIMIT $2`, distExpr, where, op)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]chunk.Candidate, 0, k)
	for rows.Next() {
		var c chunk.Candidate
		var md map[string]string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.TokenCount, &c.Distance, &md); err != nil {
			return nil, err
		}
		c.Metadata = md
		c.Source = "vector"
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortCandidates(out)
	return out, nil
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}
