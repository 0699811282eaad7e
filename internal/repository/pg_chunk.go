package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/profundo/internal/domain"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGChunkRepository stores embedded chunks in Postgres with pgvector.
type PGChunkRepository struct {
	pool *pgxpool.Pool
	db   dbtx
}

func NewPGChunkRepository(pool *pgxpool.Pool) *PGChunkRepository {
	return &PGChunkRepository{pool: pool, db: pool}
}

func (r *PGChunkRepository) Append(ctx context.Context, e domain.EmbeddedChunk) error {
	if err := domain.ValidateEmbeddedChunk(&e); err != nil {
		return domain.NewInvariantViolation("vector store", "%v", err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO chunks (id, model, session_id, seq, text, chars, tokens, ts, dims, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id, model) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			seq = EXCLUDED.seq,
			text = EXCLUDED.text,
			chars = EXCLUDED.chars,
			tokens = EXCLUDED.tokens,
			ts = EXCLUDED.ts,
			dims = EXCLUDED.dims,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`,
		e.ID(), e.Model, e.SessionID, e.Seq, e.Text, e.Chars, e.Tokens,
		nullableTime(e.Timestamp), len(e.Vector), pgvector.NewVector(e.Vector), createdAt,
	)
	return domain.NewStorageError("append chunk", err)
}

// Scan reads every chunk for model from one repeatable-read snapshot.
func (r *PGChunkRepository) Scan(ctx context.Context, model string, fn func(domain.EmbeddedChunk) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.NewStorageError("begin scan", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT session_id, seq, text, chars, tokens, ts, embedding, created_at
		 FROM chunks WHERE model = $1 ORDER BY session_id, seq`, model)
	if err != nil {
		return domain.NewStorageError("scan chunks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e   domain.EmbeddedChunk
			ts  *time.Time
			vec pgvector.Vector
		)
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.Text, &e.Chars, &e.Tokens, &ts, &vec, &e.CreatedAt); err != nil {
			return domain.NewStorageError("scan chunk row", err)
		}
		if ts != nil {
			e.Timestamp = ts.UTC()
		}
		e.Model = model
		e.Vector = vec.Slice()
		e.CreatedAt = e.CreatedAt.UTC()

		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return domain.NewStorageError("scan chunks", err)
	}
	return nil
}

func (r *PGChunkRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, domain.NewStorageError("count chunks", err)
}

func (r *PGChunkRepository) Sessions(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(DISTINCT session_id) FROM chunks`).Scan(&n)
	return n, domain.NewStorageError("count sessions", err)
}

func (r *PGChunkRepository) StatsByModel(ctx context.Context) ([]domain.ModelStats, error) {
	rows, err := r.db.Query(ctx,
		`SELECT model, COUNT(*), COUNT(DISTINCT session_id), MAX(dims)
		 FROM chunks GROUP BY model ORDER BY model`)
	if err != nil {
		return nil, domain.NewStorageError("stats by model", err)
	}
	defer rows.Close()

	var stats []domain.ModelStats
	for rows.Next() {
		var s domain.ModelStats
		if err := rows.Scan(&s.Model, &s.Chunks, &s.Sessions, &s.Dimensions); err != nil {
			return nil, domain.NewStorageError("stats by model", err)
		}
		stats = append(stats, s)
	}
	return stats, domain.NewStorageError("stats by model", rows.Err())
}

func (r *PGChunkRepository) PruneSource(ctx context.Context, model, sessionID string, fromSeq int) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM chunks WHERE model = $1 AND session_id = $2 AND seq >= $3`, model, sessionID, fromSeq)
	if err != nil {
		return 0, domain.NewStorageError("prune chunks", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PGChunkRepository) Close() error {
	r.pool.Close()
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
