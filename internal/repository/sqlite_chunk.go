package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cloo-solutions/profundo/internal/domain"
)

// SQLiteChunkRepository stores embedded chunks in a local SQLite file.
// Rows are keyed by (chunk id, model); writing a key again replaces it.
type SQLiteChunkRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteChunkRepository(db *sql.DB) *SQLiteChunkRepository {
	return &SQLiteChunkRepository{db: db, now: time.Now}
}

// Append writes one embedded chunk. The row becomes visible to readers
// atomically.
func (r *SQLiteChunkRepository) Append(ctx context.Context, e domain.EmbeddedChunk) error {
	if err := domain.ValidateEmbeddedChunk(&e); err != nil {
		return domain.NewInvariantViolation("vector store", "%v", err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chunks (id, model, session_id, seq, text, chars, tokens, ts, dims, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id, model) DO UPDATE SET
			session_id = excluded.session_id,
			seq = excluded.seq,
			text = excluded.text,
			chars = excluded.chars,
			tokens = excluded.tokens,
			ts = excluded.ts,
			dims = excluded.dims,
			embedding = excluded.embedding,
			created_at = excluded.created_at`,
		e.ID(), e.Model, e.SessionID, e.Seq, e.Text, e.Chars, e.Tokens,
		unixNanos(e.Timestamp), len(e.Vector), encodeVector(e.Vector), unixNanos(createdAt),
	)
	return domain.NewStorageError("append chunk", err)
}

// Scan calls fn for every chunk embedded with model, inside a single read
// transaction so concurrent appends are observed all-or-nothing.
func (r *SQLiteChunkRepository) Scan(ctx context.Context, model string, fn func(domain.EmbeddedChunk) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return domain.NewStorageError("begin scan", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT session_id, seq, text, chars, tokens, ts, dims, embedding, created_at
		 FROM chunks WHERE model = ? ORDER BY session_id, seq`, model)
	if err != nil {
		return domain.NewStorageError("scan chunks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e         domain.EmbeddedChunk
			ts        int64
			dims      int
			blob      []byte
			createdAt int64
		)
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.Text, &e.Chars, &e.Tokens, &ts, &dims, &blob, &createdAt); err != nil {
			return domain.NewStorageError("scan chunk row", err)
		}
		vec, err := decodeVector(blob, dims)
		if err != nil {
			return domain.NewInvariantViolation("vector store", "chunk %s: %v", domain.ChunkID(e.SessionID, e.Seq), err)
		}
		e.Model = model
		e.Vector = vec
		e.Timestamp = fromUnixNanos(ts)
		e.CreatedAt = fromUnixNanos(createdAt)

		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return domain.NewStorageError("scan chunks", err)
	}
	return nil
}

// Count returns the number of stored vectors across all models.
func (r *SQLiteChunkRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, domain.NewStorageError("count chunks", err)
}

// Sessions returns the number of distinct sessions with stored vectors.
func (r *SQLiteChunkRepository) Sessions(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT session_id) FROM chunks`).Scan(&n)
	return n, domain.NewStorageError("count sessions", err)
}

// StatsByModel summarizes stored vectors per embedding model.
func (r *SQLiteChunkRepository) StatsByModel(ctx context.Context) ([]domain.ModelStats, error) {
	rows, err := r.db.QueryContext(ctx,
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

// PruneSource deletes a session's chunks for model from sequence fromSeq
// on. A full reprocess uses it to drop chunks the transcript no longer
// produces.
func (r *SQLiteChunkRepository) PruneSource(ctx context.Context, model, sessionID string, fromSeq int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE model = ? AND session_id = ? AND seq >= ?`, model, sessionID, fromSeq)
	if err != nil {
		return 0, domain.NewStorageError("prune chunks", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.NewStorageError("prune chunks", err)
	}
	return n, nil
}

func (r *SQLiteChunkRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
