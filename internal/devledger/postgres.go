package devledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/basely/portal/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises appends across dev ledger instances sharing a
// database.
const advisoryLockKey = int64(31_337_280)

// PostgresStore persists messages and likes to PostgreSQL. Schema lives in
// migrations/001_messages.sql.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Append implements Store. The next index is read and written under a
// transaction-scoped advisory lock.
func (s *PostgresStore) Append(ctx context.Context, sender common.Address, text string, timestamp int64) (uint64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return 0, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var next int64
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(idx) + 1, 0) FROM messages").Scan(&next); err != nil {
		return 0, fmt.Errorf("read next index: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (idx, sender, text, timestamp, likes) VALUES ($1, $2, $3, $4, 0)`,
		next, sender.Hex(), text, timestamp,
	); err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit message: %w", err)
	}

	s.logger.Debug("message stored", zap.Int64("idx", next), zap.String("sender", sender.Hex()))
	return uint64(next), nil
}

// Like implements Store.
func (s *PostgresStore) Like(ctx context.Context, index uint64, liker common.Address) (uint64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var likes int64
	err = tx.QueryRow(ctx, "SELECT likes FROM messages WHERE idx = $1 FOR UPDATE", int64(index)).Scan(&likes)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	if err != nil {
		return 0, fmt.Errorf("lock message %d: %w", index, err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO message_likes (idx, liker) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		int64(index), liker.Hex(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert like: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrAlreadyLiked
	}

	if err := tx.QueryRow(ctx,
		"UPDATE messages SET likes = likes + 1 WHERE idx = $1 RETURNING likes", int64(index),
	).Scan(&likes); err != nil {
		return 0, fmt.Errorf("update likes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit like: %w", err)
	}
	return uint64(likes), nil
}

// Total implements Store.
func (s *PostgresStore) Total(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return uint64(n), nil
}

// Messages implements Store.
func (s *PostgresStore) Messages(ctx context.Context, offset, count uint64) ([]ledger.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sender, text, timestamp, likes FROM messages
		 WHERE idx >= $1 ORDER BY idx ASC LIMIT $2`,
		int64(offset), int64(count),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []ledger.Message{}
	for rows.Next() {
		var (
			sender string
			m      ledger.Message
			likes  int64
		)
		if err := rows.Scan(&sender, &m.Text, &m.Timestamp, &likes); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sender = common.HexToAddress(sender)
		m.Likes = uint64(likes)
		out = append(out, m)
	}
	return out, rows.Err()
}
