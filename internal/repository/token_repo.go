package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteTokenRepository implements TokenRepository for SQLite. The table
// holds at most one row; Save replaces it.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewSQLiteTokenRepository creates a new SQLite token repository.
func NewSQLiteTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

func (r *SQLiteTokenRepository) Get(ctx context.Context) (*CachedToken, error) {
	var token CachedToken
	var acquiredAt string

	err := r.db.QueryRowContext(ctx,
		"SELECT token_encrypted, acquired_at FROM token_cache WHERE id = 1",
	).Scan(&token.TokenEncrypted, &acquiredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached token: %w", err)
	}

	token.AcquiredAt, _ = time.Parse(time.RFC3339, acquiredAt)
	return &token, nil
}

func (r *SQLiteTokenRepository) Save(ctx context.Context, tokenEncrypted string, acquiredAt time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO token_cache (id, token_encrypted, acquired_at, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token_encrypted = excluded.token_encrypted,
			acquired_at = excluded.acquired_at,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, tokenEncrypted, acquiredAt.UTC().Format(time.RFC3339), now)
	if err != nil {
		return fmt.Errorf("failed to save cached token: %w", err)
	}
	return nil
}
