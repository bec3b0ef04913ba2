package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PostgresUserStatusRepository struct {
	db DBTX
}

func NewPostgresUserStatusRepository(db DBTX) *PostgresUserStatusRepository {
	return &PostgresUserStatusRepository{db: db}
}

// EnsureUser provisions the users row the status mirror writes into.
func (r *PostgresUserStatusRepository) EnsureUser(ctx context.Context, userID uuid.UUID) error {
	query := `INSERT INTO users (id, status) VALUES ($1, 'offline') ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

func (r *PostgresUserStatusRepository) SetStatus(ctx context.Context, userID uuid.UUID, status string, lastSeen time.Time) error {
	query := `UPDATE users SET status = $2, last_seen = $3 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, userID, status, lastSeen)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
