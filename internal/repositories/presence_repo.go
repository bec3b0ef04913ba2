package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/prudhvinik1/edgepresence/internal/presence"
)

const presenceColumns = `user_id, state, connected_device_count, last_activity_at, changed_at`

type PostgresPresenceRepository struct {
	db DBTX
}

func NewPostgresPresenceRepository(db DBTX) *PostgresPresenceRepository {
	return &PostgresPresenceRepository{db: db}
}

func (r *PostgresPresenceRepository) Get(ctx context.Context, userID uuid.UUID) (*models.PresenceState, error) {
	query := `SELECT ` + presenceColumns + ` FROM presence_state WHERE user_id = $1`

	p, err := scanPresence(r.db.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}
	return p, nil
}

// Upsert keeps last-write-wins semantics for everything except changed_at,
// which the CASE only advances when the stored state actually changes. A
// nil LastActivityAt leaves the stored value alone.
func (r *PostgresPresenceRepository) Upsert(ctx context.Context, p *models.PresenceState) error {
	query := `INSERT INTO presence_state (user_id, state, connected_device_count, last_activity_at, changed_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $5)
	          ON CONFLICT (user_id) DO UPDATE SET
	              state = EXCLUDED.state,
	              connected_device_count = EXCLUDED.connected_device_count,
	              last_activity_at = COALESCE(EXCLUDED.last_activity_at, presence_state.last_activity_at),
	              changed_at = CASE WHEN presence_state.state = EXCLUDED.state
	                                THEN presence_state.changed_at
	                                ELSE EXCLUDED.changed_at END,
	              updated_at = EXCLUDED.updated_at
	          RETURNING last_activity_at, changed_at`

	err := r.db.QueryRow(ctx, query,
		p.UserID,
		string(p.State),
		p.ConnectedDeviceCount,
		p.LastActivityAt,
		p.ChangedAt,
	).Scan(&p.LastActivityAt, &p.ChangedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert presence: %w", err)
	}
	return nil
}

func (r *PostgresPresenceRepository) List(ctx context.Context, userIDs []uuid.UUID) ([]*models.PresenceState, error) {
	if len(userIDs) == 0 {
		return []*models.PresenceState{}, nil
	}
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}
	query := `SELECT ` + presenceColumns + ` FROM presence_state WHERE user_id = ANY($1::uuid[]) ORDER BY user_id`
	return r.query(ctx, query, ids)
}

func (r *PostgresPresenceRepository) ListAll(ctx context.Context) ([]*models.PresenceState, error) {
	query := `SELECT ` + presenceColumns + ` FROM presence_state ORDER BY user_id`
	return r.query(ctx, query)
}

func (r *PostgresPresenceRepository) query(ctx context.Context, query string, args ...any) ([]*models.PresenceState, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query presence: %w", err)
	}
	defer rows.Close()

	states := []*models.PresenceState{}
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan presence: %w", err)
		}
		states = append(states, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating presence: %w", err)
	}
	return states, nil
}

func scanPresence(row pgx.Row) (*models.PresenceState, error) {
	var p models.PresenceState
	var state string
	err := row.Scan(&p.UserID, &state, &p.ConnectedDeviceCount, &p.LastActivityAt, &p.ChangedAt)
	if err != nil {
		return nil, err
	}
	p.State = presence.State(state)
	return &p, nil
}
