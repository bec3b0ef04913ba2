package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgepresence/internal/models"
)

type PostgresConnectionRepository struct {
	db DBTX
}

func NewPostgresConnectionRepository(db DBTX) *PostgresConnectionRepository {
	return &PostgresConnectionRepository{db: db}
}

// Open relies on the partial unique index over (user_id, device_id) where
// disconnected_at IS NULL, so two tabs racing to connect the same device
// end up on one row.
func (r *PostgresConnectionRepository) Open(ctx context.Context, userID uuid.UUID, deviceID string, now time.Time) (uuid.UUID, error) {
	query := `INSERT INTO device_connections (user_id, device_id, connection_status, connected_at, last_heartbeat_at, last_activity_at)
	          VALUES ($1, $2, 'connected', $3, $3, $3)
	          ON CONFLICT (user_id, device_id) WHERE disconnected_at IS NULL
	          DO UPDATE SET last_heartbeat_at = EXCLUDED.last_heartbeat_at
	          RETURNING id`

	var id uuid.UUID
	err := r.db.QueryRow(ctx, query, userID, deviceID, now).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to open connection: %w", err)
	}
	return id, nil
}

func (r *PostgresConnectionRepository) Close(ctx context.Context, userID uuid.UUID, deviceID string, now time.Time) (bool, error) {
	query := `UPDATE device_connections
	          SET connection_status = 'disconnected', disconnected_at = $3
	          WHERE user_id = $1 AND device_id = $2 AND disconnected_at IS NULL`

	result, err := r.db.Exec(ctx, query, userID, deviceID, now)
	if err != nil {
		return false, fmt.Errorf("failed to close connection: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *PostgresConnectionRepository) TouchHeartbeat(ctx context.Context, userID uuid.UUID, deviceID string, now time.Time) (bool, error) {
	query := `UPDATE device_connections
	          SET last_heartbeat_at = $3
	          WHERE user_id = $1 AND device_id = $2 AND disconnected_at IS NULL`

	result, err := r.db.Exec(ctx, query, userID, deviceID, now)
	if err != nil {
		return false, fmt.Errorf("failed to touch heartbeat: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *PostgresConnectionRepository) TouchActivity(ctx context.Context, userID uuid.UUID, deviceID string, now time.Time, throttle time.Duration) (bool, error) {
	query := `INSERT INTO device_connections (user_id, device_id, connection_status, connected_at, last_heartbeat_at, last_activity_at)
	          VALUES ($1, $2, 'connected', $3, $3, $3)
	          ON CONFLICT (user_id, device_id) WHERE disconnected_at IS NULL
	          DO UPDATE SET last_activity_at = EXCLUDED.last_activity_at,
	                        last_heartbeat_at = EXCLUDED.last_heartbeat_at
	          WHERE device_connections.last_activity_at IS NULL
	             OR device_connections.last_activity_at <= $4`

	result, err := r.db.Exec(ctx, query, userID, deviceID, now, now.Add(-throttle))
	if err != nil {
		return false, fmt.Errorf("failed to touch activity: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *PostgresConnectionRepository) CountOpen(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM device_connections WHERE user_id = $1 AND disconnected_at IS NULL`

	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count connections: %w", err)
	}
	return count, nil
}

func (r *PostgresConnectionRepository) ListOpen(ctx context.Context, userID uuid.UUID) ([]*models.DeviceConnection, error) {
	query := `SELECT id, user_id, device_id, connection_status, connected_at,
	                 last_heartbeat_at, last_activity_at, disconnected_at
	          FROM device_connections
	          WHERE user_id = $1 AND disconnected_at IS NULL
	          ORDER BY connected_at ASC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.DeviceConnection
	for rows.Next() {
		var conn models.DeviceConnection
		var status string
		err := rows.Scan(
			&conn.ID,
			&conn.UserID,
			&conn.DeviceID,
			&status,
			&conn.ConnectedAt,
			&conn.LastHeartbeatAt,
			&conn.LastActivityAt,
			&conn.DisconnectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conn.ConnectionStatus = models.ConnectionStatus(status)
		conns = append(conns, &conn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return conns, nil
}

func (r *PostgresConnectionRepository) CloseStale(ctx context.Context, deadline, now time.Time) ([]uuid.UUID, error) {
	query := `UPDATE device_connections
	          SET connection_status = 'disconnected', disconnected_at = $2
	          WHERE disconnected_at IS NULL AND last_heartbeat_at < $1
	          RETURNING user_id`

	rows, err := r.db.Query(ctx, query, deadline, now)
	if err != nil {
		return nil, fmt.Errorf("failed to close stale connections: %w", err)
	}
	defer rows.Close()

	seen := make(map[uuid.UUID]struct{})
	var users []uuid.UUID
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan stale connection: %w", err)
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		users = append(users, userID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale connections: %w", err)
	}

	return users, nil
}
