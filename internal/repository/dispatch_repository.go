package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rescuelink/backend/internal/database"
	"github.com/rescuelink/backend/internal/models"
)

const dispatchColumns = `id, reference, priority, status, lat, lng, ambulance_id, eta_minutes, requested_at, dispatched_at, arrived_at, completed_at`

type DispatchRepository struct {
	db *database.DB
}

func NewDispatchRepository(db *database.DB) *DispatchRepository {
	return &DispatchRepository{db: db}
}

func scanDispatch(row rowScanner) (*models.Dispatch, error) {
	d := &models.Dispatch{}
	var (
		ambulanceID  uuid.NullUUID
		eta          sql.NullInt64
		dispatchedAt sql.NullTime
		arrivedAt    sql.NullTime
		completedAt  sql.NullTime
	)
	err := row.Scan(
		&d.ID,
		&d.Reference,
		&d.Priority,
		&d.Status,
		&d.Location.Lat,
		&d.Location.Lng,
		&ambulanceID,
		&eta,
		&d.RequestedAt,
		&dispatchedAt,
		&arrivedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	d.AmbulanceID = uuidPtr(ambulanceID)
	if eta.Valid {
		v := int(eta.Int64)
		d.ETAMinutes = &v
	}
	d.DispatchedAt = timePtr(dispatchedAt)
	d.ArrivedAt = timePtr(arrivedAt)
	d.CompletedAt = timePtr(completedAt)
	return d, nil
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func (r *DispatchRepository) Create(ctx context.Context, d *models.Dispatch) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = models.DispatchPending
	}
	query := `
        INSERT INTO dispatches (id, reference, priority, status, lat, lng, requested_at)
        VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, NOW()))
        RETURNING requested_at
    `
	var requestedAt sql.NullTime
	if !d.RequestedAt.IsZero() {
		requestedAt = sql.NullTime{Time: d.RequestedAt, Valid: true}
	}
	err := r.db.QueryRowContext(ctx, query,
		d.ID,
		d.Reference,
		d.Priority,
		d.Status,
		d.Location.Lat,
		d.Location.Lng,
		requestedAt,
	).Scan(&d.RequestedAt)
	if err != nil {
		return fmt.Errorf("failed to create dispatch: %w", err)
	}
	return nil
}

func (r *DispatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispatch, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatches WHERE id = $1`
	d, err := scanDispatch(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch: %w", notFound(err))
	}
	return d, nil
}

// ListActive returns dispatches that are not yet completed or cancelled.
func (r *DispatchRepository) ListActive(ctx context.Context) ([]*models.Dispatch, error) {
	query := `
        SELECT ` + dispatchColumns + `
        FROM dispatches
        WHERE status NOT IN ($1, $2)
        ORDER BY priority, requested_at
    `
	rows, err := r.db.QueryContext(ctx, query, models.DispatchCompleted, models.DispatchCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to list active dispatches: %w", err)
	}
	defer rows.Close()

	var dispatches []*models.Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch: %w", err)
		}
		dispatches = append(dispatches, d)
	}
	return dispatches, rows.Err()
}

func (r *DispatchRepository) Update(ctx context.Context, d *models.Dispatch) error {
	query := `
        UPDATE dispatches
        SET status = $1, ambulance_id = $2, eta_minutes = $3, dispatched_at = $4, arrived_at = $5, completed_at = $6
        WHERE id = $7
    `
	res, err := r.db.ExecContext(ctx, query,
		d.Status,
		nullUUID(d.AmbulanceID),
		nullInt(d.ETAMinutes),
		nullTime(d.DispatchedAt),
		nullTime(d.ArrivedAt),
		nullTime(d.CompletedAt),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update dispatch: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update dispatch: %w", ErrNotFound)
	}
	return nil
}
