package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rescuelink/backend/internal/database"
	"github.com/rescuelink/backend/internal/models"
)

const ambulanceColumns = `id, call_sign, vehicle_type, status, lat, lng, home_lat, home_lng, heading, speed_kmh, current_dispatch_id, updated_at`

type AmbulanceRepository struct {
	db *database.DB
}

func NewAmbulanceRepository(db *database.DB) *AmbulanceRepository {
	return &AmbulanceRepository{db: db}
}

func scanAmbulance(row rowScanner) (*models.Ambulance, error) {
	a := &models.Ambulance{}
	var dispatchID uuid.NullUUID
	err := row.Scan(
		&a.ID,
		&a.CallSign,
		&a.VehicleType,
		&a.Status,
		&a.Position.Lat,
		&a.Position.Lng,
		&a.HomeBase.Lat,
		&a.HomeBase.Lng,
		&a.Heading,
		&a.SpeedKmh,
		&dispatchID,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.CurrentDispatchID = uuidPtr(dispatchID)
	return a, nil
}

func (r *AmbulanceRepository) Create(ctx context.Context, a *models.Ambulance) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	query := `
        INSERT INTO ambulances (id, call_sign, vehicle_type, status, lat, lng, home_lat, home_lng, heading, speed_kmh, current_dispatch_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING updated_at
    `
	err := r.db.QueryRowContext(ctx, query,
		a.ID,
		a.CallSign,
		a.VehicleType,
		a.Status,
		a.Position.Lat,
		a.Position.Lng,
		a.HomeBase.Lat,
		a.HomeBase.Lng,
		a.Heading,
		a.SpeedKmh,
		nullUUID(a.CurrentDispatchID),
	).Scan(&a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ambulance: %w", err)
	}
	return nil
}

func (r *AmbulanceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Ambulance, error) {
	query := `SELECT ` + ambulanceColumns + ` FROM ambulances WHERE id = $1`
	a, err := scanAmbulance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get ambulance: %w", notFound(err))
	}
	return a, nil
}

// FindAvailable returns ambulances that can take a dispatch. An empty
// vehicleType matches every type.
func (r *AmbulanceRepository) FindAvailable(ctx context.Context, vehicleType string) ([]*models.Ambulance, error) {
	query := `
        SELECT ` + ambulanceColumns + `
        FROM ambulances
        WHERE status = $1 AND current_dispatch_id IS NULL AND ($2::text = '' OR vehicle_type = $2::text)
        ORDER BY call_sign
    `
	rows, err := r.db.QueryContext(ctx, query, models.AmbulanceAvailable, vehicleType)
	if err != nil {
		return nil, fmt.Errorf("failed to find available ambulances: %w", err)
	}
	defer rows.Close()

	var ambulances []*models.Ambulance
	for rows.Next() {
		a, err := scanAmbulance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ambulance: %w", err)
		}
		ambulances = append(ambulances, a)
	}
	return ambulances, rows.Err()
}

func (r *AmbulanceRepository) List(ctx context.Context) ([]*models.Ambulance, error) {
	query := `SELECT ` + ambulanceColumns + ` FROM ambulances ORDER BY call_sign`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list ambulances: %w", err)
	}
	defer rows.Close()

	var ambulances []*models.Ambulance
	for rows.Next() {
		a, err := scanAmbulance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ambulance: %w", err)
		}
		ambulances = append(ambulances, a)
	}
	return ambulances, rows.Err()
}

func (r *AmbulanceRepository) Update(ctx context.Context, a *models.Ambulance) error {
	query := `
        UPDATE ambulances
        SET status = $1, lat = $2, lng = $3, heading = $4, speed_kmh = $5, current_dispatch_id = $6, updated_at = NOW()
        WHERE id = $7
    `
	res, err := r.db.ExecContext(ctx, query,
		a.Status,
		a.Position.Lat,
		a.Position.Lng,
		a.Heading,
		a.SpeedKmh,
		nullUUID(a.CurrentDispatchID),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update ambulance: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update ambulance: %w", ErrNotFound)
	}
	return nil
}

func (r *AmbulanceRepository) CreateLocationRecord(ctx context.Context, rec *models.LocationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	query := `
        INSERT INTO ambulance_locations (id, ambulance_id, dispatch_id, lat, lng, heading, speed_kmh, recorded_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.AmbulanceID,
		nullUUID(rec.DispatchID),
		rec.Position.Lat,
		rec.Position.Lng,
		rec.Heading,
		rec.SpeedKmh,
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record ambulance location: %w", err)
	}
	return nil
}

// Track returns the most recent location records of an ambulance, newest first.
func (r *AmbulanceRepository) Track(ctx context.Context, ambulanceID uuid.UUID, limit int) ([]models.LocationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
        SELECT id, ambulance_id, dispatch_id, lat, lng, heading, speed_kmh, recorded_at
        FROM ambulance_locations
        WHERE ambulance_id = $1
        ORDER BY recorded_at DESC
        LIMIT $2
    `
	rows, err := r.db.QueryContext(ctx, query, ambulanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ambulance track: %w", err)
	}
	defer rows.Close()

	var records []models.LocationRecord
	for rows.Next() {
		var rec models.LocationRecord
		var dispatchID uuid.NullUUID
		if err := rows.Scan(
			&rec.ID,
			&rec.AmbulanceID,
			&dispatchID,
			&rec.Position.Lat,
			&rec.Position.Lng,
			&rec.Heading,
			&rec.SpeedKmh,
			&rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		rec.DispatchID = uuidPtr(dispatchID)
		records = append(records, rec)
	}
	return records, rows.Err()
}
