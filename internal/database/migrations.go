package database

import (
	"database/sql"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Migrations contains all database migrations
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "ambulances",
		Up: `
			CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

			CREATE TABLE IF NOT EXISTS ambulances (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				call_sign VARCHAR(50) UNIQUE NOT NULL,
				vehicle_type VARCHAR(20) NOT NULL DEFAULT 'BLS',
				status VARCHAR(20) NOT NULL DEFAULT 'AVAILABLE',
				lat DOUBLE PRECISION NOT NULL,
				lng DOUBLE PRECISION NOT NULL,
				home_lat DOUBLE PRECISION NOT NULL,
				home_lng DOUBLE PRECISION NOT NULL,
				heading DOUBLE PRECISION NOT NULL DEFAULT 0,
				speed_kmh DOUBLE PRECISION NOT NULL DEFAULT 0,
				current_dispatch_id UUID,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_ambulances_status ON ambulances(status, vehicle_type);
		`,
		Down: `
			DROP TABLE IF EXISTS ambulances;
		`,
	},
	{
		Version: 2,
		Name:    "dispatches",
		Up: `
			CREATE TABLE IF NOT EXISTS dispatches (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				reference VARCHAR(50) UNIQUE NOT NULL,
				priority INT NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
				lat DOUBLE PRECISION NOT NULL,
				lng DOUBLE PRECISION NOT NULL,
				ambulance_id UUID REFERENCES ambulances(id) ON DELETE SET NULL,
				eta_minutes INT,
				requested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				dispatched_at TIMESTAMPTZ,
				arrived_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ
			);

			CREATE INDEX IF NOT EXISTS idx_dispatches_status ON dispatches(status);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_dispatches_active_ambulance
				ON dispatches(ambulance_id)
				WHERE status IN ('DISPATCHED', 'EN_ROUTE', 'ON_SCENE');
		`,
		Down: `
			DROP TABLE IF EXISTS dispatches;
		`,
	},
	{
		Version: 3,
		Name:    "ambulance_locations",
		Up: `
			CREATE TABLE IF NOT EXISTS ambulance_locations (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				ambulance_id UUID NOT NULL REFERENCES ambulances(id) ON DELETE CASCADE,
				dispatch_id UUID REFERENCES dispatches(id) ON DELETE SET NULL,
				lat DOUBLE PRECISION NOT NULL,
				lng DOUBLE PRECISION NOT NULL,
				heading DOUBLE PRECISION NOT NULL DEFAULT 0,
				speed_kmh DOUBLE PRECISION NOT NULL DEFAULT 0,
				recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_ambulance_locations_track
				ON ambulance_locations(ambulance_id, recorded_at DESC);
		`,
		Down: `
			DROP TABLE IF EXISTS ambulance_locations;
		`,
	},
}

// MigrationState describes one known migration.
type MigrationState struct {
	Version int
	Name    string
	Applied bool
}

func sortedMigrations() []Migration {
	sorted := make([]Migration, len(Migrations))
	copy(sorted, Migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return sorted
}

// RunMigrations applies pending migrations in ascending version order
func RunMigrations(db *sql.DB, logger *zap.Logger) error {
	if err := ensureMigrationsTable(db); err != nil {
		return err
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range sortedMigrations() {
		if migration.Version <= currentVersion {
			continue
		}

		logger.Info("running migration", zap.Int("version", migration.Version), zap.String("name", migration.Name))

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.Exec(migration.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// RollbackLast reverts the most recently applied migration. It returns the
// reverted version, or 0 when nothing was applied.
func RollbackLast(db *sql.DB, logger *zap.Logger) (int, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return 0, err
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return 0, err
	}
	if currentVersion == 0 {
		return 0, nil
	}

	var target *Migration
	for _, m := range Migrations {
		if m.Version == currentVersion {
			m := m
			target = &m
			break
		}
	}
	if target == nil {
		return 0, fmt.Errorf("migration %d is applied but unknown", currentVersion)
	}

	logger.Info("reverting migration", zap.Int("version", target.Version), zap.String("name", target.Name))

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec(target.Down); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to revert migration %d: %w", target.Version, err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = $1", target.Version); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to unrecord migration %d: %w", target.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rollback %d: %w", target.Version, err)
	}
	return target.Version, nil
}

// Status reports which migrations have been applied
func Status(db *sql.DB) ([]MigrationState, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return nil, err
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return nil, err
	}

	sorted := sortedMigrations()
	states := make([]MigrationState, 0, len(sorted))
	for _, m := range sorted {
		states = append(states, MigrationState{
			Version: m.Version,
			Name:    m.Name,
			Applied: m.Version <= currentVersion,
		})
	}
	return states, nil
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
