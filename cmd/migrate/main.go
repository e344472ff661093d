package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rescuelink/backend/config"
	"github.com/rescuelink/backend/internal/database"
	"github.com/rescuelink/backend/internal/logger"
	"github.com/rescuelink/backend/internal/models"
	"github.com/rescuelink/backend/internal/repository"
)

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "RescueLink database migrations",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(db *database.DB, log *zap.Logger) error {
			if err := database.RunMigrations(db.DB, log); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			log.Info("migrations completed")
			return nil
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the latest applied migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(db *database.DB, log *zap.Logger) error {
			version, err := database.RollbackLast(db.DB, log)
			if err != nil {
				return err
			}
			if version == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to roll back")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled back version %d\n", version)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(db *database.DB, _ *zap.Logger) error {
			states, err := database.Status(db.DB)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATE")
			for _, s := range states {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, s.Name, state)
			}
			return w.Flush()
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert a small development fleet",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(db *database.DB, log *zap.Logger) error {
			repo := repository.NewAmbulanceRepository(db)
			for _, a := range devFleet() {
				if err := repo.Create(cmd.Context(), a); err != nil {
					return err
				}
				log.Info("ambulance created", zap.String("call_sign", a.CallSign), zap.String("id", a.ID.String()))
			}
			return nil
		})
	},
}

func devFleet() []*models.Ambulance {
	base := func(callSign, vehicleType string, lat, lng float64) *models.Ambulance {
		p := models.LatLng{Lat: lat, Lng: lng}
		return &models.Ambulance{
			CallSign:    callSign,
			VehicleType: vehicleType,
			Status:      models.AmbulanceAvailable,
			Position:    p,
			HomeBase:    p,
		}
	}
	return []*models.Ambulance{
		base("MEDIC-1", "ALS", 48.8566, 2.3522),
		base("MEDIC-2", "BLS", 48.8738, 2.2950),
		base("MEDIC-3", "BLS", 48.8462, 2.3371),
		base("MEDIC-4", "ALS", 48.8924, 2.2369),
	}
}

func withDB(ctx context.Context, fn func(db *database.DB, log *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "rescuelink-migrate")
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	db, err := database.NewPostgresDB(ctx, cfg.GetDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(db, log)
}

func main() {
	rootCmd.AddCommand(upCmd, downCmd, statusCmd, seedCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
