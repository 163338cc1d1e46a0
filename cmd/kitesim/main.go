// Package main is the entry point for the kitesim supply-chain simulator.
// It wires the five-firm chain (retailer, dual-sourcing wholesaler, two
// manufacturers, raw-materials producer), runs the configured number of
// iterations, persists every iteration to the results database and exports
// the averaged demand series as CSV.
package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kitechain/kitesim/internal/config"
	"github.com/kitechain/kitesim/internal/database"
	"github.com/kitechain/kitesim/internal/experiment"
	"github.com/kitechain/kitesim/internal/results"
	"github.com/kitechain/kitesim/internal/simulation"
	"github.com/kitechain/kitesim/pkg/logger"
)

func main() {
	// Load configuration first to get the log level.
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Msg("Starting kitesim")

	// Cancel the run cleanly on SIGINT/SIGTERM; partial iterations are
	// discarded, completed iterations stay persisted.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "results.db"),
		Profile: database.ProfileResults,
		Name:    "results",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open results database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate results database")
	}
	repo := results.NewRepository(db.Conn(), log)

	sim, err := simulation.New(
		simulation.Params{
			RunTime:       cfg.Simulation.RunTime,
			HistoryTime:   cfg.Simulation.HistoryTime,
			ShipDelay:     cfg.Simulation.ShipDelay,
			Alpha:         cfg.Simulation.Alpha,
			Smoothing:     cfg.Simulation.Smoothing,
			Seed:          cfg.Simulation.Seed,
			DemandMu:      cfg.Demand.Mu,
			DemandStd:     cfg.Demand.Std,
			ShockPeriods:  cfg.Demand.ShockPeriods,
			ShockPercents: cfg.Demand.ShockPercents,
		},
		cfg.WholesalerParams(),
		cfg.LogisticsParams(),
		log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build simulation")
	}

	exp := experiment.New(sim, repo, cfg.Simulation.NumIterations, results.RunParams{
		RunTime:     cfg.Simulation.RunTime,
		HistoryTime: cfg.Simulation.HistoryTime,
		ShipDelay:   cfg.Simulation.ShipDelay,
		Iterations:  cfg.Simulation.NumIterations,
		DemandMu:    cfg.Demand.Mu,
		DemandStd:   cfg.Demand.Std,
		Smoothing:   cfg.Simulation.Smoothing,
		AllocMode:   cfg.Wholesaler.Mode,
		Seed:        cfg.Simulation.Seed,
	}, log)

	if err := exp.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Experiment failed")
	}

	csvPath := filepath.Join(cfg.DataDir, "average_demand.csv")
	if err := exp.ExportCSV(csvPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to export CSV")
	}

	money, co2, water, err := repo.TotalCosts(exp.RunID(), simulation.RetailerID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to total delivery costs")
	} else {
		log.Info().
			Float64("money", money).
			Float64("co2_lbs", co2).
			Float64("water_gal", water).
			Msg("Average delivery footprint per iteration")
	}

	log.Info().
		Str("run_id", exp.RunID()).
		Int("iterations", cfg.Simulation.NumIterations).
		Str("csv", csvPath).
		Str("db", db.Path()).
		Msg("kitesim finished")
}
