// Package experiment repeats a simulation configuration over many iterations,
// persists each iteration's output and aggregates the per-firm demand series.
package experiment

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/kitechain/kitesim/internal/results"
	"github.com/kitechain/kitesim/internal/simulation"
)

// Experiment drives repeated iterations of one simulation configuration.
type Experiment struct {
	log        zerolog.Logger
	sim        *simulation.Simulation
	repo       *results.Repository // nil disables persistence
	iterations int
	runParams  results.RunParams

	runID     string
	avgDemand [][]float64 // per firm, averaged across iterations
}

// New creates an experiment. Pass a nil repository to run without
// persistence; the in-memory averages remain available either way.
func New(sim *simulation.Simulation, repo *results.Repository, iterations int,
	runParams results.RunParams, log zerolog.Logger) *Experiment {
	return &Experiment{
		log:        log.With().Str("component", "experiment").Logger(),
		sim:        sim,
		repo:       repo,
		iterations: iterations,
		runParams:  runParams,
	}
}

// RunID returns the persisted run identifier, empty when persistence is off.
func (e *Experiment) RunID() string { return e.runID }

// AverageDemand returns the per-firm demand series averaged across
// iterations, indexed by firm ID.
func (e *Experiment) AverageDemand() [][]float64 {
	out := make([][]float64, len(e.avgDemand))
	for i, series := range e.avgDemand {
		out[i] = append([]float64(nil), series...)
	}
	return out
}

// Run executes every iteration: initialize, simulate, collect, reset.
func (e *Experiment) Run(ctx context.Context) error {
	if e.repo != nil {
		id, err := e.repo.CreateRun(e.runParams)
		if err != nil {
			return err
		}
		e.runID = id
	}

	agents := e.sim.Agents()
	e.avgDemand = make([][]float64, len(agents))

	for iter := 0; iter < e.iterations; iter++ {
		if err := e.sim.Initialize(); err != nil {
			return fmt.Errorf("iteration %d: %w", iter, err)
		}
		if err := e.sim.Run(ctx); err != nil {
			return fmt.Errorf("iteration %d: %w", iter, err)
		}
		if err := e.collect(iter); err != nil {
			return fmt.Errorf("iteration %d: %w", iter, err)
		}
		e.sim.ResetFirms()
		e.log.Info().Int("iteration", iter+1).Int("of", e.iterations).Msg("Iteration complete")
	}

	for _, series := range e.avgDemand {
		for i := range series {
			series[i] /= float64(e.iterations)
		}
	}
	return nil
}

// collect persists one finished iteration and folds its demand series into
// the running totals.
func (e *Experiment) collect(iteration int) error {
	for _, agent := range e.sim.Agents() {
		demand := agent.DemandSeries()

		if e.avgDemand[agent.ID()] == nil {
			e.avgDemand[agent.ID()] = make([]float64, len(demand))
		}
		for i, v := range demand {
			e.avgDemand[agent.ID()][i] += float64(v)
		}

		if e.repo == nil {
			continue
		}
		if err := e.repo.InsertLedgerRows(e.runID, iteration, agent.ID(), agent.Ledger()); err != nil {
			return err
		}
		if err := e.repo.InsertDemandSeries(e.runID, iteration, agent.ID(), demand); err != nil {
			return err
		}
		money, co2, water := agent.CostSeries()
		if err := e.repo.InsertCostSeries(e.runID, iteration, agent.ID(), money, co2, water); err != nil {
			return err
		}
	}
	return nil
}

// ExportCSV writes the averaged demand series: a time-axis header starting at
// the first warm-up period, then one row per firm.
func (e *Experiment) ExportCSV(path string) error {
	if len(e.avgDemand) == 0 {
		return fmt.Errorf("no aggregated data to export; run the experiment first")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	historyTime := e.runParams.HistoryTime
	header := []string{"Time"}
	for i := range e.avgDemand[0] {
		header = append(header, strconv.Itoa(i-historyTime))
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for firmID, series := range e.avgDemand {
		row := []string{fmt.Sprintf("Firm %d", firmID)}
		for _, v := range series {
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row for firm %d: %w", firmID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	e.log.Info().Str("path", path).Int("firms", len(e.avgDemand)).Msg("Exported averaged demand CSV")
	return nil
}
