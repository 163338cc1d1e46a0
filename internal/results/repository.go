// Package results persists experiment output: run metadata, per-firm ledgers
// and the demand and cost series each iteration produced.
package results

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kitechain/kitesim/internal/database"
	"github.com/kitechain/kitesim/internal/modules/firms"
)

// RunParams records the configuration a run was executed with.
type RunParams struct {
	RunTime     int
	HistoryTime int
	ShipDelay   int
	Iterations  int
	DemandMu    int
	DemandStd   float64
	Smoothing   int
	AllocMode   string
	Seed        uint64
}

// Run is one persisted experiment run.
type Run struct {
	ID        string
	CreatedAt string
	Params    RunParams
}

// Repository provides access to the results database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a results repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "results").Logger(),
	}
}

// CreateRun registers a new run and returns its generated ID.
func (r *Repository) CreateRun(params RunParams) (string, error) {
	id := uuid.New().String()
	_, err := r.db.Exec(`
		INSERT INTO runs (id, run_time, history_time, ship_delay, iterations,
			demand_mu, demand_std, smoothing, alloc_mode, seed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, params.RunTime, params.HistoryTime, params.ShipDelay, params.Iterations,
		params.DemandMu, params.DemandStd, params.Smoothing, params.AllocMode,
		int64(params.Seed))
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	r.log.Info().Str("run_id", id).Msg("Created run")
	return id, nil
}

// GetRun fetches one run's metadata.
func (r *Repository) GetRun(id string) (*Run, error) {
	run := &Run{}
	err := r.db.QueryRow(`
		SELECT id, created_at, run_time, history_time, ship_delay, iterations,
			demand_mu, demand_std, smoothing, alloc_mode, seed
		FROM runs WHERE id = ?`, id).Scan(
		&run.ID, &run.CreatedAt, &run.Params.RunTime, &run.Params.HistoryTime,
		&run.Params.ShipDelay, &run.Params.Iterations, &run.Params.DemandMu,
		&run.Params.DemandStd, &run.Params.Smoothing, &run.Params.AllocMode,
		&run.Params.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// InsertLedgerRows stores one firm's ledger for one iteration.
func (r *Repository) InsertLedgerRows(runID string, iteration, firmID int, rows []firms.LedgerRow) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO ledger_rows (run_id, iteration, firm_id, row_index,
				period, beginning_wip, supply_received, available_wip, wip_used,
				ending_wip, supply_ordered, beginning_fg, production_orders,
				fg_produced, fg_after_production, fg_shipped, ending_fg,
				supply_in_transit, desired_wip, forecast_demand, actual_demand)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare ledger insert: %w", err)
		}
		defer stmt.Close()

		for i, row := range rows {
			args := make([]interface{}, 0, 21)
			args = append(args, runID, iteration, firmID, i)
			for _, v := range row.Values() {
				args = append(args, v)
			}
			if _, err := stmt.Exec(args...); err != nil {
				return fmt.Errorf("failed to insert ledger row %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetLedgerRows loads one firm's ledger for one iteration in period order.
func (r *Repository) GetLedgerRows(runID string, iteration, firmID int) ([]firms.LedgerRow, error) {
	rows, err := r.db.Query(`
		SELECT period, beginning_wip, supply_received, available_wip, wip_used,
			ending_wip, supply_ordered, beginning_fg, production_orders,
			fg_produced, fg_after_production, fg_shipped, ending_fg,
			supply_in_transit, desired_wip, forecast_demand, actual_demand
		FROM ledger_rows
		WHERE run_id = ? AND iteration = ? AND firm_id = ?
		ORDER BY row_index`, runID, iteration, firmID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger rows: %w", err)
	}
	defer rows.Close()

	var out []firms.LedgerRow
	for rows.Next() {
		var lr firms.LedgerRow
		if err := rows.Scan(&lr.Time, &lr.BeginningWIP, &lr.SupplyReceived,
			&lr.AvailableWIP, &lr.WIPUsed, &lr.EndingWIP, &lr.SupplyOrdered,
			&lr.BeginningFG, &lr.ProductionOrders, &lr.FGProduced,
			&lr.FGAfterProduction, &lr.FGShipped, &lr.EndingFG,
			&lr.SupplyInTransit, &lr.DesiredWIP, &lr.ForecastDemand,
			&lr.ActualDemand); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		out = append(out, lr)
	}
	return out, rows.Err()
}

// InsertDemandSeries stores one firm's actualized-demand series for one
// iteration.
func (r *Repository) InsertDemandSeries(runID string, iteration, firmID int, series []int) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO demand_series (run_id, iteration, firm_id, row_index, demand)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare demand insert: %w", err)
		}
		defer stmt.Close()

		for i, v := range series {
			if _, err := stmt.Exec(runID, iteration, firmID, i, v); err != nil {
				return fmt.Errorf("failed to insert demand row %d: %w", i, err)
			}
		}
		return nil
	})
}

// AverageDemand returns one firm's demand series averaged across iterations.
func (r *Repository) AverageDemand(runID string, firmID int) ([]float64, error) {
	rows, err := r.db.Query(`
		SELECT AVG(demand)
		FROM demand_series
		WHERE run_id = ? AND firm_id = ?
		GROUP BY row_index
		ORDER BY row_index`, runID, firmID)
	if err != nil {
		return nil, fmt.Errorf("failed to query average demand: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan average demand: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// InsertCostSeries stores the delivery cost series attributed to a firm for
// one iteration. The three slices must be the same length.
func (r *Repository) InsertCostSeries(runID string, iteration, firmID int, money, co2, water []float64) error {
	if len(money) != len(co2) || len(money) != len(water) {
		return fmt.Errorf("cost series lengths differ: %d money, %d co2, %d water",
			len(money), len(co2), len(water))
	}
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO cost_series (run_id, iteration, firm_id, row_index, money, co2, water)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare cost insert: %w", err)
		}
		defer stmt.Close()

		for i := range money {
			if _, err := stmt.Exec(runID, iteration, firmID, i, money[i], co2[i], water[i]); err != nil {
				return fmt.Errorf("failed to insert cost row %d: %w", i, err)
			}
		}
		return nil
	})
}

// TotalCosts sums a firm's attributed costs over one run, averaged across
// iterations.
func (r *Repository) TotalCosts(runID string, firmID int) (money, co2, water float64, err error) {
	rows, err := r.db.Query(`
		SELECT SUM(money), SUM(co2), SUM(water)
		FROM cost_series
		WHERE run_id = ? AND firm_id = ?
		GROUP BY iteration`, runID, firmID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to total costs: %w", err)
	}
	defer rows.Close()

	iterations := 0
	for rows.Next() {
		var m, c, w float64
		if err := rows.Scan(&m, &c, &w); err != nil {
			return 0, 0, 0, fmt.Errorf("failed to scan cost totals: %w", err)
		}
		money += m
		co2 += c
		water += w
		iterations++
	}
	if err := rows.Err(); err != nil {
		return 0, 0, 0, err
	}
	if iterations > 0 {
		money /= float64(iterations)
		co2 /= float64(iterations)
		water /= float64(iterations)
	}
	return money, co2, water, nil
}
