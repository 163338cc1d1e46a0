// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/kitechain/kitesim/internal/domain"
	"github.com/kitechain/kitesim/internal/modules/firms"
	"github.com/kitechain/kitesim/internal/modules/logistics"
)

// Config holds application configuration
type Config struct {
	DataDir    string // Base directory for the results database and CSV exports (always absolute)
	LogLevel   string
	Simulation *SimulationConfig
	Demand     *DemandConfig
	Wholesaler *WholesalerConfig
	Logistics  *LogisticsConfig
}

// SimulationConfig holds the clock and experiment parameters shared by every
// firm.
type SimulationConfig struct {
	RunTime       int // simulated periods per iteration
	HistoryTime   int // synthetic warm-up periods prepended to each run
	ShipDelay     int // periods between upstream fulfillment and receipt
	Alpha         float64
	Smoothing     int // demand forecast policy: 1 pass-through, 2 averaged
	NumIterations int
	Seed          uint64
}

// DemandConfig holds the exogenous consumer demand process.
type DemandConfig struct {
	Mu            int     // mean demand per period
	Std           float64 // standard deviation of the demand draw
	ShockPeriods  []int   // periods whose demand is overridden
	ShockPercents []float64
}

// WholesalerConfig holds the dual-sourcing parameters.
type WholesalerConfig struct {
	Weights       [2]float64
	Mode          string
	Covariance    [2][2]float64
	RiskTolerance float64
	ReturnRule    int
	WindowLength  int
}

// LogisticsConfig holds the last-mile delivery cost parameters.
type LogisticsConfig struct {
	MilesMexico       float64
	MilesUS           float64
	CostPerMileMexico float64
	CostPerMileUS     float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("KITESIM_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Simulation: &SimulationConfig{
			RunTime:       getEnvAsInt("KITESIM_RUN_TIME", 100),
			HistoryTime:   getEnvAsInt("KITESIM_HISTORY_TIME", 20),
			ShipDelay:     getEnvAsInt("KITESIM_SHIP_DELAY", 2),
			Alpha:         getEnvAsFloat("KITESIM_ALPHA", 0.1),
			Smoothing:     getEnvAsInt("KITESIM_SMOOTHING", 1),
			NumIterations: getEnvAsInt("KITESIM_ITERATIONS", 1),
			Seed:          uint64(getEnvAsInt("KITESIM_SEED", 42)),
		},
		Demand: &DemandConfig{
			Mu:            getEnvAsInt("KITESIM_DEMAND_MU", 100),
			Std:           getEnvAsFloat("KITESIM_DEMAND_STD", 10),
			ShockPeriods:  getEnvAsIntSlice("KITESIM_SHOCK_PERIODS", nil),
			ShockPercents: getEnvAsFloatSlice("KITESIM_SHOCK_PERCENTS", nil),
		},
		Wholesaler: &WholesalerConfig{
			Weights: [2]float64{
				getEnvAsFloat("KITESIM_WEIGHT_MANUFACTURER_1", 0.5),
				getEnvAsFloat("KITESIM_WEIGHT_MANUFACTURER_2", 0.5),
			},
			Mode: getEnv("KITESIM_ALLOCATION_MODE", firms.AllocationDefault),
			Covariance: [2][2]float64{
				{getEnvAsFloat("KITESIM_COV_11", 0.004), getEnvAsFloat("KITESIM_COV_12", 0.001)},
				{getEnvAsFloat("KITESIM_COV_21", 0.001), getEnvAsFloat("KITESIM_COV_22", 0.006)},
			},
			RiskTolerance: getEnvAsFloat("KITESIM_RISK_TOLERANCE", 0.9),
			ReturnRule:    getEnvAsInt("KITESIM_RETURN_RULE", firms.ReturnRuleSkip),
			WindowLength:  getEnvAsInt("KITESIM_RETURN_WINDOW", 10),
		},
		Logistics: &LogisticsConfig{
			MilesMexico:       getEnvAsFloat("KITESIM_MILES_MEXICO", 700),
			MilesUS:           getEnvAsFloat("KITESIM_MILES_US", 1360),
			CostPerMileMexico: getEnvAsFloat("KITESIM_COST_PER_MILE_MEXICO", 2.36),
			CostPerMileUS:     getEnvAsFloat("KITESIM_COST_PER_MILE_US", 2.73),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against the ranges the simulation
// assumes. Violations here would otherwise only surface as invariant errors
// deep inside a run.
func (c *Config) Validate() error {
	s := c.Simulation
	if s.RunTime <= 0 {
		return fmt.Errorf("run time must be positive, got %d: %w", s.RunTime, domain.ErrConfiguration)
	}
	if s.HistoryTime <= 0 {
		return fmt.Errorf("history time must be positive, got %d: %w", s.HistoryTime, domain.ErrConfiguration)
	}
	if s.ShipDelay < 1 {
		return fmt.Errorf("ship delay must be at least 1, got %d: %w", s.ShipDelay, domain.ErrConfiguration)
	}
	if s.ShipDelay > s.HistoryTime {
		return fmt.Errorf("ship delay %d exceeds history time %d: %w",
			s.ShipDelay, s.HistoryTime, domain.ErrConfiguration)
	}
	if s.Alpha < 0 {
		return fmt.Errorf("alpha must be non-negative, got %v: %w", s.Alpha, domain.ErrConfiguration)
	}
	if s.Smoothing != 1 && s.Smoothing != 2 {
		return fmt.Errorf("smoothing must be 1 or 2, got %d: %w", s.Smoothing, domain.ErrConfiguration)
	}
	if s.NumIterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d: %w", s.NumIterations, domain.ErrConfiguration)
	}

	d := c.Demand
	if d.Mu < 0 {
		return fmt.Errorf("demand mean must be non-negative, got %d: %w", d.Mu, domain.ErrConfiguration)
	}
	if d.Std < 0 {
		return fmt.Errorf("demand std must be non-negative, got %v: %w", d.Std, domain.ErrConfiguration)
	}
	if len(d.ShockPeriods) != len(d.ShockPercents) {
		return fmt.Errorf("shock periods (%d) and percents (%d) must pair up: %w",
			len(d.ShockPeriods), len(d.ShockPercents), domain.ErrConfiguration)
	}
	for _, p := range d.ShockPeriods {
		if p < 0 || p >= s.RunTime {
			return fmt.Errorf("shock period %d outside run time %d: %w", p, s.RunTime, domain.ErrConfiguration)
		}
	}

	w := c.Wholesaler
	if sum := w.Weights[0] + w.Weights[1]; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("wholesaler weights must sum to 1, got %v: %w", sum, domain.ErrConfiguration)
	}
	if w.Mode != firms.AllocationDefault && w.Mode != firms.AllocationOptimize {
		return fmt.Errorf("allocation mode must be %q or %q, got %q: %w",
			firms.AllocationDefault, firms.AllocationOptimize, w.Mode, domain.ErrConfiguration)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if v := w.Covariance[i][j]; v < 0 || v > 1 {
				return fmt.Errorf("covariance entry (%d,%d)=%v outside [0, 1]: %w",
					i, j, v, domain.ErrConfiguration)
			}
		}
	}
	if w.RiskTolerance <= 0 || w.RiskTolerance > 1 {
		return fmt.Errorf("risk tolerance must be in (0, 1], got %v: %w",
			w.RiskTolerance, domain.ErrConfiguration)
	}
	switch w.ReturnRule {
	case firms.ReturnRuleZero, firms.ReturnRuleOne, firms.ReturnRuleSkip:
	default:
		return fmt.Errorf("return rule must be 1, 2 or 3, got %d: %w", w.ReturnRule, domain.ErrConfiguration)
	}
	if w.WindowLength <= 0 || w.WindowLength > s.HistoryTime {
		return fmt.Errorf("return window %d must be in [1, %d]: %w",
			w.WindowLength, s.HistoryTime, domain.ErrConfiguration)
	}

	l := c.Logistics
	if l.MilesMexico < 0 || l.MilesUS < 0 || l.CostPerMileMexico < 0 || l.CostPerMileUS < 0 {
		return fmt.Errorf("logistics distances and rates must be non-negative: %w", domain.ErrConfiguration)
	}

	return nil
}

// LogisticsParams converts the logistics section into calculator parameters.
func (c *Config) LogisticsParams() logistics.Params {
	return logistics.Params{
		MilesMexico:       c.Logistics.MilesMexico,
		MilesUS:           c.Logistics.MilesUS,
		CostPerMileMexico: c.Logistics.CostPerMileMexico,
		CostPerMileUS:     c.Logistics.CostPerMileUS,
	}
}

// WholesalerParams converts the wholesaler section into firm parameters.
func (c *Config) WholesalerParams() firms.WholesalerParams {
	return firms.WholesalerParams{
		Weights:       c.Wholesaler.Weights,
		Mode:          c.Wholesaler.Mode,
		Covariance:    c.Wholesaler.Covariance,
		RiskTolerance: c.Wholesaler.RiskTolerance,
		ReturnRule:    c.Wholesaler.ReturnRule,
		WindowLength:  c.Wholesaler.WindowLength,
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsIntSlice(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		intVal, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return defaultValue
		}
		out = append(out, intVal)
	}
	return out
}

func getEnvAsFloatSlice(key string, defaultValue []float64) []float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		floatVal, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, floatVal)
	}
	return out
}
