package firms

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/kitechain/kitesim/internal/domain"
	"github.com/kitechain/kitesim/internal/modules/optimization"
	"github.com/kitechain/kitesim/internal/modules/orders"
)

// Allocation modes for the wholesaler's dual-sourcing split.
const (
	AllocationDefault  = "Default"  // fixed weights for the whole run
	AllocationOptimize = "Optimize" // weights re-solved every period
)

// Return-window update rules: how a period with no order to a supplier is
// treated when building the rolling return window.
const (
	ReturnRuleZero = 1 // treat the period's return as 0
	ReturnRuleOne  = 2 // treat the period's return as 1
	ReturnRuleSkip = 3 // slide only over periods where an order was placed
)

// WholesalerParams configures the dual-sourcing behavior on top of the base
// firm parameters.
type WholesalerParams struct {
	Weights       [2]float64    // initial allocation across the two suppliers, sums to 1
	Mode          string        // AllocationDefault or AllocationOptimize
	Covariance    [2][2]float64 // supplier-pair return covariance
	RiskTolerance float64       // target portfolio return, in (0, 1]
	ReturnRule    int           // ReturnRuleZero, ReturnRuleOne or ReturnRuleSkip
	WindowLength  int           // periods of returns used per optimization
}

// Wholesaler orders from two manufacturers and splits each supply order
// between them according to its portfolio weights, optionally re-optimized
// every period from historical fulfillment returns.
type Wholesaler struct {
	Firm

	weights        [2]float64
	initialWeights [2]float64
	mode           string
	covariance     [2][2]float64
	riskTolerance  float64
	returnRule     int
	windowLength   int

	optimizer *optimization.PortfolioOptimizer

	// Per-supplier time series, indexed like the ledger (warm-up included).
	ordersPlaced [][2]int
	fulfilled    [][2]int
	returns      [][2]float64
	portfolio    [][2]float64

	// Rolling window of returns fed to the optimizer.
	returnWindow [][2]float64
}

// NewWholesaler creates the wholesaler, validating the dual-sourcing
// parameters eagerly.
func NewWholesaler(p Params, wp WholesalerParams, book *orders.Book, log zerolog.Logger) (*Wholesaler, error) {
	if len(p.Suppliers) != 2 {
		return nil, fmt.Errorf("wholesaler requires exactly 2 suppliers, got %d: %w",
			len(p.Suppliers), domain.ErrConfiguration)
	}
	if sum := wp.Weights[0] + wp.Weights[1]; math.Abs(sum-1) > 1e-9 {
		return nil, fmt.Errorf("wholesaler weights must sum to 1, got %v: %w",
			sum, domain.ErrConfiguration)
	}
	if wp.Mode != AllocationDefault && wp.Mode != AllocationOptimize {
		return nil, fmt.Errorf("unknown allocation mode %q: %w", wp.Mode, domain.ErrConfiguration)
	}
	if wp.RiskTolerance <= 0 || wp.RiskTolerance > 1 {
		return nil, fmt.Errorf("risk tolerance %v outside (0, 1]: %w",
			wp.RiskTolerance, domain.ErrConfiguration)
	}
	switch wp.ReturnRule {
	case ReturnRuleZero, ReturnRuleOne, ReturnRuleSkip:
	default:
		return nil, fmt.Errorf("historical return rule must be 1, 2 or 3, got %d: %w",
			wp.ReturnRule, domain.ErrConfiguration)
	}
	if wp.WindowLength <= 0 {
		return nil, fmt.Errorf("return window length %d must be positive: %w",
			wp.WindowLength, domain.ErrConfiguration)
	}
	if wp.WindowLength > p.HistoryTime {
		return nil, fmt.Errorf("return window length %d exceeds warm-up length %d: %w",
			wp.WindowLength, p.HistoryTime, domain.ErrConfiguration)
	}

	w := &Wholesaler{
		Firm:           newFirm(p, book, log),
		weights:        wp.Weights,
		initialWeights: wp.Weights,
		mode:           wp.Mode,
		covariance:     wp.Covariance,
		riskTolerance:  wp.RiskTolerance,
		returnRule:     wp.ReturnRule,
		windowLength:   wp.WindowLength,
		optimizer:      optimization.New(log),
	}
	w.hooks = w
	w.allocSupplierSeries()
	return w, nil
}

// Weights returns the current portfolio allocation.
func (w *Wholesaler) Weights() [2]float64 { return w.weights }

// ReturnWindow returns a copy of the rolling return window.
func (w *Wholesaler) ReturnWindow() [][2]float64 {
	return append([][2]float64(nil), w.returnWindow...)
}

func (w *Wholesaler) allocSupplierSeries() {
	w.ordersPlaced = make([][2]int, w.totalTime)
	w.fulfilled = make([][2]int, w.totalTime)
	w.returns = make([][2]float64, w.totalTime)
	w.portfolio = make([][2]float64, w.totalTime)
	w.returnWindow = make([][2]float64, w.windowLength)
}

// beginningOfDay folds the prior period's fulfillment data into the return
// series. Fulfillment is only known after that period's production step, so
// the update necessarily lags one period.
func (w *Wholesaler) beginningOfDay() error {
	for _, id := range w.poIDs {
		po, err := w.resolve(id)
		if err != nil {
			return err
		}
		if po.OrderTime != w.timePeriod-1 {
			continue
		}
		s, ok := w.supplierIndex(po.Supplier)
		if !ok {
			continue
		}
		idx := w.timeIndex - 1
		w.fulfilled[idx][s] = po.FulfilledAmount
		if w.ordersPlaced[idx][s] == 0 {
			w.returns[idx][s] = 0
		} else {
			w.returns[idx][s] = float64(w.fulfilled[idx][s]) / float64(w.ordersPlaced[idx][s])
		}
	}
	if w.timePeriod == 0 {
		copy(w.returnWindow, w.returns[w.timeIndex-w.windowLength:w.timeIndex])
	} else {
		w.updateReturnWindow(w.timeIndex - 1)
	}
	return nil
}

// updateReturnWindow applies the configured historical-return rule for the
// given time index. Rules 1 and 2 substitute a fixed return for zero-order
// periods and slide normally; rule 3 freezes a supplier's column whenever no
// order went to it, so the window holds the last known real returns.
func (w *Wholesaler) updateReturnWindow(idx int) {
	start := idx - w.windowLength + 1
	end := idx + 1

	if w.returnRule != ReturnRuleSkip {
		for s := 0; s < 2; s++ {
			if w.ordersPlaced[idx][s] == 0 {
				if w.returnRule == ReturnRuleZero {
					w.returns[idx][s] = 0
				} else {
					w.returns[idx][s] = 1
				}
			}
		}
		copy(w.returnWindow, w.returns[start:end])
		return
	}

	if w.ordersPlaced[idx][0] != 0 && w.ordersPlaced[idx][1] != 0 {
		copy(w.returnWindow, w.returns[start:end])
		return
	}

	next := make([][2]float64, w.windowLength)
	for s := 0; s < 2; s++ {
		if w.ordersPlaced[idx][s] == 0 {
			// No order this period: this supplier's column stays put.
			for i := range next {
				next[i][s] = w.returnWindow[i][s]
			}
		} else {
			// Slide: drop the oldest observation, append the newest.
			for i := 0; i < w.windowLength-1; i++ {
				next[i][s] = w.returnWindow[i+1][s]
			}
			next[w.windowLength-1][s] = w.returns[idx][s]
		}
	}
	w.returnWindow = next
}

// chooseSuppliers re-solves the allocation when optimizing, then records the
// period's portfolio.
func (w *Wholesaler) chooseSuppliers(currentTimePeriod int) error {
	switch w.mode {
	case AllocationOptimize:
		// The portfolio cannot change during the warm-up.
		if currentTimePeriod >= 0 {
			if err := w.solveAllocation(currentTimePeriod); err != nil {
				return err
			}
		}
	case AllocationDefault:
	default:
		return fmt.Errorf("firm %d: unknown allocation mode %q: %w",
			w.id, w.mode, domain.ErrStateInvariant)
	}
	w.portfolio[w.timeIndex] = w.weights
	return nil
}

func (w *Wholesaler) solveAllocation(currentTimePeriod int) error {
	if currentTimePeriod+w.historyTime != w.timeIndex {
		return fmt.Errorf("firm %d: time index %d does not match period %d: %w",
			w.id, w.timeIndex, currentTimePeriod, domain.ErrStateInvariant)
	}

	// Expected return per supplier: the mean of its window column.
	expected := make([]float64, 2)
	for s := 0; s < 2; s++ {
		sum := 0.0
		for _, row := range w.returnWindow {
			sum += row[s]
		}
		expected[s] = sum / float64(len(w.returnWindow))
	}

	cov := [][]float64{
		{w.covariance[0][0], w.covariance[0][1]},
		{w.covariance[1][0], w.covariance[1][1]},
	}
	weights, err := w.optimizer.Solve(expected, cov, w.riskTolerance)
	if err != nil {
		return fmt.Errorf("firm %d: allocation solve failed at period %d: %w",
			w.id, currentTimePeriod, err)
	}
	return w.setWeights([2]float64{weights[0], weights[1]})
}

func (w *Wholesaler) setWeights(weights [2]float64) error {
	if w.weights[0]+w.weights[1] > 1.01 {
		return fmt.Errorf("firm %d: portfolio weights sum above 1: %w",
			w.id, domain.ErrStateInvariant)
	}
	w.weights = weights
	return nil
}

// splitOrder divides a total order quantity across the two suppliers by
// weight. Each share is floored at zero and rounded independently; the split
// is not renormalized to hit the exact total.
func (w *Wholesaler) splitOrder(amount int) [2]int {
	var split [2]int
	for s := 0; s < 2; s++ {
		share := int(float64(amount) * w.weights[s])
		if share < 0 {
			share = 0
		}
		split[s] = share
	}
	return split
}

func (w *Wholesaler) createSupplyOrders(amount int) []*orders.PurchaseOrder {
	split := w.splitOrder(amount)
	created := make([]*orders.PurchaseOrder, 0, 2)
	for s, supplier := range w.suppliers {
		po := w.book.Create(w.id, supplier, split[s], w.timePeriod)
		w.poIDs = append(w.poIDs, po.ID)
		created = append(created, po)
	}
	w.ordersPlaced[w.timePeriod+w.historyTime] = split
	return created
}

// recordSupplyReceipt books the fulfillment of an arrived supply order
// against the period it was placed in, one ship-delay ago.
func (w *Wholesaler) recordSupplyReceipt(poID int) error {
	idx := w.timeIndex - w.shipDelay
	for _, id := range w.poIDs {
		if id != poID {
			continue
		}
		po, err := w.resolve(id)
		if err != nil {
			return err
		}
		s, ok := w.supplierIndex(po.Supplier)
		if !ok {
			return fmt.Errorf("firm %d: po %d has unknown supplier %d: %w",
				w.id, poID, po.Supplier, domain.ErrStateInvariant)
		}
		if w.ordersPlaced[idx][s] == 0 {
			if po.FulfilledAmount > 0 {
				return fmt.Errorf("firm %d: po %d fulfilled with no order placed: %w",
					w.id, poID, domain.ErrStateInvariant)
			}
			w.fulfilled[idx][s] = 0
			continue
		}
		w.fulfilled[idx][s] = po.FulfilledAmount
		w.returns[idx][s] = float64(w.fulfilled[idx][s]) / float64(w.ordersPlaced[idx][s])
	}
	return nil
}

// historicalOrderPlan splits the warm-up demand by the configured weights.
func (w *Wholesaler) historicalOrderPlan(demandMu int) []OrderPlan {
	split := w.splitOrder(demandMu)
	plan := make([]OrderPlan, 0, 2)
	for s, supplier := range w.suppliers {
		plan = append(plan, OrderPlan{Supplier: supplier, Amount: split[s]})
	}
	return plan
}

// seedReturnHistory fills the warm-up rows of the supplier series: orders and
// fulfillments split by the configured weights, all returns at 1.
func (w *Wholesaler) seedReturnHistory(histDemand int) {
	split := w.splitOrder(histDemand)
	for t := 0; t < w.historyTime; t++ {
		w.ordersPlaced[t] = split
		w.fulfilled[t] = split
		w.returns[t] = [2]float64{1, 1}
		w.portfolio[t] = w.weights
	}
}

func (w *Wholesaler) resetRole() {
	w.weights = w.initialWeights
	w.allocSupplierSeries()
}

func (w *Wholesaler) supplierIndex(supplier int) (int, bool) {
	for s, id := range w.suppliers {
		if id == supplier {
			return s, true
		}
	}
	return 0, false
}
