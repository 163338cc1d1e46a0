package firms

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitechain/kitesim/internal/domain"
	"github.com/kitechain/kitesim/internal/modules/orders"
)

func testWholesalerParams() WholesalerParams {
	return WholesalerParams{
		Weights:       [2]float64{0.5, 0.5},
		Mode:          AllocationDefault,
		Covariance:    [2][2]float64{{0.004, 0.001}, {0.001, 0.006}},
		RiskTolerance: 0.9,
		ReturnRule:    ReturnRuleSkip,
		WindowLength:  5,
	}
}

func newTestWholesaler(t *testing.T, wp WholesalerParams) (*Wholesaler, *orders.Book) {
	t.Helper()
	book := orders.NewBook(zerolog.Nop())
	w, err := NewWholesaler(testParams(1, []int{2, 3}, []int{0}), wp, book, zerolog.Nop())
	require.NoError(t, err)
	return w, book
}

func TestNewWholesalerValidation(t *testing.T) {
	book := orders.NewBook(zerolog.Nop())
	base := testParams(1, []int{2, 3}, []int{0})

	cases := []struct {
		name   string
		params Params
		mutate func(*WholesalerParams)
	}{
		{"weights must sum to one", base, func(wp *WholesalerParams) { wp.Weights = [2]float64{0.5, 0.4} }},
		{"unknown mode", base, func(wp *WholesalerParams) { wp.Mode = "Greedy" }},
		{"risk tolerance above one", base, func(wp *WholesalerParams) { wp.RiskTolerance = 1.5 }},
		{"risk tolerance zero", base, func(wp *WholesalerParams) { wp.RiskTolerance = 0 }},
		{"unknown return rule", base, func(wp *WholesalerParams) { wp.ReturnRule = 4 }},
		{"window longer than warm-up", base, func(wp *WholesalerParams) { wp.WindowLength = testHistoryTime + 1 }},
		{"window not positive", base, func(wp *WholesalerParams) { wp.WindowLength = 0 }},
		{"needs two suppliers", testParams(1, []int{2}, []int{0}), func(*WholesalerParams) {}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wp := testWholesalerParams()
			tc.mutate(&wp)
			_, err := NewWholesaler(tc.params, wp, book, zerolog.Nop())
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestSplitOrderByWeights(t *testing.T) {
	wp := testWholesalerParams()
	wp.Weights = [2]float64{0.7, 0.3}
	w, _ := newTestWholesaler(t, wp)

	assert.Equal(t, [2]int{70, 30}, w.splitOrder(100))
	// Shares truncate independently; the split may undershoot the total.
	assert.Equal(t, [2]int{3, 1}, w.splitOrder(5))
	assert.Equal(t, [2]int{0, 0}, w.splitOrder(-10))
}

func TestWholesalerHistoricalOrderPlan(t *testing.T) {
	wp := testWholesalerParams()
	wp.Weights = [2]float64{0.6, 0.4}
	w, _ := newTestWholesaler(t, wp)

	plan := w.HistoricalOrderPlan(testMu)
	require.Len(t, plan, 2)
	assert.Equal(t, OrderPlan{Supplier: 2, Amount: 60}, plan[0])
	assert.Equal(t, OrderPlan{Supplier: 3, Amount: 40}, plan[1])
}

func TestSeedReturnHistoryFillsWarmupSeries(t *testing.T) {
	w, _ := newTestWholesaler(t, testWholesalerParams())
	w.Initialize(testMu)

	for ti := 0; ti < testHistoryTime; ti++ {
		assert.Equal(t, [2]int{50, 50}, w.ordersPlaced[ti])
		assert.Equal(t, [2]int{50, 50}, w.fulfilled[ti])
		assert.Equal(t, [2]float64{1, 1}, w.returns[ti])
		assert.Equal(t, w.weights, w.portfolio[ti])
	}
}

func TestCreateSupplyOrdersSplitsAndRecords(t *testing.T) {
	w, _ := newTestWholesaler(t, testWholesalerParams())
	w.Initialize(testMu)

	created := w.createSupplyOrders(100)
	require.Len(t, created, 2)
	assert.Equal(t, 2, created[0].Supplier)
	assert.Equal(t, 3, created[1].Supplier)
	assert.Equal(t, 50, created[0].OrderAmount)
	assert.Equal(t, 50, created[1].OrderAmount)
	assert.Equal(t, [2]int{50, 50}, w.ordersPlaced[testHistoryTime])
}

func TestBeginningOfDaySeedsWindowAtTimeZero(t *testing.T) {
	w, _ := newTestWholesaler(t, testWholesalerParams())
	w.Initialize(testMu)

	require.NoError(t, w.BeginningOfDay())
	for _, row := range w.ReturnWindow() {
		assert.Equal(t, [2]float64{1, 1}, row)
	}
}

func TestBeginningOfDayFoldsPriorPeriodReturns(t *testing.T) {
	w, book := newTestWholesaler(t, testWholesalerParams())
	w.Initialize(testMu)

	// A supply order placed last period, 80% fulfilled by supplier 2.
	w.timePeriod = 1
	w.timeIndex = testHistoryTime + 1
	w.ordersPlaced[testHistoryTime] = [2]int{50, 50}
	po := book.Create(w.ID(), 2, 50, 0)
	po.FulfilledAmount = 40
	w.poIDs = append(w.poIDs, po.ID)

	require.NoError(t, w.BeginningOfDay())
	assert.Equal(t, 40, w.fulfilled[testHistoryTime][0])
	assert.InDelta(t, 0.8, w.returns[testHistoryTime][0], 1e-12)
}

func TestReturnWindowRuleZeroFillsMissedPeriods(t *testing.T) {
	wp := testWholesalerParams()
	wp.ReturnRule = ReturnRuleZero
	w, _ := newTestWholesaler(t, wp)
	w.Initialize(testMu)

	idx := testHistoryTime
	w.ordersPlaced[idx] = [2]int{0, 60}
	w.returns[idx] = [2]float64{0.5, 0.9}
	w.updateReturnWindow(idx)

	window := w.ReturnWindow()
	last := window[len(window)-1]
	assert.Equal(t, 0.0, last[0])
	assert.Equal(t, 0.9, last[1])
}

func TestReturnWindowRuleOneFillsMissedPeriods(t *testing.T) {
	wp := testWholesalerParams()
	wp.ReturnRule = ReturnRuleOne
	w, _ := newTestWholesaler(t, wp)
	w.Initialize(testMu)

	idx := testHistoryTime
	w.ordersPlaced[idx] = [2]int{0, 60}
	w.returns[idx] = [2]float64{0.5, 0.9}
	w.updateReturnWindow(idx)

	window := w.ReturnWindow()
	last := window[len(window)-1]
	assert.Equal(t, 1.0, last[0])
	assert.Equal(t, 0.9, last[1])
}

// Rule 3 freezes the column of a supplier that received no order while the
// other supplier's column keeps sliding.
func TestReturnWindowRuleSkipFreezesIdleSupplier(t *testing.T) {
	w, _ := newTestWholesaler(t, testWholesalerParams())
	w.Initialize(testMu)

	for i := range w.returnWindow {
		w.returnWindow[i] = [2]float64{0.7, 0.8}
	}
	idx := testHistoryTime
	w.ordersPlaced[idx] = [2]int{0, 60}
	w.returns[idx] = [2]float64{0, 0.9}
	w.updateReturnWindow(idx)

	window := w.ReturnWindow()
	for _, row := range window {
		assert.Equal(t, 0.7, row[0])
	}
	assert.Equal(t, 0.8, window[0][1])
	assert.Equal(t, 0.9, window[len(window)-1][1])
}

func TestReturnWindowRuleSkipSlidesWhenBothOrdered(t *testing.T) {
	w, _ := newTestWholesaler(t, testWholesalerParams())
	w.Initialize(testMu)

	idx := testHistoryTime
	w.ordersPlaced[idx] = [2]int{40, 60}
	w.returns[idx] = [2]float64{0.75, 0.9}
	w.updateReturnWindow(idx)

	window := w.ReturnWindow()
	assert.Equal(t, [2]float64{0.75, 0.9}, window[len(window)-1])
}

func TestRecordSupplyReceiptRejectsPhantomFulfillment(t *testing.T) {
	w, book := newTestWholesaler(t, testWholesalerParams())
	w.Initialize(testMu)

	idx := w.timeIndex - w.shipDelay
	w.ordersPlaced[idx] = [2]int{0, 0}
	po := book.Create(w.ID(), 2, 0, idx-testHistoryTime)
	po.FulfilledAmount = 5
	w.poIDs = append(w.poIDs, po.ID)

	err := w.recordSupplyReceipt(po.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStateInvariant)
}

func TestChooseSuppliersOptimizeResolvesWeights(t *testing.T) {
	wp := testWholesalerParams()
	wp.Mode = AllocationOptimize
	w, _ := newTestWholesaler(t, wp)
	w.Initialize(testMu)
	require.NoError(t, w.BeginningOfDay())

	require.NoError(t, w.chooseSuppliers(0))

	weights := w.Weights()
	assert.InDelta(t, 1.0, weights[0]+weights[1], 1e-9)
	for _, wt := range weights {
		assert.GreaterOrEqual(t, wt, 0.0)
		assert.LessOrEqual(t, wt, 1.0)
	}
	assert.Equal(t, weights, w.portfolio[testHistoryTime])
}

func TestChooseSuppliersRejectsSkewedClock(t *testing.T) {
	wp := testWholesalerParams()
	wp.Mode = AllocationOptimize
	w, _ := newTestWholesaler(t, wp)
	w.Initialize(testMu)
	require.NoError(t, w.BeginningOfDay())

	err := w.chooseSuppliers(3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStateInvariant)
}

func TestChooseSuppliersDefaultKeepsWeights(t *testing.T) {
	wp := testWholesalerParams()
	wp.Weights = [2]float64{0.6, 0.4}
	w, _ := newTestWholesaler(t, wp)
	w.Initialize(testMu)

	require.NoError(t, w.chooseSuppliers(0))
	assert.Equal(t, [2]float64{0.6, 0.4}, w.Weights())
}

func TestWholesalerResetRestoresInitialWeights(t *testing.T) {
	w, _ := newTestWholesaler(t, testWholesalerParams())
	w.Initialize(testMu)
	require.NoError(t, w.setWeights([2]float64{0.9, 0.1}))
	w.ordersPlaced[testHistoryTime] = [2]int{90, 10}

	w.Reset()
	w.Initialize(testMu)

	assert.Equal(t, [2]float64{0.5, 0.5}, w.Weights())
	assert.Equal(t, [2]int{50, 50}, w.ordersPlaced[testHistoryTime-1])
	assert.Equal(t, [2]int{0, 0}, w.ordersPlaced[testHistoryTime])
}
