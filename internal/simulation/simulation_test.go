package simulation

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitechain/kitesim/internal/domain"
	"github.com/kitechain/kitesim/internal/modules/firms"
	"github.com/kitechain/kitesim/internal/modules/logistics"
)

func testSimParams() Params {
	return Params{
		RunTime:     10,
		HistoryTime: 10,
		ShipDelay:   2,
		Alpha:       0.1,
		Smoothing:   1,
		Seed:        42,
		DemandMu:    100,
		DemandStd:   0,
	}
}

func testWholesalerParams() firms.WholesalerParams {
	return firms.WholesalerParams{
		Weights:       [2]float64{0.5, 0.5},
		Mode:          firms.AllocationDefault,
		Covariance:    [2][2]float64{{0.004, 0.001}, {0.001, 0.006}},
		RiskTolerance: 0.9,
		ReturnRule:    firms.ReturnRuleSkip,
		WindowLength:  5,
	}
}

func testLogisticsParams() logistics.Params {
	return logistics.Params{
		MilesMexico:       700,
		MilesUS:           1360,
		CostPerMileMexico: 2.36,
		CostPerMileUS:     2.73,
	}
}

func newTestSim(t *testing.T, p Params) *Simulation {
	t.Helper()
	sim, err := New(p, testWholesalerParams(), testLogisticsParams(), zerolog.Nop())
	require.NoError(t, err)
	return sim
}

func runSim(t *testing.T, sim *Simulation) {
	t.Helper()
	require.NoError(t, sim.Initialize())
	require.NoError(t, sim.Run(context.Background()))
}

func TestNewRejectsBadParams(t *testing.T) {
	p := testSimParams()
	p.ShipDelay = p.HistoryTime + 1
	_, err := New(p, testWholesalerParams(), testLogisticsParams(), zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	p = testSimParams()
	p.ShockPeriods = []int{5}
	_, err = New(p, testWholesalerParams(), testLogisticsParams(), zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

// With constant demand the whole chain sits in steady state: every firm ships
// and reorders exactly its share of the mean every period.
func TestConstantDemandReachesSteadyState(t *testing.T) {
	p := testSimParams()
	sim := newTestSim(t, p)
	runSim(t, sim)

	expected := map[int]int{
		RetailerID:      100,
		WholesalerID:    100,
		Manufacturer1ID: 50,
		Manufacturer2ID: 50,
		RawMaterialsID:  100,
	}
	for _, agent := range sim.Agents() {
		ledger := agent.Ledger()
		want := expected[agent.ID()]
		for ti := p.HistoryTime; ti < p.HistoryTime+p.RunTime; ti++ {
			row := ledger[ti]
			assert.Equalf(t, want, row.ActualDemand, "firm %d demand at index %d", agent.ID(), ti)
			assert.Equalf(t, want, row.FGShipped, "firm %d shipped at index %d", agent.ID(), ti)
			assert.Equalf(t, want, row.SupplyOrdered, "firm %d ordered at index %d", agent.ID(), ti)
			assert.Equalf(t, int(float64(want)*p.Alpha), row.EndingWIP,
				"firm %d ending WIP at index %d", agent.ID(), ti)
		}
	}
}

// A one-period shock doubles retailer demand at exactly that period. With only
// safety stock on hand above steady-state supply, the retailer can ship at
// most what it received plus its buffer.
func TestDemandShockPropagatesShortage(t *testing.T) {
	p := testSimParams()
	p.ShockPeriods = []int{5}
	p.ShockPercents = []float64{1.0}
	sim := newTestSim(t, p)
	runSim(t, sim)

	retailer := sim.Agents()[RetailerID]
	ledger := retailer.Ledger()

	shockIdx := p.HistoryTime + 5
	assert.Equal(t, 200, ledger[shockIdx].ActualDemand)
	assert.Equal(t, 110, ledger[shockIdx].FGShipped)
	assert.Equal(t, 0, ledger[shockIdx].EndingWIP)

	for _, ti := range []int{p.HistoryTime + 3, p.HistoryTime + 4} {
		assert.Equal(t, 100, ledger[ti].ActualDemand)
	}
}

func TestProductionConservesMaterialEveryPeriod(t *testing.T) {
	p := testSimParams()
	p.DemandStd = 15
	sim := newTestSim(t, p)
	runSim(t, sim)

	for _, agent := range sim.Agents() {
		for ti, row := range agent.Ledger() {
			assert.Equalf(t, row.WIPUsed, row.FGProduced,
				"firm %d conservation at index %d", agent.ID(), ti)
			assert.GreaterOrEqualf(t, row.EndingWIP, 0,
				"firm %d WIP at index %d", agent.ID(), ti)
			assert.GreaterOrEqualf(t, row.EndingFG, 0,
				"firm %d FG at index %d", agent.ID(), ti)
		}
	}
}

func TestSameSeedReproducesRun(t *testing.T) {
	p := testSimParams()
	p.DemandStd = 20

	simA := newTestSim(t, p)
	runSim(t, simA)
	simB := newTestSim(t, p)
	runSim(t, simB)

	assert.Equal(t, simA.Demand(), simB.Demand())
	for i := range simA.Agents() {
		assert.Equal(t, simA.Agents()[i].Ledger(), simB.Agents()[i].Ledger())
	}
}

func TestConsumerOrdersCloseEachPeriod(t *testing.T) {
	p := testSimParams()
	sim := newTestSim(t, p)
	runSim(t, sim)

	for _, po := range sim.Book().Active() {
		assert.NotEqual(t, domain.External, po.Customer,
			"consumer order %d left open", po.ID)
	}
	closedConsumer := 0
	for _, po := range sim.Book().Closed() {
		if po.Customer == domain.External {
			closedConsumer++
		}
	}
	assert.Equal(t, p.RunTime, closedConsumer)
}

func TestRetailerCostsFollowDemand(t *testing.T) {
	p := testSimParams()
	sim := newTestSim(t, p)
	runSim(t, sim)

	money, co2, water := sim.Agents()[RetailerID].CostSeries()
	// 100 units needs 3 trucks at 38 units per truck.
	wantMoney := 3 * (700*2.36 + 1360*2.73)
	for ti := p.HistoryTime; ti < p.HistoryTime+p.RunTime; ti++ {
		assert.InDelta(t, wantMoney, money[ti], 1e-9)
		assert.Greater(t, co2[ti], 0.0)
		assert.Greater(t, water[ti], 0.0)
	}
}

func TestResetAndReinitializeRunsCleanly(t *testing.T) {
	p := testSimParams()
	sim := newTestSim(t, p)
	runSim(t, sim)

	firstDemand := sim.Demand()
	sim.ResetFirms()
	runSim(t, sim)

	assert.Equal(t, firstDemand, sim.Demand())
	retailer := sim.Agents()[RetailerID]
	assert.Equal(t, 100, retailer.Ledger()[p.HistoryTime].ActualDemand)
	assert.Equal(t, p.RunTime, sim.TimePeriod())
}

func TestRunHonorsContextCancellation(t *testing.T) {
	p := testSimParams()
	sim := newTestSim(t, p)
	require.NoError(t, sim.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sim.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptimizedAllocationKeepsChainFeasible(t *testing.T) {
	p := testSimParams()
	wp := testWholesalerParams()
	wp.Mode = firms.AllocationOptimize
	sim, err := New(p, wp, testLogisticsParams(), zerolog.Nop())
	require.NoError(t, err)
	runSim(t, sim)

	wholesaler := sim.Agents()[WholesalerID].(*firms.Wholesaler)
	weights := wholesaler.Weights()
	assert.InDelta(t, 1.0, weights[0]+weights[1], 1e-9)

	// Consumer demand is exogenous; reallocation upstream cannot change it.
	retailerLedger := sim.Agents()[RetailerID].Ledger()
	for ti := p.HistoryTime; ti < p.HistoryTime+p.RunTime; ti++ {
		assert.Equal(t, 100, retailerLedger[ti].ActualDemand)
	}
	for ti, row := range wholesaler.Ledger() {
		assert.GreaterOrEqualf(t, row.EndingWIP, 0, "wholesaler WIP at index %d", ti)
	}
}
