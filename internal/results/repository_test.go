package results

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitechain/kitesim/internal/modules/firms"
	testdb "github.com/kitechain/kitesim/internal/testing"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db := testdb.NewTestDB(t, "results")
	return NewRepository(db.Conn(), zerolog.Nop())
}

func testRunParams() RunParams {
	return RunParams{
		RunTime:     100,
		HistoryTime: 20,
		ShipDelay:   2,
		Iterations:  3,
		DemandMu:    100,
		DemandStd:   10,
		Smoothing:   1,
		AllocMode:   "Default",
		Seed:        42,
	}
}

func TestCreateAndGetRun(t *testing.T) {
	repo := newTestRepository(t)

	id, err := repo.CreateRun(testRunParams())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := repo.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, testRunParams(), run.Params)
	assert.NotEmpty(t, run.CreatedAt)
}

func TestGetRunUnknownID(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.GetRun("no-such-run")
	assert.Error(t, err)
}

func TestLedgerRowsRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	id, err := repo.CreateRun(testRunParams())
	require.NoError(t, err)

	rows := []firms.LedgerRow{
		{Time: -1, BeginningWIP: 10, SupplyReceived: 100, AvailableWIP: 110,
			WIPUsed: 100, EndingWIP: 10, SupplyOrdered: 100, ProductionOrders: 100,
			FGProduced: 100, FGAfterProduction: 100, FGShipped: 100,
			SupplyInTransit: 100, DesiredWIP: 110, ForecastDemand: 100, ActualDemand: 100},
		{Time: 0, BeginningWIP: 10, SupplyReceived: 95, AvailableWIP: 105,
			WIPUsed: 105, SupplyOrdered: 115, ProductionOrders: 105,
			FGProduced: 105, FGAfterProduction: 105, FGShipped: 105,
			SupplyInTransit: 95, DesiredWIP: 110, ForecastDemand: 100, ActualDemand: 105},
	}
	require.NoError(t, repo.InsertLedgerRows(id, 0, 1, rows))

	got, err := repo.GetLedgerRows(id, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	// Other firm/iteration combinations stay empty.
	other, err := repo.GetLedgerRows(id, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAverageDemandAcrossIterations(t *testing.T) {
	repo := newTestRepository(t)
	id, err := repo.CreateRun(testRunParams())
	require.NoError(t, err)

	require.NoError(t, repo.InsertDemandSeries(id, 0, 0, []int{100, 110, 90}))
	require.NoError(t, repo.InsertDemandSeries(id, 1, 0, []int{100, 90, 110}))

	avg, err := repo.AverageDemand(id, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 100, 100}, avg)
}

func TestCostSeriesTotals(t *testing.T) {
	repo := newTestRepository(t)
	id, err := repo.CreateRun(testRunParams())
	require.NoError(t, err)

	require.NoError(t, repo.InsertCostSeries(id, 0, 0,
		[]float64{10, 20}, []float64{1, 2}, []float64{5, 5}))
	require.NoError(t, repo.InsertCostSeries(id, 1, 0,
		[]float64{20, 30}, []float64{3, 4}, []float64{5, 15}))

	money, co2, water, err := repo.TotalCosts(id, 0)
	require.NoError(t, err)
	assert.InDelta(t, 40, money, 1e-9)
	assert.InDelta(t, 5, co2, 1e-9)
	assert.InDelta(t, 15, water, 1e-9)
}

func TestCostSeriesLengthMismatch(t *testing.T) {
	repo := newTestRepository(t)
	id, err := repo.CreateRun(testRunParams())
	require.NoError(t, err)

	err = repo.InsertCostSeries(id, 0, 0, []float64{1, 2}, []float64{1}, []float64{1, 2})
	assert.Error(t, err)
}

func TestTotalCostsEmpty(t *testing.T) {
	repo := newTestRepository(t)
	id, err := repo.CreateRun(testRunParams())
	require.NoError(t, err)

	money, co2, water, err := repo.TotalCosts(id, 0)
	require.NoError(t, err)
	assert.Zero(t, money)
	assert.Zero(t, co2)
	assert.Zero(t, water)
}
