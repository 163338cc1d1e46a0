package firms

// LedgerRow is one period of a firm's internal bookkeeping. Historical
// warm-up periods carry negative Time values; simulated periods count up
// from zero. A row is fully populated before the next period begins.
type LedgerRow struct {
	Time              int // simulation period (negative during warm-up)
	BeginningWIP      int // WIP inventory at period start
	SupplyReceived    int // WIP received from suppliers this period
	AvailableWIP      int // WIP on hand once receipts are absorbed
	WIPUsed           int // WIP consumed by production
	EndingWIP         int // WIP inventory at period end
	SupplyOrdered     int // total WIP ordered from suppliers
	BeginningFG       int // finished goods at period start
	ProductionOrders  int // production committed after capping at available WIP
	FGProduced        int // finished goods produced (1:1 with WIPUsed)
	FGAfterProduction int // finished goods on hand once production completes
	FGShipped         int // finished goods shipped to customers
	EndingFG          int // finished goods at period end
	SupplyInTransit   int // WIP fulfilled upstream but not yet arrived
	DesiredWIP        int // forecast demand plus safety stock
	ForecastDemand    int // forecast for this period
	ActualDemand      int // demand actually received this period
}

// LedgerColumns names the row fields in storage order, used by the CSV and
// SQLite exporters.
var LedgerColumns = []string{
	"time",
	"beginning_wip",
	"supply_received",
	"available_wip",
	"wip_used",
	"ending_wip",
	"supply_ordered",
	"beginning_fg",
	"production_orders",
	"fg_produced",
	"fg_after_production",
	"fg_shipped",
	"ending_fg",
	"supply_in_transit",
	"desired_wip",
	"forecast_demand",
	"actual_demand",
}

// Values flattens the row in LedgerColumns order.
func (r LedgerRow) Values() []int {
	return []int{
		r.Time,
		r.BeginningWIP,
		r.SupplyReceived,
		r.AvailableWIP,
		r.WIPUsed,
		r.EndingWIP,
		r.SupplyOrdered,
		r.BeginningFG,
		r.ProductionOrders,
		r.FGProduced,
		r.FGAfterProduction,
		r.FGShipped,
		r.EndingFG,
		r.SupplyInTransit,
		r.DesiredWIP,
		r.ForecastDemand,
		r.ActualDemand,
	}
}
