// Package firms implements the supply-chain agents: the base per-period
// protocol shared by every firm plus the four role specializations
// (Retailer, Wholesaler, Manufacturer, RawMaterials).
package firms

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"

	"github.com/kitechain/kitesim/internal/domain"
	"github.com/kitechain/kitesim/internal/modules/orders"
)

// Agent is the fixed per-period contract the orchestrator drives each firm
// through. The seven simulated phases run in declaration order; the remaining
// methods cover setup, reset and data extraction between runs.
type Agent interface {
	ID() int
	ShipDelay() int

	HistoricalDemand(demandMu int) int
	HistoricalOrderPlan(demandMu int) []OrderPlan
	Initialize(histDemand int)
	AdoptHistory(customerPoIDs, supplierPoIDs []int)
	Reset()

	BeginningOfDay() error
	ReceiveWipOrder(poID int) error
	ReceiveCustomerDemand(pos []*orders.PurchaseOrder) error
	Production(rng *rand.Rand) error
	SendCustomerShipments(timePeriod int) (bool, error)
	UpdateDemandForecast(smoothing int) error
	OrderSupplies(currentTimePeriod int) ([]*orders.PurchaseOrder, error)
	EndOfDay() error

	ActualizeCost(money, co2, water float64)
	Ledger() []LedgerRow
	DemandSeries() []int
	CostSeries() (money, co2, water []float64)
}

// OrderPlan is one synthetic warm-up supply order: which supplier and how
// much, repeated for each warm-up period.
type OrderPlan struct {
	Supplier int
	Amount   int
}

// roleHooks are the points where a role diverges from the base protocol.
// The base Firm carries no-op or uniform defaults; a role overrides only the
// hooks it needs and the embedded Firm dispatches through this interface.
type roleHooks interface {
	beginningOfDay() error
	chooseSuppliers(currentTimePeriod int) error
	createSupplyOrders(amount int) []*orders.PurchaseOrder
	recordSupplyReceipt(poID int) error
	historicalDemand(demandMu int) int
	historicalOrderPlan(demandMu int) []OrderPlan
	seedReturnHistory(histDemand int)
	resetRole()
}

// Params are the static per-firm parameters, fixed for the lifetime of an
// experiment.
type Params struct {
	ID          int
	Alpha       float64 // safety-stock fraction added on top of forecast demand
	RunTime     int
	HistoryTime int
	ShipDelay   int
	Suppliers   []int
	Customers   []int
}

// Firm holds the state and base behavior shared by every role.
type Firm struct {
	id          int
	alpha       float64
	runTime     int
	historyTime int
	totalTime   int
	shipDelay   int
	suppliers   []int
	customers   []int

	book  *orders.Book
	log   zerolog.Logger
	hooks roleHooks

	wipInventory int
	fgInventory  int
	desiredWIP   int

	forecast  []int // length totalTime + shipDelay
	demand    []int // actualized demand, length totalTime
	costMoney []float64
	costCO2   []float64
	costWater []float64

	ledger []LedgerRow // length totalTime

	poIDs               []int // outstanding supply orders sent upstream
	customerPoIDs       []int // incoming customer orders
	productionQueue     []int
	shippingQueue       []int
	producedPoIDs       []int
	shippedPoIDs        []int
	closedSupplierPoIDs []int
	closedCustomerPoIDs []int

	productionOrder int

	timePeriod int
	timeIndex  int // timePeriod + historyTime; indexes arrays that carry warm-up data
}

func newFirm(p Params, book *orders.Book, log zerolog.Logger) Firm {
	return Firm{
		id:          p.ID,
		alpha:       p.Alpha,
		runTime:     p.RunTime,
		historyTime: p.HistoryTime,
		totalTime:   p.RunTime + p.HistoryTime,
		shipDelay:   p.ShipDelay,
		suppliers:   append([]int(nil), p.Suppliers...),
		customers:   append([]int(nil), p.Customers...),
		book:        book,
		log:         log.With().Str("component", "firm").Int("firm_id", p.ID).Logger(),
		timePeriod:  0,
		timeIndex:   p.HistoryTime,
	}
}

// ID returns the firm's unique identifier.
func (f *Firm) ID() int { return f.id }

// ShipDelay returns the periods between upstream fulfillment and receipt.
func (f *Firm) ShipDelay() int { return f.shipDelay }

// WIPInventory returns the current work-in-process inventory.
func (f *Firm) WIPInventory() int { return f.wipInventory }

// FGInventory returns the current finished-goods inventory.
func (f *Firm) FGInventory() int { return f.fgInventory }

// Forecast returns the demand forecast for a given time index.
func (f *Firm) Forecast(timeIndex int) int { return f.forecast[timeIndex] }

// --- setup, reset and data extraction ---

// HistoricalDemand returns the synthetic per-period demand a firm saw during
// the warm-up. The base answer is the configured consumer mean; the
// Manufacturer scales it by its share of the wholesaler's allocation.
func (f *Firm) HistoricalDemand(demandMu int) int {
	return f.hooks.historicalDemand(demandMu)
}

func (f *Firm) historicalDemand(demandMu int) int { return demandMu }

// HistoricalOrderPlan describes the supply orders this firm notionally placed
// in each warm-up period.
func (f *Firm) HistoricalOrderPlan(demandMu int) []OrderPlan {
	return f.hooks.historicalOrderPlan(demandMu)
}

func (f *Firm) historicalOrderPlan(demandMu int) []OrderPlan {
	amount := f.hooks.historicalDemand(demandMu) / len(f.suppliers)
	if amount < 0 {
		amount = 0
	}
	plan := make([]OrderPlan, 0, len(f.suppliers))
	for _, supplier := range f.suppliers {
		plan = append(plan, OrderPlan{Supplier: supplier, Amount: amount})
	}
	return plan
}

// Initialize seeds inventories, the ledger, the forecast and the demand
// history with the firm's synthetic warm-up demand. Safe to call again after
// Reset for the next iteration.
func (f *Firm) Initialize(histDemand int) {
	f.setInitialInventories(histDemand)

	f.ledger = make([]LedgerRow, f.totalTime)
	f.forecast = make([]int, f.totalTime+f.shipDelay)
	f.demand = make([]int, f.totalTime)
	f.costMoney = make([]float64, f.totalTime)
	f.costCO2 = make([]float64, f.totalTime)
	f.costWater = make([]float64, f.totalTime)

	for t := 0; t < f.historyTime; t++ {
		f.ledger[t] = LedgerRow{
			Time:              t - f.historyTime,
			BeginningWIP:      f.wipInventory,
			SupplyReceived:    histDemand,
			AvailableWIP:      histDemand + f.wipInventory,
			WIPUsed:           histDemand,
			EndingWIP:         f.wipInventory,
			SupplyOrdered:     histDemand,
			BeginningFG:       f.fgInventory,
			ProductionOrders:  histDemand,
			FGProduced:        histDemand,
			FGAfterProduction: histDemand,
			FGShipped:         histDemand,
			EndingFG:          f.fgInventory,
			SupplyInTransit:   histDemand * (f.shipDelay - 1),
			DesiredWIP:        f.desiredWIP,
			ForecastDemand:    histDemand,
			ActualDemand:      histDemand,
		}
		f.demand[t] = histDemand
	}
	for t := 0; t < f.totalTime; t++ {
		f.forecast[t] = histDemand
	}

	f.hooks.seedReturnHistory(histDemand)

	// Beginning-of-time-zero values.
	f.ledger[f.timeIndex].BeginningWIP = f.wipInventory
	f.ledger[f.timeIndex].BeginningFG = f.fgInventory
	f.ledger[f.timeIndex].DesiredWIP = f.desiredWIP

	f.log.Debug().Int("hist_demand", histDemand).Msg("Initialized agent state")
}

func (f *Firm) setInitialInventories(histDemand int) {
	f.desiredWIP = int(float64(histDemand) * (1 + f.alpha))
	f.wipInventory = int(float64(histDemand) * f.alpha)
	f.fgInventory = 0
}

// AdoptHistory attaches the synthetic warm-up purchase orders to the firm's
// local views: orders it received as a supplier and orders it placed as a
// customer.
func (f *Firm) AdoptHistory(customerPoIDs, supplierPoIDs []int) {
	f.customerPoIDs = append(f.customerPoIDs, customerPoIDs...)
	f.poIDs = append(f.poIDs, supplierPoIDs...)
	f.log.Debug().
		Int("customer_pos", len(customerPoIDs)).
		Int("supplier_pos", len(supplierPoIDs)).
		Msg("Adopted historical purchase orders")
}

// Reset clears all transient run state so the firm can be re-initialized for
// the next iteration. Static role parameters survive.
func (f *Firm) Reset() {
	f.poIDs = nil
	f.customerPoIDs = nil
	f.productionQueue = nil
	f.shippingQueue = nil
	f.producedPoIDs = nil
	f.shippedPoIDs = nil
	f.closedSupplierPoIDs = nil
	f.closedCustomerPoIDs = nil
	f.productionOrder = 0
	f.timePeriod = 0
	f.timeIndex = f.historyTime
	f.hooks.resetRole()
	f.log.Info().Msg("Firm reset")
}

// ActualizeCost records the period's attributed logistics costs.
func (f *Firm) ActualizeCost(money, co2, water float64) {
	f.costMoney[f.timeIndex] = money
	f.costCO2[f.timeIndex] = co2
	f.costWater[f.timeIndex] = water
}

// Ledger returns a copy of the firm's per-period ledger.
func (f *Firm) Ledger() []LedgerRow {
	return append([]LedgerRow(nil), f.ledger...)
}

// DemandSeries returns a copy of the actualized-demand series.
func (f *Firm) DemandSeries() []int {
	return append([]int(nil), f.demand...)
}

// CostSeries returns copies of the attributed cost series.
func (f *Firm) CostSeries() (money, co2, water []float64) {
	return append([]float64(nil), f.costMoney...),
		append([]float64(nil), f.costCO2...),
		append([]float64(nil), f.costWater...)
}

// --- the seven-phase daily protocol ---

// BeginningOfDay runs the role's pre-period processing. The base protocol has
// none; the Wholesaler folds in the prior period's fulfillment data here.
func (f *Firm) BeginningOfDay() error {
	return f.hooks.beginningOfDay()
}

func (f *Firm) beginningOfDay() error { return nil }

// chooseSuppliers is a no-op for the base protocol; the Wholesaler re-solves
// its allocation here.
func (f *Firm) chooseSuppliers(int) error { return nil }

// ReceiveWipOrder absorbs an arrived supply order into WIP inventory and
// closes the customer side of the purchase order.
func (f *Firm) ReceiveWipOrder(poID int) error {
	totalReceived := 0
	found := false
	for _, id := range f.poIDs {
		if id != poID {
			continue
		}
		po, err := f.resolve(id)
		if err != nil {
			return err
		}
		f.wipInventory += po.FulfilledAmount
		totalReceived += po.FulfilledAmount
		po.CustomerClosed = true
		found = true
	}
	f.ledger[f.timeIndex].SupplyReceived += totalReceived
	f.ledger[f.timeIndex].AvailableWIP = f.wipInventory
	f.log.Debug().Int("t", f.timePeriod).Int("received", totalReceived).Msg("Received WIP shipment")

	if err := f.hooks.recordSupplyReceipt(poID); err != nil {
		return err
	}
	if len(f.poIDs) == 0 {
		f.log.Warn().Int("t", f.timePeriod).Int("po_id", poID).
			Msg("Receiving WIP order but outstanding PO list is empty")
	} else if !found {
		f.log.Warn().Int("t", f.timePeriod).Int("po_id", poID).
			Msg("Receiving WIP order but PO not found in outstanding list")
	}
	return nil
}

// ReceiveCustomerDemand queues the period's incoming customer orders for
// production and records the total as actualized demand.
func (f *Firm) ReceiveCustomerDemand(pos []*orders.PurchaseOrder) error {
	amount := 0
	for _, po := range pos {
		f.customerPoIDs = append(f.customerPoIDs, po.ID)
		f.productionQueue = append(f.productionQueue, po.ID)
		amount += po.OrderAmount
	}
	if err := f.createProductionOrder(); err != nil {
		return err
	}
	f.demand[f.timeIndex] += amount
	f.ledger[f.timeIndex].ActualDemand = amount
	f.log.Debug().Int("t", f.timePeriod).Int("orders", len(pos)).Int("amount", amount).
		Msg("Received customer demand")
	return nil
}

// createProductionOrder sums the queued order quantities and caps the total
// at available WIP.
func (f *Firm) createProductionOrder() error {
	productionAmount := 0
	for _, id := range f.productionQueue {
		po, err := f.resolve(id)
		if err != nil {
			return err
		}
		productionAmount += po.OrderAmount
	}
	if productionAmount > f.wipInventory {
		f.log.Warn().Int("t", f.timePeriod).
			Int("wanted", productionAmount).
			Int("available", f.wipInventory).
			Msg("Not enough WIP inventory to produce desired amount")
		productionAmount = f.wipInventory
	}
	if productionAmount < 0 {
		return fmt.Errorf("firm %d: production order %d is negative: %w",
			f.id, productionAmount, domain.ErrStateInvariant)
	}
	f.productionOrder = productionAmount
	f.ledger[f.timeIndex].ProductionOrders = productionAmount
	return nil
}

// Production converts WIP into finished goods against the queued orders.
// The queue is processed in randomized order so no customer is systematically
// starved; whatever cannot be covered by WIP this period is forfeited, not
// carried forward. Every order touched closes supplier-side regardless of how
// much was produced.
func (f *Firm) Production(rng *rand.Rand) error {
	leftToProduce := f.productionOrder
	rng.Shuffle(len(f.productionQueue), func(i, j int) {
		f.productionQueue[i], f.productionQueue[j] = f.productionQueue[j], f.productionQueue[i]
	})
	for _, id := range f.productionQueue {
		po, err := f.resolve(id)
		if err != nil {
			return err
		}
		if leftToProduce < 0 {
			return fmt.Errorf("firm %d: left-to-produce counter is negative: %w",
				f.id, domain.ErrStateInvariant)
		}
		po.SupplierClosed = true // all orders close in the period they are received
		if leftToProduce == 0 {
			if err := po.RecordFulfillment(0, f.timePeriod); err != nil {
				return err
			}
			f.shippingQueue = append(f.shippingQueue, id)
			f.log.Warn().Int("t", f.timePeriod).Int("po_id", id).
				Msg("Unfulfilled PO moved to shipping queue")
			continue
		}
		if po.OrderAmount <= leftToProduce {
			leftToProduce -= po.OrderAmount
			if err := f.makeProduct(po, po.OrderAmount); err != nil {
				return err
			}
		} else {
			if err := f.makeProduct(po, leftToProduce); err != nil {
				return err
			}
			leftToProduce = 0
		}
		f.producedPoIDs = append(f.producedPoIDs, id)
		f.shippingQueue = append(f.shippingQueue, id)
	}
	f.ledger[f.timeIndex].FGAfterProduction = f.fgInventory
	f.log.Debug().Int("t", f.timePeriod).Int("left", leftToProduce).Msg("Production complete")
	return nil
}

// makeProduct fulfills one order. Conversion from WIP to finished goods is
// 1:1 with no loss.
func (f *Firm) makeProduct(po *orders.PurchaseOrder, amount int) error {
	if err := po.RecordFulfillment(amount, f.timePeriod); err != nil {
		return err
	}
	f.fgInventory += amount
	f.wipInventory -= amount
	return nil
}

// SendCustomerShipments puts everything produced this period in transit,
// setting arrival times a ship-delay out. Returns false if there was nothing
// to ship.
func (f *Firm) SendCustomerShipments(timePeriod int) (bool, error) {
	if len(f.shippingQueue) == 0 {
		f.log.Warn().Int("t", f.timePeriod).Msg("No items shipped")
		return false, nil
	}
	shippedAmount := 0
	for _, id := range f.shippingQueue {
		po, err := f.resolve(id)
		if err != nil {
			return false, err
		}
		po.ArrivalTime = timePeriod + f.shipDelay
		po.SupplierClosed = true
		f.fgInventory -= po.FulfilledAmount
		shippedAmount += po.FulfilledAmount
		f.shippedPoIDs = append(f.shippedPoIDs, id)
	}
	f.shippingQueue = nil
	f.ledger[f.timeIndex].FGShipped = shippedAmount
	f.log.Debug().Int("t", f.timePeriod).Int("shipped", shippedAmount).Msg("Sent customer shipments")
	return true, nil
}

// UpdateDemandForecast recomputes the forecast under the configured smoothing
// policy, refreshes desired WIP and propagates the forecast into the slots
// the next supply order will be in transit for.
func (f *Firm) UpdateDemandForecast(smoothing int) error {
	newDemand, err := f.futureDemand(smoothing)
	if err != nil {
		return err
	}
	f.desiredWIP = int(float64(newDemand) * (1 + f.alpha))
	if f.timeIndex+1 < f.totalTime {
		f.ledger[f.timeIndex+1].DesiredWIP = f.desiredWIP
	}
	endTime := f.timeIndex + f.shipDelay + 1
	if endTime > len(f.forecast) {
		endTime = len(f.forecast)
	}
	for t := f.timeIndex + 1; t < endTime; t++ {
		f.forecast[t] = newDemand
	}
	f.log.Debug().Int("t", f.timePeriod).Int("forecast", newDemand).Int("desired_wip", f.desiredWIP).
		Msg("Updated demand forecast")
	return nil
}

// futureDemand applies the smoothing policy: 1 passes this period's actual
// demand through, 2 averages it with this period's pre-existing forecast
// (rounded half up).
func (f *Firm) futureDemand(smoothing int) (int, error) {
	switch smoothing {
	case 1:
		return f.demand[f.timeIndex], nil
	case 2:
		actual := f.demand[f.timeIndex]
		forecast := f.forecast[f.timeIndex]
		return (actual + forecast + 1) / 2, nil
	default:
		return 0, fmt.Errorf("firm %d: smoothing value %d not recognized: %w",
			f.id, smoothing, domain.ErrStateInvariant)
	}
}

// OrderSupplies reselects suppliers (role hook), computes the order quantity
// and emits the period's supply purchase orders.
func (f *Firm) OrderSupplies(currentTimePeriod int) ([]*orders.PurchaseOrder, error) {
	if err := f.hooks.chooseSuppliers(currentTimePeriod); err != nil {
		return nil, err
	}
	newOrder, err := f.calculateSupplyOrder()
	if err != nil {
		return nil, err
	}
	f.ledger[f.timeIndex].SupplyOrdered = newOrder
	if newOrder == 0 {
		f.log.Warn().Int("t", f.timePeriod).Msg("No WIP order placed")
		return nil, nil
	}
	created := f.hooks.createSupplyOrders(newOrder)
	f.log.Debug().Int("t", f.timePeriod).Int("amount", newOrder).Int("orders", len(created)).
		Msg("Placed supply orders")
	return created, nil
}

// calculateSupplyOrder sizes the order: desired WIP plus the sales expected
// while the order ships, minus what is already in transit and on hand.
func (f *Firm) calculateSupplyOrder() (int, error) {
	salesDuringDelay := 0
	for i := 0; i < f.shipDelay-1; i++ {
		salesDuringDelay += f.forecast[f.timePeriod+f.shipDelay+i]
	}
	supplyInTransit := 0
	for _, id := range f.poIDs {
		po, err := f.resolve(id)
		if err != nil {
			return 0, err
		}
		// The customer knows it was shorted as soon as the product ships.
		if po.ArrivalTime > f.timePeriod && !po.CustomerClosed {
			supplyInTransit += po.FulfilledAmount
		}
	}
	f.ledger[f.timeIndex].SupplyInTransit = supplyInTransit

	order := f.desiredWIP + salesDuringDelay - supplyInTransit - f.wipInventory
	if order < 0 {
		order = 0
	}
	return order, nil
}

// createSupplyOrders is the base split: one order for the full amount to each
// configured supplier.
func (f *Firm) createSupplyOrders(amount int) []*orders.PurchaseOrder {
	created := make([]*orders.PurchaseOrder, 0, len(f.suppliers))
	for _, supplier := range f.suppliers {
		po := f.book.Create(f.id, supplier, amount, f.timePeriod)
		f.poIDs = append(f.poIDs, po.ID)
		created = append(created, po)
	}
	return created
}

func (f *Firm) recordSupplyReceipt(int) error { return nil }

func (f *Firm) seedReturnHistory(int) {}

func (f *Firm) resetRole() {}

// EndOfDay validates the inventory invariants, finalizes the period's ledger
// row, archives closed purchase orders out of the local lists and advances
// the firm's clock.
func (f *Firm) EndOfDay() error {
	if f.wipInventory < 0 {
		return fmt.Errorf("firm %d: WIP inventory is negative at end of period %d: %w",
			f.id, f.timePeriod, domain.ErrStateInvariant)
	}
	if f.fgInventory < 0 {
		return fmt.Errorf("firm %d: FG inventory is negative at end of period %d: %w",
			f.id, f.timePeriod, domain.ErrStateInvariant)
	}

	wipUsed := 0
	for _, id := range f.productionQueue {
		po, err := f.resolve(id)
		if err != nil {
			return err
		}
		wipUsed += po.FulfilledAmount
	}
	f.ledger[f.timeIndex].WIPUsed = wipUsed
	f.ledger[f.timeIndex].FGProduced = wipUsed

	// Clear the production queue of everything the supplier side closed.
	remaining := f.productionQueue[:0]
	for _, id := range f.productionQueue {
		po, err := f.resolve(id)
		if err != nil {
			return err
		}
		if !po.SupplierClosed {
			remaining = append(remaining, id)
		}
	}
	f.productionQueue = remaining
	if len(f.productionQueue) > 0 {
		f.log.Warn().Int("t", f.timePeriod).Int("remaining", len(f.productionQueue)).
			Msg("Production queue not fully cleared")
	}

	row := &f.ledger[f.timeIndex]
	row.Time = f.timePeriod
	row.EndingWIP = f.wipInventory
	row.EndingFG = f.fgInventory
	row.ForecastDemand = f.forecast[f.timeIndex]
	// When no orders arrived this period the available-WIP column was never
	// written; carry the beginning value.
	if row.SupplyReceived == 0 && row.AvailableWIP == 0 {
		row.AvailableWIP = row.BeginningWIP
	}

	f.archiveClosedOrders()

	f.timePeriod++
	f.timeIndex++
	if f.timeIndex < f.totalTime {
		f.ledger[f.timeIndex].BeginningWIP = f.wipInventory
		f.ledger[f.timeIndex].BeginningFG = f.fgInventory
	}
	return nil
}

// archiveClosedOrders moves fully-closed orders out of the firm's live lists.
func (f *Firm) archiveClosedOrders() {
	liveCustomers := f.customerPoIDs[:0]
	for _, id := range f.customerPoIDs {
		if po, ok := f.book.Get(id); ok && po.Closed {
			f.closedCustomerPoIDs = append(f.closedCustomerPoIDs, id)
		} else {
			liveCustomers = append(liveCustomers, id)
		}
	}
	f.customerPoIDs = liveCustomers

	liveSuppliers := f.poIDs[:0]
	for _, id := range f.poIDs {
		if po, ok := f.book.Get(id); ok && po.Closed {
			f.closedSupplierPoIDs = append(f.closedSupplierPoIDs, id)
		} else {
			liveSuppliers = append(liveSuppliers, id)
		}
	}
	f.poIDs = liveSuppliers
}

// resolve looks an order ID up in the shared book. A missing ID means a
// registry and a firm list diverged, which the single-arena design is meant
// to make impossible.
func (f *Firm) resolve(id int) (*orders.PurchaseOrder, error) {
	po, ok := f.book.Get(id)
	if !ok {
		return nil, fmt.Errorf("firm %d: purchase order %d not in book: %w",
			f.id, id, domain.ErrStateInvariant)
	}
	return po, nil
}
