// Package simulation drives the five-firm kite chain through its time-stepped
// run: one retailer, one dual-sourcing wholesaler, two manufacturers and a
// raw-materials producer, connected through a shared purchase-order book.
package simulation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kitechain/kitesim/internal/domain"
	"github.com/kitechain/kitesim/internal/modules/firms"
	"github.com/kitechain/kitesim/internal/modules/logistics"
	"github.com/kitechain/kitesim/internal/modules/orders"
)

// Firm identifiers, fixed by the chain topology.
const (
	RetailerID      = 0
	WholesalerID    = 1
	Manufacturer1ID = 2
	Manufacturer2ID = 3
	RawMaterialsID  = 4

	NumFirms = 5
)

// Params configure one simulation instance.
type Params struct {
	RunTime     int
	HistoryTime int
	ShipDelay   int
	Alpha       float64
	Smoothing   int
	Seed        uint64

	DemandMu      int
	DemandStd     float64
	ShockPeriods  []int
	ShockPercents []float64
}

// Simulation owns the firms, the order book and the exogenous demand process
// for repeated iterations of one experiment configuration.
type Simulation struct {
	log zerolog.Logger
	p   Params

	book     *orders.Book
	agents   []firms.Agent
	retailer *firms.Retailer
	calc     *logistics.Calculator
	rng      *rand.Rand

	demand     []int // per-period consumer demand, warm-up included
	timePeriod int
}

// New builds the chain: firm 0 sells to the end consumer and buys from firm 1,
// which splits its orders between firms 2 and 3, which both buy from firm 4.
func New(p Params, wp firms.WholesalerParams, lp logistics.Params, log zerolog.Logger) (*Simulation, error) {
	if p.ShipDelay > p.HistoryTime {
		return nil, fmt.Errorf("ship delay %d exceeds warm-up length %d: %w",
			p.ShipDelay, p.HistoryTime, domain.ErrConfiguration)
	}
	if len(p.ShockPeriods) != len(p.ShockPercents) {
		return nil, fmt.Errorf("shock periods and percents must pair up: %w", domain.ErrConfiguration)
	}

	simLog := log.With().Str("component", "simulation").Logger()
	book := orders.NewBook(log)

	firmParams := func(id int, suppliers, customers []int) firms.Params {
		return firms.Params{
			ID:          id,
			Alpha:       p.Alpha,
			RunTime:     p.RunTime,
			HistoryTime: p.HistoryTime,
			ShipDelay:   p.ShipDelay,
			Suppliers:   suppliers,
			Customers:   customers,
		}
	}

	retailer := firms.NewRetailer(
		firmParams(RetailerID, []int{WholesalerID}, []int{domain.External}), book, log)
	wholesaler, err := firms.NewWholesaler(
		firmParams(WholesalerID, []int{Manufacturer1ID, Manufacturer2ID}, []int{RetailerID}),
		wp, book, log)
	if err != nil {
		return nil, err
	}
	manufacturer1 := firms.NewManufacturer(
		firmParams(Manufacturer1ID, []int{RawMaterialsID}, []int{WholesalerID}),
		wp.Weights[0], book, log)
	manufacturer2 := firms.NewManufacturer(
		firmParams(Manufacturer2ID, []int{RawMaterialsID}, []int{WholesalerID}),
		wp.Weights[1], book, log)
	rawMaterials := firms.NewRawMaterials(
		firmParams(RawMaterialsID, []int{domain.External}, []int{Manufacturer1ID, Manufacturer2ID}),
		book, log)

	return &Simulation{
		log:      simLog,
		p:        p,
		book:     book,
		agents:   []firms.Agent{retailer, wholesaler, manufacturer1, manufacturer2, rawMaterials},
		retailer: retailer,
		calc:     logistics.NewCalculator(lp),
		rng:      rand.New(rand.NewSource(p.Seed)),
	}, nil
}

// Agents returns the firms in chain order.
func (s *Simulation) Agents() []firms.Agent { return s.agents }

// Book returns the shared purchase-order book.
func (s *Simulation) Book() *orders.Book { return s.book }

// Demand returns the consumer demand series for the current iteration,
// warm-up included.
func (s *Simulation) Demand() []int { return append([]int(nil), s.demand...) }

// TimePeriod returns the current simulated period.
func (s *Simulation) TimePeriod() int { return s.timePeriod }

// Initialize prepares a fresh iteration: an empty order book, newly drawn
// consumer demand, re-seeded firm state and the synthetic in-transit orders
// every firm starts with.
func (s *Simulation) Initialize() error {
	s.book.Reset()
	s.timePeriod = 0
	s.drawDemand()

	for _, agent := range s.agents {
		agent.Initialize(agent.HistoricalDemand(s.p.DemandMu))
	}
	if err := s.createHistoricalOrders(); err != nil {
		return err
	}

	s.log.Info().
		Int("run_time", s.p.RunTime).
		Int("history_time", s.p.HistoryTime).
		Int("demand_mu", s.p.DemandMu).
		Msg("Simulation initialized")
	return nil
}

// drawDemand fills the consumer demand series: the mean through the warm-up,
// normal draws after it, then any configured shocks overriding their periods.
func (s *Simulation) drawDemand() {
	totalTime := s.p.RunTime + s.p.HistoryTime
	s.demand = make([]int, totalTime)
	dist := distuv.Normal{Mu: float64(s.p.DemandMu), Sigma: s.p.DemandStd, Src: s.rng}

	for t := 0; t < s.p.HistoryTime; t++ {
		s.demand[t] = s.p.DemandMu
	}
	for t := s.p.HistoryTime; t < totalTime; t++ {
		draw := int(dist.Rand())
		if draw < 0 {
			draw = 0
		}
		s.demand[t] = draw
	}
	for i, period := range s.p.ShockPeriods {
		pct := s.p.ShockPercents[i]
		s.demand[period+s.p.HistoryTime] = s.p.DemandMu + int(float64(s.p.DemandMu)*pct)
	}
}

// createHistoricalOrders seeds the warm-up purchase orders: for each firm, one
// already-fulfilled order per supplier per ship slot, dated into the past so
// the pipeline is full at time zero. Each firm then adopts the orders it
// appears on.
func (s *Simulation) createHistoricalOrders() error {
	for _, agent := range s.agents {
		plan := agent.HistoricalOrderPlan(s.p.DemandMu)
		for tp := 0; tp < agent.ShipDelay(); tp++ {
			shipDate := -(tp + 1)
			for _, entry := range plan {
				po := s.book.Create(agent.ID(), entry.Supplier, entry.Amount, shipDate)
				po.FulfilledAmount = entry.Amount
				po.FulfilledTime = shipDate
				po.ArrivalTime = shipDate + agent.ShipDelay()
				po.SupplierClosed = true
			}
		}
	}

	active := s.book.Active()
	for _, agent := range s.agents {
		var customerPos, supplierPos []int
		for _, po := range active {
			if po.Supplier == agent.ID() {
				customerPos = append(customerPos, po.ID)
			}
			if po.Customer == agent.ID() {
				supplierPos = append(supplierPos, po.ID)
			}
		}
		agent.AdoptHistory(customerPos, supplierPos)
	}
	return nil
}

// Run steps the simulation to the end of its run time.
func (s *Simulation) Run(ctx context.Context) error {
	for s.timePeriod < s.p.RunTime {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.Step(); err != nil {
			return fmt.Errorf("period %d: %w", s.timePeriod, err)
		}
	}
	return nil
}

// Step advances the chain one period: consumer demand materializes at the
// retailer with its delivery costs attributed, every firm runs the daily
// protocol in chain order, the period's demand orders close and the book is
// swept.
func (s *Simulation) Step() error {
	t := s.timePeriod

	demandAmount := s.demand[t+s.p.HistoryTime]
	demandPo := s.book.Create(domain.External, RetailerID, demandAmount, t)
	demandPo.ArrivalTime = t
	costs := s.calc.ForDemand(demandAmount)
	s.retailer.ActualizeCost(costs.Money, costs.CO2, costs.Water)

	for _, agent := range s.agents {
		if err := s.runDay(agent, t); err != nil {
			return fmt.Errorf("firm %d: %w", agent.ID(), err)
		}
	}

	// Consumer orders have no downstream receiver; close them here.
	for _, po := range s.book.Active() {
		if po.Customer == domain.External && po.OrderTime == t {
			po.CustomerClosed = true
		}
	}
	s.book.Sweep()

	s.timePeriod++
	return nil
}

// runDay executes the seven phases for one firm.
func (s *Simulation) runDay(agent firms.Agent, t int) error {
	if err := agent.BeginningOfDay(); err != nil {
		return err
	}

	for _, po := range s.book.Active() {
		if po.Customer == agent.ID() && po.ArrivalTime == t {
			if err := agent.ReceiveWipOrder(po.ID); err != nil {
				return err
			}
		}
	}

	var incoming []*orders.PurchaseOrder
	for _, po := range s.book.Active() {
		if po.Supplier == agent.ID() && po.OrderTime == t {
			incoming = append(incoming, po)
		}
	}
	if err := agent.ReceiveCustomerDemand(incoming); err != nil {
		return err
	}

	if err := agent.Production(s.rng); err != nil {
		return err
	}
	if _, err := agent.SendCustomerShipments(t); err != nil {
		return err
	}

	if err := agent.UpdateDemandForecast(s.p.Smoothing); err != nil {
		return err
	}
	if _, err := agent.OrderSupplies(t); err != nil {
		return err
	}
	return agent.EndOfDay()
}

// ResetFirms clears every firm's transient state between iterations. The next
// Initialize call reseeds them; the demand RNG deliberately keeps advancing so
// iterations see different draws.
func (s *Simulation) ResetFirms() {
	for _, agent := range s.agents {
		agent.Reset()
	}
	s.log.Debug().Msg("Firms reset for next iteration")
}
