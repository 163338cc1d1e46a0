package orders

import (
	"github.com/rs/zerolog"
)

// Book is the single source of truth for purchase orders in a run. Orders are
// stored once, keyed by a monotonic ID; firms and the orchestrator keep ID
// lists and resolve them here, so there is exactly one mutable record per
// order and no divergent copies.
type Book struct {
	log zerolog.Logger

	nextID  int
	records map[int]*PurchaseOrder
	active  []int
	closed  []int
}

// NewBook creates an empty order book.
func NewBook(log zerolog.Logger) *Book {
	return &Book{
		log:     log.With().Str("component", "orders").Logger(),
		records: make(map[int]*PurchaseOrder),
	}
}

// Create registers a new open purchase order and returns it. Fulfillment
// fields start at the Unset sentinel.
func (b *Book) Create(customer, supplier, amount, orderTime int) *PurchaseOrder {
	po := &PurchaseOrder{
		ID:              b.nextID,
		Customer:        customer,
		Supplier:        supplier,
		OrderAmount:     amount,
		OrderTime:       orderTime,
		FulfilledAmount: Unset,
		FulfilledTime:   Unset,
		ArrivalTime:     Unset,
	}
	b.nextID++
	b.records[po.ID] = po
	b.active = append(b.active, po.ID)
	b.log.Debug().
		Int("po_id", po.ID).
		Int("customer", customer).
		Int("supplier", supplier).
		Int("amount", amount).
		Int("order_time", orderTime).
		Msg("Created purchase order")
	return po
}

// Get returns the order with the given ID.
func (b *Book) Get(id int) (*PurchaseOrder, bool) {
	po, ok := b.records[id]
	return po, ok
}

// Active returns the open orders in creation order.
func (b *Book) Active() []*PurchaseOrder {
	out := make([]*PurchaseOrder, 0, len(b.active))
	for _, id := range b.active {
		out = append(out, b.records[id])
	}
	return out
}

// Closed returns the archived orders in closure order.
func (b *Book) Closed() []*PurchaseOrder {
	out := make([]*PurchaseOrder, 0, len(b.closed))
	for _, id := range b.closed {
		out = append(out, b.records[id])
	}
	return out
}

// ActiveCount returns the number of open orders.
func (b *Book) ActiveCount() int {
	return len(b.active)
}

// ClosedCount returns the number of archived orders.
func (b *Book) ClosedCount() int {
	return len(b.closed)
}

// Reset discards every order and restarts the ID sequence, returning the book
// to its freshly-created state for the next iteration.
func (b *Book) Reset() {
	b.nextID = 0
	b.records = make(map[int]*PurchaseOrder)
	b.active = nil
	b.closed = nil
	b.log.Debug().Msg("Order book reset")
}

// Sweep moves every order that is now closable from the active registry to
// the closed registry and returns how many were moved. Keeping the active
// list short keeps the per-period scans cheap.
func (b *Book) Sweep() int {
	remaining := b.active[:0]
	moved := 0
	for _, id := range b.active {
		if b.records[id].TryClose() {
			b.closed = append(b.closed, id)
			moved++
		} else {
			remaining = append(remaining, id)
		}
	}
	b.active = remaining
	if moved == 0 {
		b.log.Warn().Int("active", len(b.active)).Msg("No purchase orders archived in sweep")
	} else {
		b.log.Debug().Int("archived", moved).Int("active", len(b.active)).Msg("Swept closed purchase orders")
	}
	return moved
}
