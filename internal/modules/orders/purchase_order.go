// Package orders provides the purchase-order record and the shared order book.
package orders

import (
	"fmt"

	"github.com/kitechain/kitesim/internal/domain"
)

// Unset is the placeholder for fulfillment fields that have not been written
// yet. Orders carry it from creation until the supplier's production phase.
const Unset = -99

// PurchaseOrder records one order between a customer firm and a supplier firm.
// The identity is immutable; the state mutates as the order moves through its
// lifecycle. A single PurchaseOrder is referenced concurrently by the
// supplier's incoming list, the customer's outstanding list, and the book's
// active registry - all of them resolve the same record through the Book, so
// a mutation made by any holder is visible to all of them.
type PurchaseOrder struct {
	ID       int
	Customer int
	Supplier int

	OrderAmount int
	OrderTime   int

	FulfilledAmount int
	FulfilledTime   int
	ArrivalTime     int

	SupplierClosed bool
	CustomerClosed bool
	Closed         bool
}

// RecordFulfillment sets the supplier-side fulfillment fields. Fulfilling more
// than was ordered is a state invariant violation; zero is a valid fulfillment
// (a short-shipped or skipped order still closes).
func (po *PurchaseOrder) RecordFulfillment(amount, timePeriod int) error {
	if amount < 0 || amount > po.OrderAmount {
		return fmt.Errorf("po %d: fulfilled amount %d outside [0, %d]: %w",
			po.ID, amount, po.OrderAmount, domain.ErrStateInvariant)
	}
	po.FulfilledAmount = amount
	po.FulfilledTime = timePeriod
	return nil
}

// TryClose closes the order iff both sides have signed off. Returning false
// is not a failure; the order simply is not closable yet.
func (po *PurchaseOrder) TryClose() bool {
	if po.SupplierClosed && po.CustomerClosed {
		po.Closed = true
	}
	return po.Closed
}
