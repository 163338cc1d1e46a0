package firms

import (
	"github.com/rs/zerolog"

	"github.com/kitechain/kitesim/internal/domain"
	"github.com/kitechain/kitesim/internal/modules/orders"
)

// RawMaterials is the top of the chain. It has no true upstream supplier:
// extraction is modeled as an order against the external sentinel that
// fulfills itself immediately and closes supplier-side, then travels through
// the normal shipping pipeline.
type RawMaterials struct {
	Firm
}

// NewRawMaterials creates a raw-materials producer. Its supplier list is the
// external sentinel.
func NewRawMaterials(p Params, book *orders.Book, log zerolog.Logger) *RawMaterials {
	r := &RawMaterials{Firm: newFirm(p, book, log)}
	r.hooks = r
	return r
}

func (r *RawMaterials) createSupplyOrders(amount int) []*orders.PurchaseOrder {
	orderAmount := amount / len(r.suppliers)
	po := r.book.Create(r.id, domain.External, orderAmount, r.timePeriod)
	po.FulfilledAmount = orderAmount
	po.FulfilledTime = r.timePeriod
	po.ArrivalTime = r.timePeriod + r.shipDelay
	po.SupplierClosed = true
	r.poIDs = append(r.poIDs, po.ID)
	r.log.Debug().Int("t", r.timePeriod).Int("amount", orderAmount).
		Msg("Created self-fulfilling extraction order")
	return []*orders.PurchaseOrder{po}
}
