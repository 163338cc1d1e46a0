package firms

import (
	"github.com/rs/zerolog"

	"github.com/kitechain/kitesim/internal/modules/orders"
)

// Manufacturer sits between the wholesaler and the raw-materials producer.
// Its warm-up demand is its configured share of total consumer demand, since
// the wholesaler splits orders between the two manufacturers.
type Manufacturer struct {
	Firm
	share float64 // this manufacturer's slice of the wholesaler's allocation
}

// NewManufacturer creates a manufacturer receiving the given share of the
// wholesaler's orders during the warm-up.
func NewManufacturer(p Params, share float64, book *orders.Book, log zerolog.Logger) *Manufacturer {
	m := &Manufacturer{Firm: newFirm(p, book, log), share: share}
	m.hooks = m
	return m
}

func (m *Manufacturer) historicalDemand(demandMu int) int {
	amount := int(float64(demandMu) * m.share)
	if amount < 0 {
		amount = 0
	}
	return amount
}
