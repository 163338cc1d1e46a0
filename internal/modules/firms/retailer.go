package firms

import (
	"github.com/rs/zerolog"

	"github.com/kitechain/kitesim/internal/modules/orders"
)

// Retailer is the terminal downstream node. Its only customer is the external
// end consumer; it runs the base protocol unchanged.
type Retailer struct {
	Firm
}

// NewRetailer creates a retailer.
func NewRetailer(p Params, book *orders.Book, log zerolog.Logger) *Retailer {
	r := &Retailer{Firm: newFirm(p, book, log)}
	r.hooks = r
	return r
}
