package orders

import (
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

// Pricing computes the amounts fixed on an order at checkout.
type Pricing struct {
	ShippingFee    int64
	TaxBasisPoints int64
}

var basisPointsPerUnit = decimal.NewFromInt(10000)

// Apply fills Subtotal, Shipping, Tax and TotalAmount from the order items.
// Tax is rounded half up to the smallest currency unit.
func (p Pricing) Apply(order *domain.Order) {
	var subtotal int64
	for _, item := range order.Items {
		subtotal += item.Subtotal()
	}

	var shipping int64
	if len(order.Items) > 0 {
		shipping = p.ShippingFee
	}

	tax := decimal.NewFromInt(subtotal).
		Mul(decimal.NewFromInt(p.TaxBasisPoints)).
		Div(basisPointsPerUnit).
		Round(0).
		IntPart()

	order.Subtotal = subtotal
	order.Shipping = shipping
	order.Tax = tax
	order.TotalAmount = subtotal + shipping + tax
}
