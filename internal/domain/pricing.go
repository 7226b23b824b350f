package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart is returned when aggregation is attempted on zero lines.
	// Callers must not initiate payment on an empty intent.
	ErrEmptyCart = errors.New("cart: no lines to aggregate")
	// ErrInvalidLine is returned when a line carries a non-positive quantity
	// or a negative unit price.
	ErrInvalidLine = errors.New("cart: invalid line")
)

// DiscountRule computes the discount (in the smallest currency unit) applied
// to an aggregated cart. Implementations must return a value in [0, subtotal].
type DiscountRule func(lines []CartLine, subtotal int64) int64

// NoDiscount applies no discount.
func NoDiscount([]CartLine, int64) int64 { return 0 }

// PercentageDiscount builds a rule deducting the given basis points of the
// subtotal, truncated to the smallest currency unit.
func PercentageDiscount(basisPoints int64) DiscountRule {
	return func(_ []CartLine, subtotal int64) int64 {
		if basisPoints <= 0 || subtotal <= 0 {
			return 0
		}
		discount := subtotal * basisPoints / 10_000
		if discount > subtotal {
			return subtotal
		}
		return discount
	}
}

// BulkDiscount deducts basisPoints of the subtotal once it reaches the
// threshold. Smaller carts pay full price.
func BulkDiscount(threshold int64, basisPoints int64) DiscountRule {
	pct := PercentageDiscount(basisPoints)
	return func(lines []CartLine, subtotal int64) int64 {
		if subtotal < threshold {
			return 0
		}
		return pct(lines, subtotal)
	}
}

// DefaultBulkDiscount is the storefront's standing volume discount: 5% off
// carts totalling at least 100000 in the smallest currency unit.
var DefaultBulkDiscount = BulkDiscount(100_000, 500)

// AggregateCart groups raw line selections by product, sums quantities, and
// computes the priced order intent. Lines for the same product must agree on
// unit price; the first seen price wins and quantities accumulate. The
// function is pure and performs no I/O.
func AggregateCart(lines []CartLine, currency string, rule DiscountRule) (OrderIntent, error) {
	if len(lines) == 0 {
		return OrderIntent{}, ErrEmptyCart
	}

	grouped := make([]CartLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.ProductID == "" || line.Quantity <= 0 || line.UnitPrice < 0 {
			return OrderIntent{}, fmt.Errorf("%w: product=%q quantity=%d unitPrice=%d", ErrInvalidLine, line.ProductID, line.Quantity, line.UnitPrice)
		}
		if at, ok := index[line.ProductID]; ok {
			grouped[at].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(grouped)
		grouped = append(grouped, line)
	}

	var subtotal int64
	for _, line := range grouped {
		subtotal += line.UnitPrice * int64(line.Quantity)
	}

	if rule == nil {
		rule = NoDiscount
	}
	discount := rule(grouped, subtotal)
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}

	return OrderIntent{
		Lines:    grouped,
		Currency: currency,
		Subtotal: subtotal,
		Discount: discount,
		Total:    subtotal - discount,
	}, nil
}
