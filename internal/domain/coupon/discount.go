package coupon

import "github.com/shopspring/decimal"

// MoneyScale is the number of fractional digits money is stored with.
const MoneyScale = 2

var hundred = decimal.NewFromInt(100)

// CalculateDiscount returns the amount d takes off orderValue, rounded half
// away from zero to MoneyScale digits.
//
// Percent discounts are clamped to MaxDiscount when it is set. Fixed discounts
// are not clamped to the order value; FinalPrice floors the result instead.
// Free-shipping coupons discount nothing here, the shipping waiver is computed
// by checkout.
func CalculateDiscount(d Discount, orderValue decimal.Decimal) decimal.Decimal {
	switch d.Type {
	case DiscountPercent:
		amount := orderValue.Mul(d.Value).Div(hundred)
		if d.MaxDiscount.Valid && amount.GreaterThan(d.MaxDiscount.Decimal) {
			amount = d.MaxDiscount.Decimal
		}
		return floorAtZero(amount.Round(MoneyScale))
	case DiscountFixed:
		return floorAtZero(d.Value.Round(MoneyScale))
	default:
		return decimal.Zero
	}
}

// FinalPrice returns orderValue minus discount, floored at zero.
func FinalPrice(orderValue, discount decimal.Decimal) decimal.Decimal {
	return floorAtZero(orderValue.Sub(discount))
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
