package coupon

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Reason identifies why a coupon was accepted or rejected. The mapping from
// reason to shopper message is stable; clients may switch on either.
type Reason string

const (
	ReasonOK                  Reason = "ok"
	ReasonNotFound            Reason = "not_found"
	ReasonOutOfWindow         Reason = "out_of_window"
	ReasonMinOrderValue       Reason = "min_order_value"
	ReasonUsageLimitReached   Reason = "usage_limit_reached"
	ReasonPerUserLimitReached Reason = "per_user_limit_reached"
	ReasonNotEligible         Reason = "not_eligible"
	ReasonExcluded            Reason = "excluded"
	ReasonScopeMismatch       Reason = "scope_mismatch"
	ReasonConditionsNotMet    Reason = "conditions_not_met"

	// Ranker-only reasons.
	ReasonNotSaved         Reason = "not_saved"
	ReasonCategoryMismatch Reason = "category_mismatch"
)

var messages = map[Reason]string{
	ReasonOK:                  "Áp dụng mã giảm giá thành công",
	ReasonNotFound:            "Mã giảm giá không tồn tại hoặc đã hết hạn",
	ReasonOutOfWindow:         "Mã giảm giá đã hết hạn hoặc chưa đến thời gian sử dụng",
	ReasonUsageLimitReached:   "Mã giảm giá đã hết lượt sử dụng",
	ReasonPerUserLimitReached: "Bạn đã sử dụng hết số lần cho phép với mã này",
	ReasonNotEligible:         "Bạn không thuộc đối tượng được sử dụng mã này",
	ReasonExcluded:            "Tài khoản của bạn không được áp dụng mã này",
	ReasonScopeMismatch:       "Mã giảm giá không áp dụng cho sản phẩm trong giỏ hàng",
	ReasonConditionsNotMet:    "Bạn chưa đáp ứng điều kiện sử dụng mã giảm giá này",
	ReasonNotSaved:            "Bạn chưa lưu mã giảm giá này",
	ReasonCategoryMismatch:    "Mã giảm giá không áp dụng cho danh mục sản phẩm trong giỏ hàng",
}

const availableMessage = "Có thể sử dụng"

// Message returns the shopper-facing text for reason. minOrder is only used
// by ReasonMinOrderValue.
func Message(reason Reason, minOrder decimal.Decimal) string {
	if reason == ReasonMinOrderValue {
		return "Đơn hàng tối thiểu " + FormatVND(minOrder) + " để sử dụng mã này"
	}
	return messages[reason]
}

// FormatVND renders an amount as whole đồng with dot thousand separators,
// e.g. 100000 -> "100.000đ".
func FormatVND(d decimal.Decimal) string {
	s := d.Round(0).StringFixed(0)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s[i : i+3])
	}

	out := b.String() + "đ"
	if neg {
		return "-" + out
	}
	return out
}
