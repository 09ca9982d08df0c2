package coupon

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Available is a coupon annotated with whether the shopper can use it now.
type Available struct {
	Coupon   Coupon
	Eligible bool
	Reason   Reason
	Message  string
	IsSaved  bool
}

// Ranker lists the coupons a shopper could apply to a cart. It runs a reduced
// check set (saved, minimum order value, per-user cap, category scope) and
// never evaluates dynamic conditions or writes redemption state.
type Ranker struct {
	coupons Repository
	usage   RedemptionRepository
	now     func() time.Time
}

// NewRanker creates a Ranker.
func NewRanker(coupons Repository, usage RedemptionRepository) *Ranker {
	return &Ranker{coupons: coupons, usage: usage, now: time.Now}
}

// ListAvailable returns every active, in-window coupon annotated for userID,
// eligible ones first and each partition ordered by descending value.
func (r *Ranker) ListAvailable(ctx context.Context, userID string, orderValue decimal.Decimal, items []Item) ([]Available, error) {
	now := r.now()

	coupons, err := r.coupons.ListActive(ctx, now)
	if err != nil {
		return nil, internalErr("list active coupons", err)
	}

	records, err := r.usage.ListByUser(ctx, userID)
	if err != nil {
		return nil, internalErr("list user coupons", err)
	}

	saved := make(map[string]bool, len(records))
	used := make(map[string]int, len(records))
	for i := range records {
		switch records[i].EffectiveStatus(now) {
		case StatusSaved:
			saved[records[i].CouponID] = true
		case StatusUsed:
			used[records[i].CouponID]++
		}
	}

	out := make([]Available, 0, len(coupons))
	for _, c := range coupons {
		if !c.IsActive || !c.InWindow(now) {
			continue
		}
		reason := rank(&c, saved[c.ID], used[c.ID], orderValue, items)
		a := Available{
			Coupon:   c,
			Eligible: reason == ReasonOK,
			Reason:   reason,
			IsSaved:  saved[c.ID],
		}
		if a.Eligible {
			a.Message = availableMessage
		} else {
			a.Message = Message(reason, c.Discount.MinOrderValue.Decimal)
		}
		out = append(out, a)
	}

	slices.SortStableFunc(out, compareAvailable)
	return out, nil
}

func rank(c *Coupon, isSaved bool, used int, orderValue decimal.Decimal, items []Item) Reason {
	switch {
	case !isSaved:
		return ReasonNotSaved
	case c.Discount.MinOrderValue.Valid && orderValue.LessThan(c.Discount.MinOrderValue.Decimal):
		return ReasonMinOrderValue
	case c.Limits.PerUserLimit > 0 && used >= c.Limits.PerUserLimit:
		return ReasonPerUserLimitReached
	case len(c.Scope.Categories) > 0 && !anyCategoryIn(items, c.Scope.Categories):
		return ReasonCategoryMismatch
	default:
		return ReasonOK
	}
}

// compareAvailable puts eligible coupons first, then orders same-type
// discounts by descending value. Coupons of different types compare equal and
// keep their upstream order.
func compareAvailable(a, b Available) int {
	if a.Eligible != b.Eligible {
		if a.Eligible {
			return -1
		}
		return 1
	}
	if a.Coupon.Discount.Type != b.Coupon.Discount.Type {
		return 0
	}
	return b.Coupon.Discount.Value.Cmp(a.Coupon.Discount.Value)
}
