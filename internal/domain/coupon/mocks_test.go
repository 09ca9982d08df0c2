package coupon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func nd(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(d(v))
}

type mockCouponRepo struct {
	coupons map[string]*Coupon
	active  []Coupon
	err     error
}

func newCouponRepo(coupons ...*Coupon) *mockCouponRepo {
	m := &mockCouponRepo{coupons: make(map[string]*Coupon, len(coupons))}
	for _, c := range coupons {
		m.coupons[NormalizeCode(c.Code)] = c
		m.active = append(m.active, *c)
	}
	return m
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.coupons[NormalizeCode(code)]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockCouponRepo) ListActive(_ context.Context, _ time.Time) ([]Coupon, error) {
	return m.active, m.err
}

type mockUsageRepo struct {
	used       map[string]int
	usedByUser map[string]int
	records    []UserCoupon
	byOrder    map[string]*UserCoupon
	countErr   error
	redeemErr  error
	saveErr    error
	expired    int

	saved    []*UserCoupon
	redeemed []RedeemParams
}

func (m *mockUsageRepo) CountUsed(_ context.Context, couponID string) (int, error) {
	return m.used[couponID], m.countErr
}

func (m *mockUsageRepo) CountUsedByUser(_ context.Context, couponID, userID string) (int, error) {
	return m.usedByUser[couponID+"/"+userID], m.countErr
}

func (m *mockUsageRepo) ListByUser(_ context.Context, _ string) ([]UserCoupon, error) {
	return m.records, nil
}

func (m *mockUsageRepo) FindByOrder(_ context.Context, couponID, orderID string) (*UserCoupon, error) {
	if rec, ok := m.byOrder[couponID+"/"+orderID]; ok {
		return rec, nil
	}
	return nil, ErrNotFound
}

func (m *mockUsageRepo) Save(_ context.Context, uc *UserCoupon, _ int) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, uc)
	return nil
}

func (m *mockUsageRepo) ExpireSaved(_ context.Context, _ string, _ time.Time) (int, error) {
	return m.expired, nil
}

func (m *mockUsageRepo) Redeem(_ context.Context, p RedeemParams) (*UserCoupon, bool, error) {
	if m.redeemErr != nil {
		return nil, false, m.redeemErr
	}
	m.redeemed = append(m.redeemed, p)
	usedAt := p.Now
	return &UserCoupon{
		ID:             "uc-" + p.OrderID,
		UserID:         p.UserID,
		CouponID:       p.CouponID,
		Status:         StatusUsed,
		UsedAt:         &usedAt,
		OrderID:        p.OrderID,
		DiscountAmount: p.Discount,
	}, true, nil
}

type mockStatsSource struct {
	orders    int
	spent     decimal.Decimal
	user      *User
	follows   map[string]time.Time
	ordersErr error

	orderCalls  int
	followCalls int
}

func (m *mockStatsSource) DeliveredOrders(_ context.Context, _ string) (int, decimal.Decimal, error) {
	m.orderCalls++
	return m.orders, m.spent, m.ordersErr
}

func (m *mockStatsSource) FindUser(_ context.Context, _ string) (*User, error) {
	if m.user == nil {
		return nil, ErrNotFound
	}
	return m.user, nil
}

func (m *mockStatsSource) FollowedAt(_ context.Context, _ string, sellerID string) (*time.Time, error) {
	m.followCalls++
	if t, ok := m.follows[sellerID]; ok {
		return &t, nil
	}
	return nil, nil
}
