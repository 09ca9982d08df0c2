package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func save10() *Coupon {
	return &Coupon{
		ID:          "c-save10",
		Code:        "SAVE10",
		Description: "10% off, up to 20.000đ",
		Discount: Discount{
			Type:          DiscountPercent,
			Value:         d("10"),
			MaxDiscount:   nd("20000"),
			MinOrderValue: nd("100000"),
		},
		StartAt:  fixedNow.Add(-24 * time.Hour),
		EndAt:    fixedNow.Add(24 * time.Hour),
		IsActive: true,
	}
}

func newTestValidator(coupons Repository, usage *mockUsageRepo, src *mockStatsSource, policy UnknownRulePolicy) *Validator {
	if usage == nil {
		usage = &mockUsageRepo{}
	}
	if src == nil {
		src = &mockStatsSource{spent: decimal.Zero}
	}
	agg := NewAggregator(src)
	agg.now = func() time.Time { return fixedNow }
	v := NewValidator(coupons, usage, agg, NewRegistry(policy))
	v.now = func() time.Time { return fixedNow }
	return v
}

func TestValidator_Validate(t *testing.T) {
	cart := []Item{{ProductID: "p1", Category: "books", Price: d("500000"), Quantity: 1}}

	tests := []struct {
		name         string
		coupon       func() *Coupon
		usage        *mockUsageRepo
		stats        *mockStatsSource
		req          ValidateRequest
		wantValid    bool
		wantReason   Reason
		wantMessage  string
		wantDiscount decimal.Decimal
		wantFinal    decimal.Decimal
		wantRule     string
	}{
		{
			name:         "percent discount clamped to max",
			coupon:       save10,
			req:          ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000"), Items: cart},
			wantValid:    true,
			wantReason:   ReasonOK,
			wantMessage:  "Áp dụng mã giảm giá thành công",
			wantDiscount: d("20000"),
			wantFinal:    d("480000"),
		},
		{
			name:         "code is case insensitive",
			coupon:       save10,
			req:          ValidateRequest{UserID: "u1", Code: "  save10 ", OrderValue: d("150000")},
			wantValid:    true,
			wantReason:   ReasonOK,
			wantMessage:  "Áp dụng mã giảm giá thành công",
			wantDiscount: d("15000"),
			wantFinal:    d("135000"),
		},
		{
			name: "fixed discount larger than order floors final price",
			coupon: func() *Coupon {
				c := save10()
				c.Discount = Discount{Type: DiscountFixed, Value: d("50000")}
				return c
			},
			req:          ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("30000")},
			wantValid:    true,
			wantReason:   ReasonOK,
			wantMessage:  "Áp dụng mã giảm giá thành công",
			wantDiscount: d("50000"),
			wantFinal:    decimal.Zero,
		},
		{
			name:        "unknown code",
			coupon:      save10,
			req:         ValidateRequest{UserID: "u1", Code: "NOPE", OrderValue: d("500000")},
			wantReason:  ReasonNotFound,
			wantMessage: "Mã giảm giá không tồn tại hoặc đã hết hạn",
		},
		{
			name:        "empty user",
			coupon:      save10,
			req:         ValidateRequest{Code: "SAVE10", OrderValue: d("500000")},
			wantReason:  ReasonNotFound,
			wantMessage: "Mã giảm giá không tồn tại hoặc đã hết hạn",
		},
		{
			name: "inactive coupon reads as not found",
			coupon: func() *Coupon {
				c := save10()
				c.IsActive = false
				return c
			},
			req:         ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")},
			wantReason:  ReasonNotFound,
			wantMessage: "Mã giảm giá không tồn tại hoặc đã hết hạn",
		},
		{
			name: "expired coupon",
			coupon: func() *Coupon {
				c := save10()
				c.EndAt = fixedNow.Add(-time.Second)
				return c
			},
			req:         ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")},
			wantReason:  ReasonOutOfWindow,
			wantMessage: "Mã giảm giá đã hết hạn hoặc chưa đến thời gian sử dụng",
		},
		{
			name: "not started yet",
			coupon: func() *Coupon {
				c := save10()
				c.StartAt = fixedNow.Add(time.Hour)
				return c
			},
			req:         ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")},
			wantReason:  ReasonOutOfWindow,
			wantMessage: "Mã giảm giá đã hết hạn hoặc chưa đến thời gian sử dụng",
		},
		{
			name: "window wins over minimum order value",
			coupon: func() *Coupon {
				c := save10()
				c.EndAt = fixedNow.Add(-time.Hour)
				return c
			},
			req:         ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("1000")},
			wantReason:  ReasonOutOfWindow,
			wantMessage: "Mã giảm giá đã hết hạn hoặc chưa đến thời gian sử dụng",
		},
		{
			name:        "below minimum order value",
			coupon:      save10,
			req:         ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("99999")},
			wantReason:  ReasonMinOrderValue,
			wantMessage: "Đơn hàng tối thiểu 100.000đ để sử dụng mã này",
		},
		{
			name: "global usage exhausted",
			coupon: func() *Coupon {
				c := save10()
				c.Limits.UsageLimit = 10
				return c
			},
			usage:       &mockUsageRepo{used: map[string]int{"c-save10": 10}},
			req:         ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")},
			wantReason:  ReasonUsageLimitReached,
			wantMessage: "Mã giảm giá đã hết lượt sử dụng",
		},
		{
			name: "per-user limit reached",
			coupon: func() *Coupon {
				c := save10()
				c.Limits.PerUserLimit = 1
				return c
			},
			usage:       &mockUsageRepo{usedByUser: map[string]int{"c-save10/u1": 1}},
			req:         ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")},
			wantReason:  ReasonPerUserLimitReached,
			wantMessage: "Bạn đã sử dụng hết số lần cho phép với mã này",
		},
		{
			name: "per-user limit counts only this user",
			coupon: func() *Coupon {
				c := save10()
				c.Limits.PerUserLimit = 1
				return c
			},
			usage:        &mockUsageRepo{usedByUser: map[string]int{"c-save10/u2": 1}},
			req:          ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")},
			wantValid:    true,
			wantReason:   ReasonOK,
			wantMessage:  "Áp dụng mã giảm giá thành công",
			wantDiscount: d("20000"),
			wantFinal:    d("480000"),
		},
		{
			name: "user outside allow list",
			coupon: func() *Coupon {
				c := save10()
				c.EligibleUsers = []string{"u2"}
				return c
			},
			req:         ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")},
			wantReason:  ReasonNotEligible,
			wantMessage: "Bạn không thuộc đối tượng được sử dụng mã này",
		},
		{
			name: "deny list wins over allow list",
			coupon: func() *Coupon {
				c := save10()
				c.EligibleUsers = []string{"u1"}
				c.ExcludedUsers = []string{"u1"}
				return c
			},
			req:         ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")},
			wantReason:  ReasonExcluded,
			wantMessage: "Tài khoản của bạn không được áp dụng mã này",
		},
		{
			name: "no scoped product in cart",
			coupon: func() *Coupon {
				c := save10()
				c.Scope.Products = []string{"p9"}
				return c
			},
			req:         ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000"), Items: cart},
			wantReason:  ReasonScopeMismatch,
			wantMessage: "Mã giảm giá không áp dụng cho sản phẩm trong giỏ hàng",
		},
		{
			name: "failed condition names the rule",
			coupon: func() *Coupon {
				c := save10()
				c.Conditions = []Condition{
					{Rule: RuleMinCompletedOrders, Value: Value(`1`)},
					{Rule: RuleLevel, Value: Value(`"gold"`)},
				}
				return c
			},
			stats:       &mockStatsSource{orders: 3, spent: d("900000"), user: &User{ID: "u1", Level: "silver"}},
			req:         ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")},
			wantReason:  ReasonConditionsNotMet,
			wantMessage: "Bạn chưa đáp ứng điều kiện sử dụng mã giảm giá này",
			wantRule:    RuleLevel,
		},
		{
			name: "unknown rule passes by default",
			coupon: func() *Coupon {
				c := save10()
				c.Conditions = []Condition{{Rule: "moon_phase", Value: Value(`"full"`)}}
				return c
			},
			req:          ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")},
			wantValid:    true,
			wantReason:   ReasonOK,
			wantMessage:  "Áp dụng mã giảm giá thành công",
			wantDiscount: d("20000"),
			wantFinal:    d("480000"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(newCouponRepo(tt.coupon()), tt.usage, tt.stats, UnknownRulePass)

			res, err := v.Validate(context.Background(), tt.req)
			require.NoError(t, err)

			assert.Equal(t, tt.wantValid, res.Valid)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Equal(t, tt.wantMessage, res.Message)
			assert.Equal(t, tt.wantRule, res.FailedRule)
			if tt.wantValid {
				assert.True(t, tt.wantDiscount.Equal(res.Discount), "discount: want %s, got %s", tt.wantDiscount, res.Discount)
				assert.True(t, tt.wantFinal.Equal(res.FinalPrice), "final: want %s, got %s", tt.wantFinal, res.FinalPrice)
				require.NotNil(t, res.Coupon)
				assert.Equal(t, "SAVE10", res.Coupon.Code)
			} else {
				assert.Nil(t, res.Coupon)
			}
		})
	}
}

func TestValidator_UnknownRuleFailPolicy(t *testing.T) {
	c := save10()
	c.Conditions = []Condition{{Rule: "moon_phase", Value: Value(`"full"`)}}
	v := newTestValidator(newCouponRepo(c), nil, nil, UnknownRuleFail)

	res, err := v.Validate(context.Background(), ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonConditionsNotMet, res.Reason)
	assert.Equal(t, "moon_phase", res.FailedRule)
}

func TestValidator_Idempotent(t *testing.T) {
	usage := &mockUsageRepo{}
	v := newTestValidator(newCouponRepo(save10()), usage, nil, UnknownRulePass)
	req := ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")}

	first, err := v.Validate(context.Background(), req)
	require.NoError(t, err)
	second, err := v.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Empty(t, usage.redeemed)
	assert.Empty(t, usage.saved)
}

func TestValidator_SkipsStatsWithoutConditions(t *testing.T) {
	src := &mockStatsSource{spent: decimal.Zero}
	v := newTestValidator(newCouponRepo(save10()), nil, src, UnknownRulePass)

	_, err := v.Validate(context.Background(), ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")})
	require.NoError(t, err)
	assert.Zero(t, src.orderCalls)
}

func TestValidator_MemoSharesStats(t *testing.T) {
	c := save10()
	c.Scope.SellerID = "s1"
	c.Conditions = []Condition{{Rule: RuleFollowSeller, Value: Value(`true`)}}
	src := &mockStatsSource{
		spent:   decimal.Zero,
		follows: map[string]time.Time{"s1": fixedNow.Add(-48 * time.Hour)},
	}
	v := newTestValidator(newCouponRepo(c), nil, src, UnknownRulePass)
	memo := v.stats.Memo("u1")
	req := ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")}

	for range 3 {
		res, err := v.ValidateWith(context.Background(), req, memo)
		require.NoError(t, err)
		assert.True(t, res.Valid)
	}
	assert.Equal(t, 1, src.orderCalls)
	assert.Equal(t, 1, src.followCalls)
}

func TestValidator_InfrastructureErrors(t *testing.T) {
	boom := errors.New("connection reset")

	t.Run("coupon lookup", func(t *testing.T) {
		repo := newCouponRepo(save10())
		repo.err = boom
		v := newTestValidator(repo, nil, nil, UnknownRulePass)

		_, err := v.Validate(context.Background(), ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInternal)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("usage count", func(t *testing.T) {
		c := save10()
		c.Limits.UsageLimit = 5
		v := newTestValidator(newCouponRepo(c), &mockUsageRepo{countErr: boom}, nil, UnknownRulePass)

		_, err := v.Validate(context.Background(), ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")})
		assert.ErrorIs(t, err, ErrInternal)
	})

	t.Run("stats", func(t *testing.T) {
		c := save10()
		c.Conditions = []Condition{{Rule: RuleMinCompletedOrders, Value: Value(`1`)}}
		v := newTestValidator(newCouponRepo(c), nil, &mockStatsSource{ordersErr: boom}, UnknownRulePass)

		_, err := v.Validate(context.Background(), ValidateRequest{UserID: "u1", Code: "SAVE10", OrderValue: d("500000")})
		assert.ErrorIs(t, err, ErrInternal)
	})
}
