package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedeemer(repo *mockCouponRepo, usage *mockUsageRepo) *Redeemer {
	v := newTestValidator(repo, usage, nil, UnknownRulePass)
	r := NewRedeemer(repo, usage, v)
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestRedeemer_Redeem(t *testing.T) {
	req := RedeemRequest{
		ValidateRequest: ValidateRequest{UserID: "u1", Code: "save10", OrderValue: d("500000")},
		OrderID:         "o-1",
	}

	t.Run("success records discount", func(t *testing.T) {
		usage := &mockUsageRepo{}
		r := newTestRedeemer(newCouponRepo(save10()), usage)

		got, err := r.Redeem(context.Background(), req)
		require.NoError(t, err)
		require.True(t, got.Result.Valid)
		require.NotNil(t, got.Record)
		assert.False(t, got.Replayed)
		assert.Equal(t, StatusUsed, got.Record.Status)

		require.Len(t, usage.redeemed, 1)
		p := usage.redeemed[0]
		assert.Equal(t, "c-save10", p.CouponID)
		assert.Equal(t, "o-1", p.OrderID)
		assert.True(t, d("20000").Equal(p.Discount))
		assert.Equal(t, fixedNow, p.Now)
	})

	t.Run("recorded discount matches the response", func(t *testing.T) {
		c := save10()
		c.Discount = Discount{Type: DiscountPercent, Value: d("12.5")}
		usage := &mockUsageRepo{}
		r := newTestRedeemer(newCouponRepo(c), usage)

		odd := req
		odd.OrderValue = d("9876.53")
		got, err := r.Redeem(context.Background(), odd)
		require.NoError(t, err)
		require.True(t, got.Result.Valid)
		assert.Equal(t, "1234.57", got.Result.Discount.String())
		require.Len(t, usage.redeemed, 1)
		assert.Equal(t, "1234.57", usage.redeemed[0].Discount.String())
		assert.True(t, got.Result.Discount.Equal(got.Record.DiscountAmount))
	})

	t.Run("order id required", func(t *testing.T) {
		r := newTestRedeemer(newCouponRepo(save10()), &mockUsageRepo{})

		_, err := r.Redeem(context.Background(), RedeemRequest{ValidateRequest: req.ValidateRequest})
		assert.ErrorIs(t, err, ErrOrderIDRequired)
	})

	t.Run("invalid coupon writes nothing", func(t *testing.T) {
		usage := &mockUsageRepo{}
		r := newTestRedeemer(newCouponRepo(save10()), usage)

		low := req
		low.OrderValue = d("1000")
		got, err := r.Redeem(context.Background(), low)
		require.NoError(t, err)
		assert.False(t, got.Result.Valid)
		assert.Equal(t, ReasonMinOrderValue, got.Result.Reason)
		assert.Nil(t, got.Record)
		assert.Empty(t, usage.redeemed)
	})

	t.Run("replay returns earlier redemption", func(t *testing.T) {
		usedAt := fixedNow.Add(-time.Minute)
		prev := &UserCoupon{
			ID:             "uc-1",
			UserID:         "u1",
			CouponID:       "c-save10",
			Status:         StatusUsed,
			UsedAt:         &usedAt,
			OrderID:        "o-1",
			DiscountAmount: d("20000"),
		}
		c := save10()
		c.Limits.UsageLimit = 1
		usage := &mockUsageRepo{
			used:    map[string]int{"c-save10": 1},
			byOrder: map[string]*UserCoupon{"c-save10/o-1": prev},
		}
		r := newTestRedeemer(newCouponRepo(c), usage)

		got, err := r.Redeem(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, got.Replayed)
		assert.True(t, got.Result.Valid)
		assert.Equal(t, prev, got.Record)
		assert.True(t, d("480000").Equal(got.Result.FinalPrice))
		assert.Empty(t, usage.redeemed)
	})

	t.Run("order redeemed by another user", func(t *testing.T) {
		usedAt := fixedNow.Add(-time.Minute)
		prev := &UserCoupon{
			ID:             "uc-1",
			UserID:         "u1",
			CouponID:       "c-save10",
			Status:         StatusUsed,
			UsedAt:         &usedAt,
			OrderID:        "o-1",
			DiscountAmount: d("20000"),
		}
		c := save10()
		c.ExcludedUsers = []string{"u2"}
		usage := &mockUsageRepo{byOrder: map[string]*UserCoupon{"c-save10/o-1": prev}}
		r := newTestRedeemer(newCouponRepo(c), usage)

		other := req
		other.UserID = "u2"
		got, err := r.Redeem(context.Background(), other)
		require.ErrorIs(t, err, ErrOrderConflict)
		assert.NotErrorIs(t, err, ErrInternal)
		assert.Nil(t, got)
		assert.Empty(t, usage.redeemed)
	})

	t.Run("order taken by another user during write", func(t *testing.T) {
		r := newTestRedeemer(newCouponRepo(save10()), &mockUsageRepo{redeemErr: ErrOrderConflict})

		_, err := r.Redeem(context.Background(), req)
		require.ErrorIs(t, err, ErrOrderConflict)
		assert.NotErrorIs(t, err, ErrInternal)
	})

	t.Run("lost race maps to rejection", func(t *testing.T) {
		for _, tt := range []struct {
			err    error
			reason Reason
		}{
			{ErrUsageLimitReached, ReasonUsageLimitReached},
			{ErrPerUserLimitReached, ReasonPerUserLimitReached},
		} {
			r := newTestRedeemer(newCouponRepo(save10()), &mockUsageRepo{redeemErr: tt.err})

			got, err := r.Redeem(context.Background(), req)
			require.NoError(t, err)
			assert.False(t, got.Result.Valid)
			assert.Equal(t, tt.reason, got.Result.Reason)
		}
	})

	t.Run("store failure is internal", func(t *testing.T) {
		r := newTestRedeemer(newCouponRepo(save10()), &mockUsageRepo{redeemErr: errors.New("deadlock")})

		_, err := r.Redeem(context.Background(), req)
		assert.ErrorIs(t, err, ErrInternal)
	})
}

func TestWallet_Save(t *testing.T) {
	t.Run("saved until coupon ends", func(t *testing.T) {
		usage := &mockUsageRepo{}
		w := NewWallet(newCouponRepo(save10()), usage)
		w.now = func() time.Time { return fixedNow }

		uc, err := w.Save(context.Background(), "u1", "Save10")
		require.NoError(t, err)
		assert.Equal(t, StatusSaved, uc.Status)
		assert.Equal(t, fixedNow, uc.SavedAt)
		assert.Equal(t, save10().EndAt, uc.ExpiresAt)
		assert.NotEmpty(t, uc.ID)
		require.Len(t, usage.saved, 1)
	})

	t.Run("unknown or expired coupon", func(t *testing.T) {
		c := save10()
		c.EndAt = fixedNow.Add(-time.Hour)
		w := NewWallet(newCouponRepo(c), &mockUsageRepo{})
		w.now = func() time.Time { return fixedNow }

		_, err := w.Save(context.Background(), "u1", "SAVE10")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = w.Save(context.Background(), "u1", "OTHER")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("already saved", func(t *testing.T) {
		w := NewWallet(newCouponRepo(save10()), &mockUsageRepo{saveErr: ErrAlreadySaved})
		w.now = func() time.Time { return fixedNow }

		_, err := w.Save(context.Background(), "u1", "SAVE10")
		assert.ErrorIs(t, err, ErrAlreadySaved)
		assert.NotErrorIs(t, err, ErrInternal)
	})
}

func TestWallet_List(t *testing.T) {
	records := []UserCoupon{{ID: "uc-1", CouponID: "c-save10", Status: StatusExpired}}
	w := NewWallet(newCouponRepo(), &mockUsageRepo{records: records, expired: 1})
	w.now = func() time.Time { return fixedNow }

	got, err := w.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, records, got)
}
