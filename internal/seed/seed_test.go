package seed

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/cookmart/internal/domain/coupon"
	"github.com/xenking/cookmart/internal/storage/memory"
)

func TestDemo_Memory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, Load(ctx, MemorySink(store), Demo(time.Now())))

	v := coupon.NewValidator(store, store, coupon.NewAggregator(store), coupon.NewRegistry(coupon.UnknownRulePass))

	tests := []struct {
		user       string
		code       string
		wantReason coupon.Reason
		wantRule   string
	}{
		{user: "user-an", code: "FANBEPNHA", wantReason: coupon.ReasonOK},
		{user: "user-binh", code: "FANBEPNHA", wantReason: coupon.ReasonConditionsNotMet, wantRule: coupon.RuleFollowDurationDays},
		{user: "user-chi", code: "FANBEPNHA", wantReason: coupon.ReasonConditionsNotMet, wantRule: coupon.RuleFollowSeller},
		{user: "user-an", code: "KHACHQUEN", wantReason: coupon.ReasonOK},
		{user: "user-binh", code: "KHACHQUEN", wantReason: coupon.ReasonConditionsNotMet, wantRule: coupon.RuleMinCompletedOrders},
		{user: "user-chi", code: "CHAOBAN", wantReason: coupon.ReasonOK},
		{user: "user-an", code: "CHAOBAN", wantReason: coupon.ReasonConditionsNotMet, wantRule: coupon.RuleNewUserOnly},
		{user: "user-an", code: "VANGSANG", wantReason: coupon.ReasonOK},
		{user: "user-binh", code: "VANGSANG", wantReason: coupon.ReasonConditionsNotMet, wantRule: coupon.RuleLevel},
		{user: "user-an", code: "SINHNHAT", wantReason: coupon.ReasonOK},
		{user: "user-binh", code: "SINHNHAT", wantReason: coupon.ReasonConditionsNotMet, wantRule: coupon.RuleBirthdayMonthUser},
	}
	for _, tt := range tests {
		t.Run(tt.user+"/"+tt.code, func(t *testing.T) {
			res, err := v.Validate(ctx, coupon.ValidateRequest{
				UserID:     tt.user,
				Code:       tt.code,
				OrderValue: decimal.NewFromInt(500000),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Equal(t, tt.wantRule, res.FailedRule)
		})
	}
}
