package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_Compute(t *testing.T) {
	birth := time.Date(1995, time.March, 8, 0, 0, 0, 0, time.UTC)
	followed := fixedNow.Add(-72 * time.Hour)

	tests := []struct {
		name     string
		src      *mockStatsSource
		sellerID string
		want     UserStats
	}{
		{
			name: "established user",
			src: &mockStatsSource{
				orders: 12,
				spent:  d("3500000"),
				user:   &User{ID: "u1", Level: "gold", BirthDate: &birth, CreatedAt: fixedNow.AddDate(-1, 0, 0)},
			},
			want: UserStats{
				CompletedOrders: 12,
				TotalSpent:      d("3500000"),
				Level:           "gold",
				BirthMonth:      time.March,
			},
		},
		{
			name: "new user without level",
			src: &mockStatsSource{
				spent: d("0"),
				user:  &User{ID: "u1", CreatedAt: fixedNow.Add(-29 * 24 * time.Hour)},
			},
			want: UserStats{TotalSpent: d("0"), Level: DefaultLevel, IsNewUser: true},
		},
		{
			name: "missing user gets defaults",
			src:  &mockStatsSource{orders: 1, spent: d("100")},
			want: UserStats{CompletedOrders: 1, TotalSpent: d("100"), Level: DefaultLevel},
		},
		{
			name: "follow resolved for seller",
			src: &mockStatsSource{
				spent:   d("0"),
				follows: map[string]time.Time{"s1": followed},
			},
			sellerID: "s1",
			want:     UserStats{TotalSpent: d("0"), Level: DefaultLevel, FollowedAt: &followed},
		},
		{
			name: "not following seller",
			src: &mockStatsSource{
				spent:   d("0"),
				follows: map[string]time.Time{"s1": followed},
			},
			sellerID: "s2",
			want:     UserStats{TotalSpent: d("0"), Level: DefaultLevel},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(tt.src)
			agg.now = func() time.Time { return fixedNow }

			got, err := agg.Compute(context.Background(), "u1", tt.sellerID)
			require.NoError(t, err)

			assert.Equal(t, tt.want.CompletedOrders, got.CompletedOrders)
			assert.True(t, tt.want.TotalSpent.Equal(got.TotalSpent))
			assert.Equal(t, tt.want.Level, got.Level)
			assert.Equal(t, tt.want.IsNewUser, got.IsNewUser)
			assert.Equal(t, tt.want.BirthMonth, got.BirthMonth)
			assert.Equal(t, tt.want.FollowedAt, got.FollowedAt)
		})
	}
}

func TestAggregator_SourceError(t *testing.T) {
	agg := NewAggregator(&mockStatsSource{ordersErr: errors.New("timeout")})

	_, err := agg.Compute(context.Background(), "u1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregate delivered orders")
}

func TestStatsMemo_Get(t *testing.T) {
	followed := fixedNow.Add(-time.Hour)
	src := &mockStatsSource{
		orders:  2,
		spent:   d("200000"),
		follows: map[string]time.Time{"s1": followed},
	}
	agg := NewAggregator(src)
	agg.now = func() time.Time { return fixedNow }
	memo := agg.Memo("u1")
	ctx := context.Background()

	s1, err := memo.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, s1.FollowedAt)

	s2, err := memo.Get(ctx, "s2")
	require.NoError(t, err)
	assert.Nil(t, s2.FollowedAt)

	none, err := memo.Get(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, none.FollowedAt)
	assert.Equal(t, 2, none.CompletedOrders)

	_, err = memo.Get(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, 1, src.orderCalls)
	assert.Equal(t, 2, src.followCalls)
}
