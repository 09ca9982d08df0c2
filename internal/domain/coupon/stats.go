package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// NewUserWindow is how long after registration a user counts as new.
const NewUserWindow = 30 * 24 * time.Hour

// DefaultLevel is the tier assumed for users without one.
const DefaultLevel = "bronze"

// UserStats are derived facts about a user, recomputed from the source
// collections on every request.
type UserStats struct {
	CompletedOrders int
	TotalSpent      decimal.Decimal
	Level           string
	IsNewUser       bool
	// FollowedAt is set when the user follows the coupon's scoped seller.
	FollowedAt *time.Time
	// BirthMonth is zero when the birth date is unknown.
	BirthMonth time.Month
}

// Aggregator computes UserStats from a StatsSource.
type Aggregator struct {
	src StatsSource
	now func() time.Time
}

// NewAggregator creates an Aggregator reading from src.
func NewAggregator(src StatsSource) *Aggregator {
	return &Aggregator{src: src, now: time.Now}
}

// Compute gathers the user's stats. sellerID may be empty, in which case
// FollowedAt stays nil.
func (a *Aggregator) Compute(ctx context.Context, userID, sellerID string) (*UserStats, error) {
	base, err := a.base(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats := *base
	if sellerID != "" {
		followedAt, err := a.src.FollowedAt(ctx, userID, sellerID)
		if err != nil {
			return nil, errors.Wrap(err, "get follow")
		}
		stats.FollowedAt = followedAt
	}
	return &stats, nil
}

// base loads the seller-independent part of the stats. Orders and the user
// record are read concurrently.
func (a *Aggregator) base(ctx context.Context, userID string) (*UserStats, error) {
	var (
		stats = UserStats{Level: DefaultLevel, TotalSpent: decimal.Zero}
		user  *User
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		count, total, err := a.src.DeliveredOrders(gctx, userID)
		if err != nil {
			return errors.Wrap(err, "aggregate delivered orders")
		}
		stats.CompletedOrders = count
		stats.TotalSpent = total
		return nil
	})
	g.Go(func() error {
		u, err := a.src.FindUser(gctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return errors.Wrap(err, "get user")
		}
		user = u
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if user != nil {
		if user.Level != "" {
			stats.Level = user.Level
		}
		stats.IsNewUser = a.now().Sub(user.CreatedAt) < NewUserWindow
		if user.BirthDate != nil {
			stats.BirthMonth = user.BirthDate.Month()
		}
	}
	return &stats, nil
}

// Memo computes stats at most once per user and seller for the lifetime of
// one request, so several coupon checks share a single aggregation.
func (a *Aggregator) Memo(userID string) *StatsMemo {
	return &StatsMemo{agg: a, userID: userID, follows: make(map[string]*time.Time)}
}

// StatsMemo is a request-scoped stats cache. It is safe for concurrent use.
type StatsMemo struct {
	agg    *Aggregator
	userID string

	mu      sync.Mutex
	base    *UserStats
	follows map[string]*time.Time
}

// Get returns the stats for the memo's user with FollowedAt resolved for sellerID.
func (m *StatsMemo) Get(ctx context.Context, sellerID string) (*UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.base == nil {
		base, err := m.agg.base(ctx, m.userID)
		if err != nil {
			return nil, err
		}
		m.base = base
	}

	stats := *m.base
	if sellerID == "" {
		return &stats, nil
	}

	followedAt, ok := m.follows[sellerID]
	if !ok {
		var err error
		followedAt, err = m.agg.src.FollowedAt(ctx, m.userID, sellerID)
		if err != nil {
			return nil, errors.Wrap(err, "get follow")
		}
		m.follows[sellerID] = followedAt
	}
	stats.FollowedAt = followedAt
	return &stats, nil
}
