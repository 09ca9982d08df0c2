package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/cookmart/internal/domain/coupon"
)

const (
	deliveredOrdersSQL = `SELECT count(*), COALESCE(sum(total), 0)
		FROM orders WHERE user_id = $1 AND status = 'delivered'`

	findUserSQL = `SELECT id, name, COALESCE(level, ''), birth_date, created_at FROM users WHERE id = $1`

	followedAtSQL = `SELECT created_at FROM follows WHERE user_id = $1 AND seller_id = $2`
)

var _ coupon.StatsSource = (*StatsRepository)(nil)

// StatsRepository reads the user, order and follow collections the rule
// engine derives user stats from.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository returns a StatsRepository that uses the given pool.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// DeliveredOrders returns the number and summed totals of the user's
// delivered orders.
func (r *StatsRepository) DeliveredOrders(ctx context.Context, userID string) (int, decimal.Decimal, error) {
	var (
		count int
		total decimal.Decimal
	)
	if err := r.pool.QueryRow(ctx, deliveredOrdersSQL, userID).Scan(&count, &total); err != nil {
		return 0, decimal.Zero, fmt.Errorf("aggregating orders of %q: %w", userID, err)
	}
	return count, total, nil
}

// FindUser returns the user or coupon.ErrNotFound.
func (r *StatsRepository) FindUser(ctx context.Context, userID string) (*coupon.User, error) {
	var u coupon.User
	err := r.pool.QueryRow(ctx, findUserSQL, userID).Scan(&u.ID, &u.Name, &u.Level, &u.BirthDate, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding user %q: %w", userID, err)
	}
	return &u, nil
}

// FollowedAt returns when the user started following the seller, or nil.
func (r *StatsRepository) FollowedAt(ctx context.Context, userID, sellerID string) (*time.Time, error) {
	var at time.Time
	err := r.pool.QueryRow(ctx, followedAtSQL, userID, sellerID).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding follow of %q by %q: %w", sellerID, userID, err)
	}
	return &at, nil
}
