package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cookmart/internal/domain/chat"
	"github.com/xenking/cookmart/internal/domain/coupon"
	"github.com/xenking/cookmart/internal/seed"
)

const (
	upsertUserSQL = `INSERT INTO users (id, name, level, birth_date, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			level = EXCLUDED.level,
			birth_date = EXCLUDED.birth_date,
			created_at = EXCLUDED.created_at`

	upsertOrderSQL = `INSERT INTO orders (id, user_id, status, total, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, total = EXCLUDED.total`

	upsertFollowSQL = `INSERT INTO follows (user_id, seller_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, seller_id) DO UPDATE SET created_at = EXCLUDED.created_at`

	upsertConversationSQL = `INSERT INTO conversations (id, type, participants, allow_ai, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET participants = EXCLUDED.participants, allow_ai = EXCLUDED.allow_ai`
)

var _ seed.Sink = (*Seeder)(nil)

// Seeder writes seed datasets with idempotent upserts.
type Seeder struct {
	pool    *pgxpool.Pool
	coupons *CouponRepository
}

// NewSeeder returns a Seeder that uses the given pool.
func NewSeeder(pool *pgxpool.Pool) *Seeder {
	return &Seeder{pool: pool, coupons: NewCouponRepository(pool)}
}

// PutUser implements seed.Sink.
func (s *Seeder) PutUser(ctx context.Context, u coupon.User) error {
	if _, err := s.pool.Exec(ctx, upsertUserSQL, u.ID, u.Name, u.Level, u.BirthDate, u.CreatedAt); err != nil {
		return fmt.Errorf("upserting user %q: %w", u.ID, err)
	}
	return nil
}

// PutOrder implements seed.Sink.
func (s *Seeder) PutOrder(ctx context.Context, o seed.Order) error {
	if _, err := s.pool.Exec(ctx, upsertOrderSQL, o.ID, o.UserID, o.Status, o.Total, o.CreatedAt); err != nil {
		return fmt.Errorf("upserting order %q: %w", o.ID, err)
	}
	return nil
}

// PutFollow implements seed.Sink.
func (s *Seeder) PutFollow(ctx context.Context, f seed.Follow) error {
	if _, err := s.pool.Exec(ctx, upsertFollowSQL, f.UserID, f.SellerID, f.At); err != nil {
		return fmt.Errorf("upserting follow %q -> %q: %w", f.UserID, f.SellerID, err)
	}
	return nil
}

// PutCoupon implements seed.Sink.
func (s *Seeder) PutCoupon(ctx context.Context, c *coupon.Coupon) error {
	_, err := s.coupons.Upsert(ctx, c)
	return err
}

// PutConversation implements seed.Sink.
func (s *Seeder) PutConversation(ctx context.Context, c chat.Conversation) error {
	if _, err := s.pool.Exec(ctx, upsertConversationSQL,
		c.ID, string(c.Type), c.Participants, c.AllowAI, c.CreatedAt, c.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upserting conversation %q: %w", c.ID, err)
	}
	return nil
}
