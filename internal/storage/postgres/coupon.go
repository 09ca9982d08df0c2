package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cookmart/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, discount_type, discount_value, max_discount,
		min_order_value, COALESCE(seller_id, ''), products, categories, conditions,
		usage_limit, per_user_limit, eligible_users, excluded_users,
		start_at, end_at, is_active, created_at`

	findCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1) AND deleted_at IS NULL`

	listActiveCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons
		WHERE is_active AND deleted_at IS NULL AND start_at <= $1 AND end_at >= $1
		ORDER BY created_at DESC`

	listCouponCodesSQL = `SELECT code FROM coupons WHERE deleted_at IS NULL`

	upsertCouponSQL = `INSERT INTO coupons (id, code, description, discount_type, discount_value,
		max_discount, min_order_value, seller_id, products, categories, conditions,
		usage_limit, per_user_limit, eligible_users, excluded_users, start_at, end_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT ((UPPER(code))) WHERE deleted_at IS NULL DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			max_discount = EXCLUDED.max_discount,
			min_order_value = EXCLUDED.min_order_value,
			seller_id = EXCLUDED.seller_id,
			products = EXCLUDED.products,
			categories = EXCLUDED.categories,
			conditions = EXCLUDED.conditions,
			usage_limit = EXCLUDED.usage_limit,
			per_user_limit = EXCLUDED.per_user_limit,
			eligible_users = EXCLUDED.eligible_users,
			excluded_users = EXCLUDED.excluded_users,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			is_active = EXCLUDED.is_active
		RETURNING (xmax = 0)`

	softDeleteCouponSQL = `UPDATE coupons SET deleted_at = $2, is_active = FALSE
		WHERE UPPER(code) = UPPER($1) AND deleted_at IS NULL`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive). Soft-deleted
// coupons are invisible; inactive ones are returned.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, findCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// ListActive returns the active coupons whose window contains now, newest first.
func (r *CouponRepository) ListActive(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listActiveCouponsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing active coupons: %w", err)
	}

	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing active coupons: %w", err)
	}
	return coupons, nil
}

// Codes returns the codes of every live coupon.
func (r *CouponRepository) Codes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listCouponCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupon codes: %w", err)
	}

	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing coupon codes: %w", err)
	}
	return codes, nil
}

// Upsert inserts c or, when a live coupon with the same code exists, replaces
// its definition. It reports whether a new row was inserted.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) (bool, error) {
	var inserted bool
	err := r.pool.QueryRow(ctx, upsertCouponSQL,
		c.ID, c.Code, c.Description, string(c.Discount.Type), c.Discount.Value,
		c.Discount.MaxDiscount, c.Discount.MinOrderValue, c.Scope.SellerID,
		nonNil(c.Scope.Products), nonNil(c.Scope.Categories), coupon.MarshalConditions(c.Conditions),
		c.Limits.UsageLimit, c.Limits.PerUserLimit,
		nonNil(c.EligibleUsers), nonNil(c.ExcludedUsers),
		c.StartAt, c.EndAt, c.IsActive,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return inserted, nil
}

// SoftDelete hides the coupon with the given code. Its redemption history is
// kept.
func (r *CouponRepository) SoftDelete(ctx context.Context, code string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, softDeleteCouponSQL, code, at)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		conditions   []byte
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.Discount.Value, &c.Discount.MaxDiscount,
		&c.Discount.MinOrderValue, &c.Scope.SellerID, &c.Scope.Products, &c.Scope.Categories, &conditions,
		&c.Limits.UsageLimit, &c.Limits.PerUserLimit, &c.EligibleUsers, &c.ExcludedUsers,
		&c.StartAt, &c.EndAt, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		return c, err
	}
	c.Discount.Type = coupon.DiscountType(discountType)

	c.Conditions, err = coupon.UnmarshalConditions(conditions)
	if err != nil {
		return c, fmt.Errorf("coupon %q: %w", c.Code, err)
	}
	return c, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
