package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cookmart/internal/domain/coupon"
)

const (
	userCouponColumns = `id, user_id, coupon_id, status, saved_at, used_at, expires_at,
		COALESCE(order_id, ''), discount_amount`

	countUsedSQL = `SELECT count(*) FROM user_coupons WHERE coupon_id = $1 AND status = 'used'`

	countUsedByUserSQL = `SELECT count(*) FROM user_coupons
		WHERE coupon_id = $1 AND user_id = $2 AND status = 'used'`

	listUserCouponsSQL = `SELECT ` + userCouponColumns + `
		FROM user_coupons WHERE user_id = $1 ORDER BY saved_at DESC`

	findRedemptionSQL = `SELECT ` + userCouponColumns + `
		FROM user_coupons WHERE coupon_id = $1 AND order_id = $2`

	lockUserCouponSQL = `SELECT pg_advisory_xact_lock(hashtext($1 || '/' || $2))`

	insertSavedSQL = `INSERT INTO user_coupons (id, user_id, coupon_id, status, saved_at, expires_at)
		VALUES ($1, $2, $3, 'saved', $4, $5)`

	expireSavedSQL = `UPDATE user_coupons SET status = 'expired'
		WHERE user_id = $1 AND status = 'saved' AND expires_at < $2`

	lockCouponLimitsSQL = `SELECT usage_limit, per_user_limit FROM coupons WHERE id = $1 FOR UPDATE`

	useSavedSQL = `UPDATE user_coupons
		SET status = 'used', used_at = $3, order_id = $4, discount_amount = $5
		WHERE user_id = $1 AND coupon_id = $2 AND status = 'saved' AND expires_at >= $3
		RETURNING ` + userCouponColumns

	insertUsedSQL = `INSERT INTO user_coupons
		(id, user_id, coupon_id, status, saved_at, used_at, expires_at, order_id, discount_amount)
		VALUES ($1, $2, $3, 'used', $4, $4, $4, $5, $6)
		RETURNING ` + userCouponColumns

	savedIndex = "user_coupons_saved_idx"
)

var _ coupon.RedemptionRepository = (*RedemptionRepository)(nil)

// RedemptionRepository implements coupon.RedemptionRepository backed by
// PostgreSQL.
type RedemptionRepository struct {
	pool *pgxpool.Pool
}

// NewRedemptionRepository returns a RedemptionRepository that uses the given pool.
func NewRedemptionRepository(pool *pgxpool.Pool) *RedemptionRepository {
	return &RedemptionRepository{pool: pool}
}

// CountUsed returns how many times the coupon was redeemed.
func (r *RedemptionRepository) CountUsed(ctx context.Context, couponID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countUsedSQL, couponID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting uses of coupon %q: %w", couponID, err)
	}
	return n, nil
}

// CountUsedByUser returns how many times the user redeemed the coupon.
func (r *RedemptionRepository) CountUsedByUser(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countUsedByUserSQL, couponID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting uses of coupon %q by %q: %w", couponID, userID, err)
	}
	return n, nil
}

// ListByUser returns the user's records, most recently saved first.
func (r *RedemptionRepository) ListByUser(ctx context.Context, userID string) ([]coupon.UserCoupon, error) {
	rows, err := r.pool.Query(ctx, listUserCouponsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing coupons of %q: %w", userID, err)
	}

	records, err := pgx.CollectRows(rows, scanUserCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons of %q: %w", userID, err)
	}
	return records, nil
}

// FindByOrder returns the redemption of the coupon made for orderID.
func (r *RedemptionRepository) FindByOrder(ctx context.Context, couponID, orderID string) (*coupon.UserCoupon, error) {
	rows, err := r.pool.Query(ctx, findRedemptionSQL, couponID, orderID)
	if err != nil {
		return nil, fmt.Errorf("finding redemption for order %q: %w", orderID, err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanUserCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding redemption for order %q: %w", orderID, err)
	}
	return &rec, nil
}

// Save inserts a saved record. Saves of one user and coupon are serialized by
// an advisory lock so the per-user check and the insert cannot interleave.
func (r *RedemptionRepository) Save(ctx context.Context, uc *coupon.UserCoupon, perUserLimit int) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockUserCouponSQL, uc.UserID, uc.CouponID); err != nil {
			return fmt.Errorf("locking user coupon: %w", err)
		}

		if perUserLimit > 0 {
			var used int
			if err := tx.QueryRow(ctx, countUsedByUserSQL, uc.CouponID, uc.UserID).Scan(&used); err != nil {
				return fmt.Errorf("counting user uses: %w", err)
			}
			if used >= perUserLimit {
				return coupon.ErrPerUserLimitReached
			}
		}

		_, err := tx.Exec(ctx, insertSavedSQL, uc.ID, uc.UserID, uc.CouponID, uc.SavedAt, uc.ExpiresAt)
		if err != nil {
			if isUniqueViolation(err, savedIndex) {
				return coupon.ErrAlreadySaved
			}
			return fmt.Errorf("saving coupon %q for %q: %w", uc.CouponID, uc.UserID, err)
		}
		return nil
	})
}

// ExpireSaved flips the user's saved records past their expiry to expired.
func (r *RedemptionRepository) ExpireSaved(ctx context.Context, userID string, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, expireSavedSQL, userID, now)
	if err != nil {
		return 0, fmt.Errorf("expiring saved coupons of %q: %w", userID, err)
	}
	return int(tag.RowsAffected()), nil
}

// Redeem consumes one use of the coupon. The coupon row is locked for the
// whole transaction, so concurrent redemptions of one coupon see each other's
// writes when re-checking the caps.
func (r *RedemptionRepository) Redeem(ctx context.Context, p coupon.RedeemParams) (*coupon.UserCoupon, bool, error) {
	var (
		rec     coupon.UserCoupon
		created bool
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var usageLimit, perUserLimit int
		if err := tx.QueryRow(ctx, lockCouponLimitsSQL, p.CouponID).Scan(&usageLimit, &perUserLimit); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return coupon.ErrNotFound
			}
			return fmt.Errorf("locking coupon: %w", err)
		}

		rows, err := tx.Query(ctx, findRedemptionSQL, p.CouponID, p.OrderID)
		if err != nil {
			return fmt.Errorf("finding redemption: %w", err)
		}
		prev, err := pgx.CollectExactlyOneRow(rows, scanUserCoupon)
		switch {
		case err == nil && prev.UserID != p.UserID:
			return coupon.ErrOrderConflict
		case err == nil:
			rec = prev
			return nil
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("finding redemption: %w", err)
		}

		if usageLimit > 0 {
			var used int
			if err := tx.QueryRow(ctx, countUsedSQL, p.CouponID).Scan(&used); err != nil {
				return fmt.Errorf("counting uses: %w", err)
			}
			if used >= usageLimit {
				return coupon.ErrUsageLimitReached
			}
		}
		if perUserLimit > 0 {
			var used int
			if err := tx.QueryRow(ctx, countUsedByUserSQL, p.CouponID, p.UserID).Scan(&used); err != nil {
				return fmt.Errorf("counting user uses: %w", err)
			}
			if used >= perUserLimit {
				return coupon.ErrPerUserLimitReached
			}
		}

		rows, err = tx.Query(ctx, useSavedSQL, p.UserID, p.CouponID, p.Now, p.OrderID, p.Discount)
		if err != nil {
			return fmt.Errorf("using saved coupon: %w", err)
		}
		rec, err = pgx.CollectExactlyOneRow(rows, scanUserCoupon)
		if err == nil {
			created = true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("using saved coupon: %w", err)
		}

		rows, err = tx.Query(ctx, insertUsedSQL, uuid.NewString(), p.UserID, p.CouponID, p.Now, p.OrderID, p.Discount)
		if err != nil {
			return fmt.Errorf("inserting redemption: %w", err)
		}
		rec, err = pgx.CollectExactlyOneRow(rows, scanUserCoupon)
		if err != nil {
			return fmt.Errorf("inserting redemption: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &rec, created, nil
}

func scanUserCoupon(row pgx.CollectableRow) (coupon.UserCoupon, error) {
	var (
		uc     coupon.UserCoupon
		status string
	)
	err := row.Scan(
		&uc.ID, &uc.UserID, &uc.CouponID, &status, &uc.SavedAt, &uc.UsedAt, &uc.ExpiresAt,
		&uc.OrderID, &uc.DiscountAmount,
	)
	uc.Status = coupon.Status(status)
	return uc, err
}
