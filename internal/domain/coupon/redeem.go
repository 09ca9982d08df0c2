package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RedeemRequest holds the input for consuming a coupon at checkout.
type RedeemRequest struct {
	ValidateRequest
	// OrderID is the idempotency key: one redemption per coupon and order.
	OrderID string
}

// Redemption is the outcome of a redeem attempt.
type Redemption struct {
	Result *Result
	// Record is set when the coupon was consumed.
	Record *UserCoupon
	// Replayed is true when Record was created by an earlier attempt with the
	// same order id.
	Replayed bool
}

// ErrOrderIDRequired is returned when a redemption carries no order id.
var ErrOrderIDRequired = errors.New("order id required")

// Redeemer consumes coupons. The validator's cap checks are advisory; the
// caps are enforced again by the repository inside the redemption write.
type Redeemer struct {
	coupons   Repository
	usage     RedemptionRepository
	validator *Validator
	now       func() time.Time
}

// NewRedeemer creates a Redeemer.
func NewRedeemer(coupons Repository, usage RedemptionRepository, validator *Validator) *Redeemer {
	return &Redeemer{
		coupons:   coupons,
		usage:     usage,
		validator: validator,
		now:       time.Now,
	}
}

// Redeem validates req and, if the coupon is accepted, atomically records its
// use. Retrying with the same OrderID returns the original redemption. An
// OrderID already redeemed by another user yields ErrOrderConflict.
func (r *Redeemer) Redeem(ctx context.Context, req RedeemRequest) (*Redemption, error) {
	if req.OrderID == "" {
		return nil, ErrOrderIDRequired
	}

	if prev, err := r.replay(ctx, req); err != nil || prev != nil {
		return prev, err
	}

	res, err := r.validator.Validate(ctx, req.ValidateRequest)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return &Redemption{Result: res}, nil
	}

	rec, created, err := r.usage.Redeem(ctx, RedeemParams{
		CouponID: res.Coupon.ID,
		UserID:   req.UserID,
		OrderID:  req.OrderID,
		Discount: res.Discount,
		Now:      r.now(),
	})
	switch {
	case errors.Is(err, ErrUsageLimitReached):
		return &Redemption{Result: reject(ReasonUsageLimitReached)}, nil
	case errors.Is(err, ErrPerUserLimitReached):
		return &Redemption{Result: reject(ReasonPerUserLimitReached)}, nil
	case errors.Is(err, ErrOrderConflict):
		return nil, ErrOrderConflict
	case err != nil:
		return nil, internalErr("redeem coupon", err)
	}

	if !created {
		return &Redemption{Result: res, Record: rec, Replayed: true}, nil
	}

	zctx.From(ctx).Info("Coupon redeemed",
		zap.String("coupon", res.Coupon.Code),
		zap.String("user_id", req.UserID),
		zap.String("order_id", req.OrderID),
		zap.String("discount", res.Discount.String()),
	)

	return &Redemption{Result: res, Record: rec}, nil
}

// replay returns the redemption previously made by req.UserID for req.OrderID,
// if any. Records of other users are never replayed.
func (r *Redeemer) replay(ctx context.Context, req RedeemRequest) (*Redemption, error) {
	c, err := r.coupons.FindByCode(ctx, NormalizeCode(req.Code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, internalErr("find coupon", err)
	}

	rec, err := r.usage.FindByOrder(ctx, c.ID, req.OrderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, internalErr("find redemption", err)
	}
	if rec.UserID != req.UserID {
		zctx.From(ctx).Warn("Order redeemed by another user",
			zap.String("coupon", c.Code),
			zap.String("user_id", req.UserID),
			zap.String("order_id", req.OrderID),
		)
		return nil, ErrOrderConflict
	}

	return &Redemption{
		Result: &Result{
			Valid:      true,
			Reason:     ReasonOK,
			Message:    Message(ReasonOK, rec.DiscountAmount),
			Discount:   rec.DiscountAmount,
			FinalPrice: FinalPrice(req.OrderValue, rec.DiscountAmount),
			Coupon:     c.Public(),
		},
		Record:   rec,
		Replayed: true,
	}, nil
}

// Wallet manages the coupons a user has saved.
type Wallet struct {
	coupons Repository
	usage   RedemptionRepository
	now     func() time.Time
}

// NewWallet creates a Wallet.
func NewWallet(coupons Repository, usage RedemptionRepository) *Wallet {
	return &Wallet{coupons: coupons, usage: usage, now: time.Now}
}

// Save stores code in the user's wallet. The saved record expires with the
// coupon's end time as of now.
func (w *Wallet) Save(ctx context.Context, userID, code string) (*UserCoupon, error) {
	c, err := w.coupons.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, internalErr("find coupon", err)
	}

	now := w.now()
	if !c.IsActive || !c.InWindow(now) {
		return nil, ErrNotFound
	}

	perUser := c.Limits.PerUserLimit
	if perUser == 0 {
		perUser = 1
	}

	uc := &UserCoupon{
		ID:        uuid.NewString(),
		UserID:    userID,
		CouponID:  c.ID,
		Status:    StatusSaved,
		SavedAt:   now,
		ExpiresAt: c.EndAt,
	}
	if err := w.usage.Save(ctx, uc, perUser); err != nil {
		if errors.Is(err, ErrAlreadySaved) || errors.Is(err, ErrPerUserLimitReached) {
			return nil, err
		}
		return nil, internalErr("save coupon", err)
	}
	return uc, nil
}

// List returns the user's coupon records, first flipping stale saved records
// to expired.
func (w *Wallet) List(ctx context.Context, userID string) ([]UserCoupon, error) {
	n, err := w.usage.ExpireSaved(ctx, userID, w.now())
	if err != nil {
		return nil, internalErr("expire saved coupons", err)
	}
	if n > 0 {
		zctx.From(ctx).Debug("Expired saved coupons",
			zap.String("user_id", userID),
			zap.Int("count", n),
		)
	}

	records, err := w.usage.ListByUser(ctx, userID)
	if err != nil {
		return nil, internalErr("list user coupons", err)
	}
	return records, nil
}
