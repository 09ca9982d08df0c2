package coupon

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercent takes a percentage of the order value, optionally capped.
	DiscountPercent DiscountType = "percent"
	// DiscountFixed takes a fixed amount off the order value.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeShip waives shipping; the merchandise discount is zero.
	DiscountFreeShip DiscountType = "free_ship"
)

var (
	// ErrNotFound is returned when a coupon or redemption record does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrAlreadySaved is returned when the user already holds a saved record
	// for the coupon.
	ErrAlreadySaved = errors.New("coupon already saved")
	// ErrUsageLimitReached is returned when a coupon has exhausted its global uses.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrPerUserLimitReached is returned when the user has exhausted their uses.
	ErrPerUserLimitReached = errors.New("coupon per-user limit reached")
	// ErrOrderConflict is returned when the coupon was already redeemed for the
	// order by a different user.
	ErrOrderConflict = errors.New("coupon already redeemed for order by another user")
	// ErrInternal marks infrastructure failures. Match with errors.Is.
	ErrInternal = errors.New("internal error")
)

// InternalError wraps an infrastructure failure. Validation is read-only and
// safe to retry on it; redemption is only safe to retry with the same order id.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *InternalError) Unwrap() error { return e.Err }

// Is reports ErrInternal as a match so callers need not know the concrete type.
func (e *InternalError) Is(target error) bool { return target == ErrInternal }

func internalErr(op string, err error) error {
	if errors.Is(err, ErrInternal) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// Discount describes how a coupon reduces an order.
type Discount struct {
	Type  DiscountType
	Value decimal.Decimal
	// MaxDiscount caps percent discounts when valid.
	MaxDiscount decimal.NullDecimal
	// MinOrderValue gates the coupon on the order value when valid.
	MinOrderValue decimal.NullDecimal
}

// Scope restricts a coupon to a seller, a product set or a category set.
type Scope struct {
	SellerID   string
	Products   []string
	Categories []string
}

// Limits bounds redemptions. Zero means unlimited.
type Limits struct {
	UsageLimit   int
	PerUserLimit int
}

// Coupon is a promotional policy.
type Coupon struct {
	ID            string
	Code          string
	Description   string
	Discount      Discount
	Scope         Scope
	Conditions    []Condition
	Limits        Limits
	EligibleUsers []string
	ExcludedUsers []string
	StartAt       time.Time
	EndAt         time.Time
	IsActive      bool
	CreatedAt     time.Time
}

// InWindow reports whether now falls inside [StartAt, EndAt].
func (c *Coupon) InWindow(now time.Time) bool {
	return !now.Before(c.StartAt) && !now.After(c.EndAt)
}

// Public returns the subset of the coupon exposed to shoppers.
func (c *Coupon) Public() *Public {
	return &Public{
		ID:          c.ID,
		Code:        c.Code,
		Description: c.Description,
		Discount:    c.Discount,
	}
}

// Public is the shopper-facing view of a coupon.
type Public struct {
	ID          string
	Code        string
	Description string
	Discount    Discount
}

// NormalizeCode returns the canonical form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Item is a cart line as seen by the coupon engine.
type Item struct {
	ProductID string
	Category  string
	Price     decimal.Decimal
	Quantity  int
}

func anyProductIn(items []Item, products []string) bool {
	for _, it := range items {
		if slices.Contains(products, it.ProductID) {
			return true
		}
	}
	return false
}

func anyCategoryIn(items []Item, categories []string) bool {
	for _, it := range items {
		if slices.Contains(categories, it.Category) {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a UserCoupon.
type Status string

const (
	StatusSaved   Status = "saved"
	StatusUsed    Status = "used"
	StatusExpired Status = "expired"
)

// UserCoupon joins a user and a coupon: a saved coupon or a redemption.
// Transitions are saved -> used and saved -> expired; used and expired are final.
type UserCoupon struct {
	ID             string
	UserID         string
	CouponID       string
	Status         Status
	SavedAt        time.Time
	UsedAt         *time.Time
	ExpiresAt      time.Time
	OrderID        string
	DiscountAmount decimal.Decimal
}

// EffectiveStatus reports the status as of now. A saved record past its
// expiry reads as expired even before the store is updated.
func (uc *UserCoupon) EffectiveStatus(now time.Time) Status {
	if uc.Status == StatusSaved && now.After(uc.ExpiresAt) {
		return StatusExpired
	}
	return uc.Status
}

// RedeemParams holds the input for an atomic redemption.
type RedeemParams struct {
	CouponID string
	UserID   string
	OrderID  string
	Discount decimal.Decimal
	Now      time.Time
}

// Repository provides lookup of coupon definitions.
type Repository interface {
	// FindByCode returns the coupon with the given code, compared
	// case-insensitively, or ErrNotFound. Inactive coupons are returned.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// ListActive returns active coupons whose window contains now, newest first.
	ListActive(ctx context.Context, now time.Time) ([]Coupon, error)
}

// RedemptionRepository stores UserCoupon records. Save and Redeem must enforce
// their limits atomically with the write.
type RedemptionRepository interface {
	CountUsed(ctx context.Context, couponID string) (int, error)
	CountUsedByUser(ctx context.Context, couponID, userID string) (int, error)
	ListByUser(ctx context.Context, userID string) ([]UserCoupon, error)
	// FindByOrder returns the redemption of couponID made for orderID, or ErrNotFound.
	// The record may belong to any user.
	FindByOrder(ctx context.Context, couponID, orderID string) (*UserCoupon, error)
	// Save inserts a saved record. It returns ErrAlreadySaved when a saved
	// record exists and ErrPerUserLimitReached when the user's used count has
	// reached perUserLimit.
	Save(ctx context.Context, uc *UserCoupon, perUserLimit int) error
	// ExpireSaved flips the user's stale saved records to expired.
	ExpireSaved(ctx context.Context, userID string, now time.Time) (int, error)
	// Redeem consumes one use of the coupon for the user. It locks the coupon,
	// re-checks both caps and either converts the user's saved record or
	// inserts a used one. A repeated orderID returns the existing record with
	// created set to false, or ErrOrderConflict when that record belongs to
	// another user.
	Redeem(ctx context.Context, p RedeemParams) (rec *UserCoupon, created bool, err error)
}

// User holds the account facts the rule engine needs.
type User struct {
	ID string
	// Name is the display name shown next to chat messages.
	Name      string
	Level     string
	BirthDate *time.Time
	CreatedAt time.Time
}

// StatsSource reads the collaborator collections behind UserStats.
type StatsSource interface {
	// DeliveredOrders returns the count and sum of totals of delivered orders.
	DeliveredOrders(ctx context.Context, userID string) (int, decimal.Decimal, error)
	// FindUser returns the user or ErrNotFound.
	FindUser(ctx context.Context, userID string) (*User, error)
	// FollowedAt returns when userID started following sellerID, nil if not.
	FollowedAt(ctx context.Context, userID, sellerID string) (*time.Time, error)
}
