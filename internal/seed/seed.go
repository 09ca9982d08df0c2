// Package seed holds the demo dataset loaded by cmd/seed-db and by the
// in-memory storage mode.
package seed

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/cookmart/internal/domain/chat"
	"github.com/xenking/cookmart/internal/domain/coupon"
)

// Order is a purchase feeding the user statistics.
type Order struct {
	ID        string
	UserID    string
	Status    string
	Total     decimal.Decimal
	CreatedAt time.Time
}

// Follow records a user following a seller since At.
type Follow struct {
	UserID   string
	SellerID string
	At       time.Time
}

// Dataset is a consistent set of rows to load.
type Dataset struct {
	Users         []coupon.User
	Orders        []Order
	Follows       []Follow
	Coupons       []coupon.Coupon
	Conversations []chat.Conversation
}

// Sink receives dataset rows. Writes must be idempotent so a dataset can be
// loaded more than once.
type Sink interface {
	PutUser(ctx context.Context, u coupon.User) error
	PutOrder(ctx context.Context, o Order) error
	PutFollow(ctx context.Context, f Follow) error
	PutCoupon(ctx context.Context, c *coupon.Coupon) error
	PutConversation(ctx context.Context, c chat.Conversation) error
}

// Load writes every row of d into s.
func Load(ctx context.Context, s Sink, d *Dataset) error {
	lg := zctx.From(ctx)

	for _, u := range d.Users {
		if err := s.PutUser(ctx, u); err != nil {
			return errors.Wrapf(err, "put user %s", u.ID)
		}
	}
	for _, o := range d.Orders {
		if err := s.PutOrder(ctx, o); err != nil {
			return errors.Wrapf(err, "put order %s", o.ID)
		}
	}
	for _, f := range d.Follows {
		if err := s.PutFollow(ctx, f); err != nil {
			return errors.Wrapf(err, "put follow %s/%s", f.UserID, f.SellerID)
		}
	}
	for i := range d.Coupons {
		if err := s.PutCoupon(ctx, &d.Coupons[i]); err != nil {
			return errors.Wrapf(err, "put coupon %s", d.Coupons[i].Code)
		}
	}
	for _, c := range d.Conversations {
		if err := s.PutConversation(ctx, c); err != nil {
			return errors.Wrapf(err, "put conversation %s", c.ID)
		}
	}

	lg.Info("Seed loaded",
		zap.Int("users", len(d.Users)),
		zap.Int("orders", len(d.Orders)),
		zap.Int("follows", len(d.Follows)),
		zap.Int("coupons", len(d.Coupons)),
		zap.Int("conversations", len(d.Conversations)),
	)
	return nil
}

func money(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func cond(rule, value string) coupon.Condition {
	return coupon.Condition{Rule: rule, Value: coupon.Value(value)}
}

// Demo returns the demo dataset with coupon windows around now.
func Demo(now time.Time) *Dataset {
	const day = 24 * time.Hour
	birth := time.Date(1995, now.Month(), 12, 0, 0, 0, 0, time.UTC)
	start := now.Add(-day)
	end := now.Add(30 * day)

	return &Dataset{
		Users: []coupon.User{
			{ID: "user-an", Name: "Nguyễn Văn An", Level: "gold", BirthDate: &birth, CreatedAt: now.Add(-400 * day)},
			{ID: "user-binh", Name: "Trần Thị Bình", Level: "silver", CreatedAt: now.Add(-120 * day)},
			{ID: "user-chi", Name: "Lê Minh Chi", CreatedAt: now.Add(-3 * day)},
			{ID: "seller-bepnha", Name: "Bếp Nhà", Level: "platinum", CreatedAt: now.Add(-900 * day)},
		},
		Orders: []Order{
			{ID: "ord-an-1", UserID: "user-an", Status: "delivered", Total: money(450000), CreatedAt: now.Add(-200 * day)},
			{ID: "ord-an-2", UserID: "user-an", Status: "delivered", Total: money(1250000), CreatedAt: now.Add(-60 * day)},
			{ID: "ord-an-3", UserID: "user-an", Status: "delivered", Total: money(380000), CreatedAt: now.Add(-10 * day)},
			{ID: "ord-binh-1", UserID: "user-binh", Status: "delivered", Total: money(210000), CreatedAt: now.Add(-30 * day)},
			{ID: "ord-binh-2", UserID: "user-binh", Status: "cancelled", Total: money(990000), CreatedAt: now.Add(-20 * day)},
		},
		Follows: []Follow{
			{UserID: "user-an", SellerID: "seller-bepnha", At: now.Add(-45 * day)},
			{UserID: "user-binh", SellerID: "seller-bepnha", At: now.Add(-2 * day)},
		},
		Coupons: []coupon.Coupon{
			{
				ID:          "cpn-welcome",
				Code:        "CHAOBAN",
				Description: "Giảm 10% tối đa 50.000đ cho thành viên mới",
				Discount: coupon.Discount{
					Type:        coupon.DiscountPercent,
					Value:       money(10),
					MaxDiscount: decimal.NewNullDecimal(money(50000)),
				},
				Conditions: []coupon.Condition{cond(coupon.RuleNewUserOnly, `true`)},
				Limits:     coupon.Limits{PerUserLimit: 1},
				StartAt:    start, EndAt: end, IsActive: true, CreatedAt: start,
			},
			{
				ID:          "cpn-loyal",
				Code:        "KHACHQUEN",
				Description: "Giảm 30.000đ cho khách đã mua từ 3 đơn",
				Discount: coupon.Discount{
					Type:          coupon.DiscountFixed,
					Value:         money(30000),
					MinOrderValue: decimal.NewNullDecimal(money(200000)),
				},
				Conditions: []coupon.Condition{
					cond(coupon.RuleMinCompletedOrders, `3`),
					cond(coupon.RuleMinTotalSpent, `1000000`),
				},
				StartAt: start, EndAt: end, IsActive: true, CreatedAt: start,
			},
			{
				ID:          "cpn-fan",
				Code:        "FANBEPNHA",
				Description: "Giảm 15% cho người theo dõi Bếp Nhà trên 30 ngày",
				Discount: coupon.Discount{
					Type:        coupon.DiscountPercent,
					Value:       money(15),
					MaxDiscount: decimal.NewNullDecimal(money(100000)),
				},
				Scope: coupon.Scope{SellerID: "seller-bepnha"},
				Conditions: []coupon.Condition{
					cond(coupon.RuleFollowSeller, `true`),
					cond(coupon.RuleFollowDurationDays, `30`),
				},
				StartAt: start, EndAt: end, IsActive: true, CreatedAt: start,
			},
			{
				ID:          "cpn-gold",
				Code:        "VANGSANG",
				Description: "Miễn phí vận chuyển cho thành viên Vàng trở lên",
				Discount: coupon.Discount{
					Type:        coupon.DiscountFreeShip,
					MaxDiscount: decimal.NewNullDecimal(money(30000)),
				},
				Conditions: []coupon.Condition{cond(coupon.RuleLevel, `"gold"`)},
				StartAt:    start, EndAt: end, IsActive: true, CreatedAt: start,
			},
			{
				ID:          "cpn-birthday",
				Code:        "SINHNHAT",
				Description: "Giảm 50.000đ trong tháng sinh nhật",
				Discount: coupon.Discount{
					Type:  coupon.DiscountFixed,
					Value: money(50000),
				},
				Conditions: []coupon.Condition{cond(coupon.RuleBirthdayMonthUser, `true`)},
				Limits:     coupon.Limits{PerUserLimit: 1},
				StartAt:    start, EndAt: end, IsActive: true, CreatedAt: start,
			},
			{
				ID:          "cpn-flash",
				Code:        "FLASH100",
				Description: "100 lượt giảm 20.000đ cho nguyên liệu tươi",
				Discount: coupon.Discount{
					Type:  coupon.DiscountFixed,
					Value: money(20000),
				},
				Scope:   coupon.Scope{Categories: []string{"fresh"}},
				Limits:  coupon.Limits{UsageLimit: 100},
				StartAt: start, EndAt: end, IsActive: true, CreatedAt: start,
			},
		},
		Conversations: []chat.Conversation{
			{
				ID:           "conv-an-bepnha",
				Type:         chat.ConversationShop,
				Participants: []string{"user-an", "seller-bepnha"},
				CreatedAt:    now.Add(-10 * day),
				UpdatedAt:    now.Add(-10 * day),
			},
			{
				ID:           "conv-an-binh",
				Type:         chat.ConversationDirect,
				Participants: []string{"user-an", "user-binh"},
				CreatedAt:    now.Add(-2 * day),
				UpdatedAt:    now.Add(-2 * day),
			},
		},
	}
}
