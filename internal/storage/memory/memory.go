// Package memory implements every repository in process memory. It backs
// local development and tests; all state is lost on restart.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/cookmart/internal/domain/chat"
	"github.com/xenking/cookmart/internal/domain/coupon"
)

// Order is a purchase as seen by the stats aggregation.
type Order struct {
	ID     string
	UserID string
	Status string
	Total  decimal.Decimal
}

type follow struct {
	userID   string
	sellerID string
}

type conversation struct {
	chat.Conversation
	lastSeq int64
}

// Store holds every collection behind one lock.
type Store struct {
	mu       sync.Mutex
	coupons  map[string]*coupon.Coupon
	records  []*coupon.UserCoupon
	users    map[string]*coupon.User
	orders   []Order
	follows  map[follow]time.Time
	convs    map[string]*conversation
	messages map[string][]chat.Message
}

var (
	_ coupon.Repository           = (*Store)(nil)
	_ coupon.RedemptionRepository = (*Store)(nil)
	_ coupon.StatsSource          = (*Store)(nil)
	_ chat.Repository             = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		coupons:  make(map[string]*coupon.Coupon),
		users:    make(map[string]*coupon.User),
		follows:  make(map[follow]time.Time),
		convs:    make(map[string]*conversation),
		messages: make(map[string][]chat.Message),
	}
}

// PutCoupon inserts or replaces a coupon by code.
func (s *Store) PutCoupon(c coupon.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.coupons[coupon.NormalizeCode(c.Code)] = &c
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u coupon.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

// AddOrder records an order.
func (s *Store) AddOrder(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
}

// Follow records that userID follows sellerID since at.
func (s *Store) Follow(userID, sellerID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.follows[follow{userID, sellerID}] = at
}

// PutConversation inserts or replaces a conversation.
func (s *Store) PutConversation(c chat.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ID] = &conversation{Conversation: c}
}

// FindByCode implements coupon.Repository.
func (s *Store) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[coupon.NormalizeCode(code)]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ListActive implements coupon.Repository.
func (s *Store) ListActive(_ context.Context, now time.Time) ([]coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []coupon.Coupon
	for _, c := range s.coupons {
		if c.IsActive && c.InWindow(now) {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b coupon.Coupon) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
	return out, nil
}

func (s *Store) countUsedLocked(couponID, userID string) int {
	var n int
	for _, r := range s.records {
		if r.CouponID == couponID && r.Status == coupon.StatusUsed && (userID == "" || r.UserID == userID) {
			n++
		}
	}
	return n
}

func (s *Store) couponByIDLocked(id string) *coupon.Coupon {
	for _, c := range s.coupons {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// CountUsed implements coupon.RedemptionRepository.
func (s *Store) CountUsed(_ context.Context, couponID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countUsedLocked(couponID, ""), nil
}

// CountUsedByUser implements coupon.RedemptionRepository.
func (s *Store) CountUsedByUser(_ context.Context, couponID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countUsedLocked(couponID, userID), nil
}

// ListByUser implements coupon.RedemptionRepository.
func (s *Store) ListByUser(_ context.Context, userID string) ([]coupon.UserCoupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []coupon.UserCoupon
	for _, r := range s.records {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	slices.SortStableFunc(out, func(a, b coupon.UserCoupon) int {
		return b.SavedAt.Compare(a.SavedAt)
	})
	return out, nil
}

func (s *Store) findByOrderLocked(couponID, orderID string) *coupon.UserCoupon {
	for _, r := range s.records {
		if r.CouponID == couponID && r.OrderID == orderID {
			return r
		}
	}
	return nil
}

// FindByOrder implements coupon.RedemptionRepository.
func (s *Store) FindByOrder(_ context.Context, couponID, orderID string) (*coupon.UserCoupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.findByOrderLocked(couponID, orderID)
	if r == nil {
		return nil, coupon.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// Save implements coupon.RedemptionRepository.
func (s *Store) Save(_ context.Context, uc *coupon.UserCoupon, perUserLimit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.UserID == uc.UserID && r.CouponID == uc.CouponID && r.Status == coupon.StatusSaved {
			return coupon.ErrAlreadySaved
		}
	}
	if perUserLimit > 0 && s.countUsedLocked(uc.CouponID, uc.UserID) >= perUserLimit {
		return coupon.ErrPerUserLimitReached
	}
	cp := *uc
	s.records = append(s.records, &cp)
	return nil
}

// ExpireSaved implements coupon.RedemptionRepository.
func (s *Store) ExpireSaved(_ context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, r := range s.records {
		if r.UserID == userID && r.Status == coupon.StatusSaved && r.ExpiresAt.Before(now) {
			r.Status = coupon.StatusExpired
			n++
		}
	}
	return n, nil
}

// Redeem implements coupon.RedemptionRepository. The store lock makes the cap
// checks and the write atomic.
func (s *Store) Redeem(_ context.Context, p coupon.RedeemParams) (*coupon.UserCoupon, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.couponByIDLocked(p.CouponID)
	if c == nil {
		return nil, false, coupon.ErrNotFound
	}
	if prev := s.findByOrderLocked(p.CouponID, p.OrderID); prev != nil {
		if prev.UserID != p.UserID {
			return nil, false, coupon.ErrOrderConflict
		}
		cp := *prev
		return &cp, false, nil
	}
	if c.Limits.UsageLimit > 0 && s.countUsedLocked(c.ID, "") >= c.Limits.UsageLimit {
		return nil, false, coupon.ErrUsageLimitReached
	}
	if c.Limits.PerUserLimit > 0 && s.countUsedLocked(c.ID, p.UserID) >= c.Limits.PerUserLimit {
		return nil, false, coupon.ErrPerUserLimitReached
	}

	usedAt := p.Now
	for _, r := range s.records {
		if r.UserID == p.UserID && r.CouponID == p.CouponID && r.Status == coupon.StatusSaved && !p.Now.After(r.ExpiresAt) {
			r.Status = coupon.StatusUsed
			r.UsedAt = &usedAt
			r.OrderID = p.OrderID
			r.DiscountAmount = p.Discount
			cp := *r
			return &cp, true, nil
		}
	}

	r := &coupon.UserCoupon{
		ID:             uuid.NewString(),
		UserID:         p.UserID,
		CouponID:       p.CouponID,
		Status:         coupon.StatusUsed,
		SavedAt:        p.Now,
		UsedAt:         &usedAt,
		ExpiresAt:      p.Now,
		OrderID:        p.OrderID,
		DiscountAmount: p.Discount,
	}
	s.records = append(s.records, r)
	cp := *r
	return &cp, true, nil
}

// DeliveredOrders implements coupon.StatsSource.
func (s *Store) DeliveredOrders(_ context.Context, userID string) (int, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		n     int
		total = decimal.Zero
	)
	for _, o := range s.orders {
		if o.UserID == userID && o.Status == "delivered" {
			n++
			total = total.Add(o.Total)
		}
	}
	return n, total, nil
}

// FindUser implements coupon.StatsSource.
func (s *Store) FindUser(_ context.Context, userID string) (*coupon.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// FollowedAt implements coupon.StatsSource.
func (s *Store) FollowedAt(_ context.Context, userID, sellerID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.follows[follow{userID, sellerID}]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

// FindConversation implements chat.Repository.
func (s *Store) FindConversation(_ context.Context, id string) (*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	cp := c.Conversation
	cp.Participants = slices.Clone(c.Participants)
	return &cp, nil
}

// InsertMessage implements chat.Repository.
func (s *Store) InsertMessage(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[m.ConversationID]
	if !ok {
		return chat.ErrNotFound
	}
	c.lastSeq++
	m.Seq = c.lastSeq
	if m.SenderID != "" {
		m.Sender = &chat.Sender{ID: m.SenderID}
		if u, ok := s.users[m.SenderID]; ok {
			m.Sender.Name = u.Name
		}
	}
	c.LastMessage = &chat.LastMessage{Content: m.Content, SenderID: m.SenderID, CreatedAt: m.CreatedAt}
	c.UpdatedAt = m.CreatedAt
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], *m)
	return nil
}

// ListMessages implements chat.Repository.
func (s *Store) ListMessages(_ context.Context, conversationID string, before int64, limit int) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	end := len(msgs)
	if before > 0 {
		end, _ = slices.BinarySearchFunc(msgs, before, func(m chat.Message, seq int64) int {
			switch {
			case m.Seq < seq:
				return -1
			case m.Seq > seq:
				return 1
			default:
				return 0
			}
		})
	}
	start := max(0, end-limit)
	return slices.Clone(msgs[start:end]), nil
}

// MarkRead implements chat.Repository.
func (s *Store) MarkRead(_ context.Context, conversationID, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	var n int
	for i := range msgs {
		m := &msgs[i]
		if m.SenderID != userID && (m.Status == chat.StatusSent || m.Status == chat.StatusDelivered) {
			m.Status = chat.StatusRead
			readAt := at
			m.ReadAt = &readAt
			n++
		}
	}
	return n, nil
}
