package seed

import (
	"context"

	"github.com/xenking/cookmart/internal/domain/chat"
	"github.com/xenking/cookmart/internal/domain/coupon"
	"github.com/xenking/cookmart/internal/storage/memory"
)

var _ Sink = memorySink{}

type memorySink struct {
	s *memory.Store
}

// MemorySink loads rows into an in-memory store.
func MemorySink(s *memory.Store) Sink {
	return memorySink{s: s}
}

func (m memorySink) PutUser(_ context.Context, u coupon.User) error {
	m.s.PutUser(u)
	return nil
}

func (m memorySink) PutOrder(_ context.Context, o Order) error {
	m.s.AddOrder(memory.Order{ID: o.ID, UserID: o.UserID, Status: o.Status, Total: o.Total})
	return nil
}

func (m memorySink) PutFollow(_ context.Context, f Follow) error {
	m.s.Follow(f.UserID, f.SellerID, f.At)
	return nil
}

func (m memorySink) PutCoupon(_ context.Context, c *coupon.Coupon) error {
	m.s.PutCoupon(*c)
	return nil
}

func (m memorySink) PutConversation(_ context.Context, c chat.Conversation) error {
	m.s.PutConversation(c)
	return nil
}
