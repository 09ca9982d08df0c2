package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/cookmart/internal/domain/coupon"
)

// maxBatchCodes bounds the codes checked in one validate call.
const maxBatchCodes = 50

// ValidateCoupon checks one code, or several codes against the same cart.
// Rejections are 200 responses with valid=false. Codes in one call share a
// single user stats aggregation.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	b, err := readBody(w, r)
	if err != nil {
		badRequest(w, err)
		return
	}
	c, err := decodeCart(b)
	if err != nil {
		badRequest(w, err)
		return
	}

	ctx := r.Context()
	if len(c.Codes) == 0 {
		res, err := h.validator.Validate(ctx, coupon.ValidateRequest{
			UserID:     uid,
			Code:       c.Code,
			OrderValue: c.OrderValue,
			Items:      c.Items,
		})
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeResult(e, res) })
		return
	}

	if len(c.Codes) > maxBatchCodes {
		badRequest(w, errors.Errorf("at most %d codes per request", maxBatchCodes))
		return
	}
	memo := h.stats.Memo(uid)
	results := make([]*coupon.Result, 0, len(c.Codes))
	for _, code := range c.Codes {
		res, err := h.validator.ValidateWith(ctx, coupon.ValidateRequest{
			UserID:     uid,
			Code:       code,
			OrderValue: c.OrderValue,
			Items:      c.Items,
		}, memo)
		if err != nil {
			fail(w, r, err)
			return
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("results")
		e.ArrStart()
		for _, res := range results {
			encodeResult(e, res)
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// AvailableCoupons lists active coupons annotated for the caller's cart.
func (h *Handler) AvailableCoupons(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	b, err := readBody(w, r)
	if err != nil {
		badRequest(w, err)
		return
	}
	c, err := decodeCart(b)
	if err != nil {
		badRequest(w, err)
		return
	}

	list, err := h.ranker.ListAvailable(r.Context(), uid, c.OrderValue, c.Items)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("coupons")
		e.ArrStart()
		for i := range list {
			encodeAvailable(e, &list[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// RedeemCoupon consumes a coupon for an order. Retrying with the same orderId
// returns the original redemption with replayed=true.
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	b, err := readBody(w, r)
	if err != nil {
		badRequest(w, err)
		return
	}
	c, err := decodeCart(b)
	if err != nil {
		badRequest(w, err)
		return
	}

	red, err := h.redeemer.Redeem(r.Context(), coupon.RedeemRequest{
		ValidateRequest: coupon.ValidateRequest{
			UserID:     uid,
			Code:       c.Code,
			OrderValue: c.OrderValue,
			Items:      c.Items,
		},
		OrderID: c.OrderID,
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	status := http.StatusOK
	if red.Record != nil && !red.Replayed {
		status = http.StatusCreated
	}
	now := h.now()
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		encodeResultFields(e, red.Result)
		e.FieldStart("replayed")
		e.Bool(red.Replayed)
		if red.Record != nil {
			e.FieldStart("redemption")
			encodeUserCoupon(e, red.Record, now)
		}
		e.ObjEnd()
	})
}

// SaveCoupon stores a coupon in the caller's wallet.
func (h *Handler) SaveCoupon(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	uc, err := h.wallet.Save(r.Context(), uid, r.PathValue("code"))
	if err != nil {
		fail(w, r, err)
		return
	}
	now := h.now()
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeUserCoupon(e, uc, now) })
}

// MyCoupons lists the caller's saved, used and expired coupons.
func (h *Handler) MyCoupons(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	records, err := h.wallet.List(r.Context(), uid)
	if err != nil {
		fail(w, r, err)
		return
	}
	now := h.now()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("coupons")
		e.ArrStart()
		for i := range records {
			encodeUserCoupon(e, &records[i], now)
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}
