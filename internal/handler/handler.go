// Package handler exposes the coupon engine and chat service over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cookmart/internal/domain/chat"
	"github.com/xenking/cookmart/internal/domain/coupon"
	"github.com/xenking/cookmart/pkg/httpmiddleware"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

// Deps are the domain services behind the API.
type Deps struct {
	Validator *coupon.Validator
	Stats     *coupon.Aggregator
	Ranker    *coupon.Ranker
	Redeemer  *coupon.Redeemer
	Wallet    *coupon.Wallet
	Chat      *chat.Service
	// Realtime serves the websocket endpoint. Optional.
	Realtime http.Handler
}

// Handler serves the REST API.
type Handler struct {
	validator *coupon.Validator
	stats     *coupon.Aggregator
	ranker    *coupon.Ranker
	redeemer  *coupon.Redeemer
	wallet    *coupon.Wallet
	chat      *chat.Service
	realtime  http.Handler
	now       func() time.Time
}

// New creates a Handler.
func New(deps Deps) *Handler {
	return &Handler{
		validator: deps.Validator,
		stats:     deps.Stats,
		ranker:    deps.Ranker,
		redeemer:  deps.Redeemer,
		wallet:    deps.Wallet,
		chat:      deps.Chat,
		realtime:  deps.Realtime,
		now:       time.Now,
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		fn      http.HandlerFunc
	}{
		{"POST /api/coupons/validate", h.ValidateCoupon},
		{"POST /api/coupons/available", h.AvailableCoupons},
		{"POST /api/coupons/redeem", h.RedeemCoupon},
		{"POST /api/coupons/{code}/save", h.SaveCoupon},
		{"GET /api/coupons/mine", h.MyCoupons},
		{"POST /api/conversations/{id}/messages", h.SendMessage},
		{"GET /api/conversations/{id}/messages", h.ListMessages},
		{"POST /api/conversations/{id}/read", h.MarkRead},
	}
	for _, rt := range routes {
		mux.Handle(rt.pattern, httpmiddleware.Route(rt.pattern, rt.fn))
	}
	if h.realtime != nil {
		mux.Handle("GET /ws", httpmiddleware.Route("GET /ws", h.realtime))
	}
}

// userID returns the caller identity or writes 401.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(UserIDHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserIDHeader+" header")
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := &jx.Encoder{}
	encode(e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError writes {"code": status, "message": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}

// fail maps a domain error to a response. Unknown errors are logged and
// reported as 500 without details.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, coupon.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, coupon.ErrAlreadySaved),
		errors.Is(err, coupon.ErrPerUserLimitReached),
		errors.Is(err, coupon.ErrOrderConflict):
		status = http.StatusConflict
	case errors.Is(err, coupon.ErrOrderIDRequired),
		errors.Is(err, chat.ErrEmptyContent):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrNotParticipant):
		status = http.StatusForbidden
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func badRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, err.Error())
}
