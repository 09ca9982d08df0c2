package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/cookmart/internal/domain/chat"
	"github.com/xenking/cookmart/internal/realtime"
)

// SendMessage stores a message from the caller and pushes it to the
// conversation room.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	b, err := readBody(w, r)
	if err != nil {
		badRequest(w, err)
		return
	}
	req, err := decodeSendRequest(b)
	if err != nil {
		badRequest(w, err)
		return
	}

	m, err := h.chat.Send(r.Context(), chat.SendRequest{
		ConversationID: r.PathValue("id"),
		SenderID:       uid,
		Type:           req.Type,
		Content:        req.Content,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { realtime.EncodeMessage(e, m) })
}

// ListMessages pages the conversation history backwards. The before query
// parameter is an exclusive sequence number; omit it for the latest page.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	before, err := queryInt(r, "before")
	if err != nil {
		badRequest(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		badRequest(w, err)
		return
	}

	msgs, err := h.chat.History(r.Context(), r.PathValue("id"), uid, before, int(limit))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeMessages(e, msgs) })
}

// MarkRead marks the messages the caller received as read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	n, err := h.chat.MarkRead(r.Context(), r.PathValue("id"), uid)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("updated")
		e.Int(n)
		e.ObjEnd()
	})
}

func queryInt(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}
