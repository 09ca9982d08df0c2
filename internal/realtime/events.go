package realtime

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/cookmart/internal/domain/chat"
)

// Inbound events.
const (
	EventUserJoin          = "user:join"
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventUserOnline        = "user:online"
)

// Outbound events. EventMessageRead is also accepted inbound and relayed.
const (
	EventUserTyping  = "user:typing"
	EventUserStatus  = "user:status"
	EventMessageNew  = "message:new"
	EventMessageRead = "message:read"
)

// Room names.
func userRoom(id string) string         { return "user:" + id }
func conversationRoom(id string) string { return "conversation:" + id }

// frame encodes an {"event","data"} envelope.
func frame(event string, data func(e *jx.Encoder)) []byte {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("event")
	e.Str(event)
	e.FieldStart("data")
	data(e)
	e.ObjEnd()
	return e.Bytes()
}

// decodeFrame splits an inbound envelope into its event name and raw data.
func decodeFrame(b []byte) (event string, data jx.Raw, err error) {
	d := jx.DecodeBytes(b)
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "event":
			v, err := d.Str()
			if err != nil {
				return err
			}
			event = v
			return nil
		case "data":
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			data = raw
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "decode frame")
	}
	if event == "" {
		return "", nil, errors.New("frame has no event")
	}
	return event, data, nil
}

// decodeID reads an id sent either as a bare string or as an object field.
func decodeID(raw jx.Raw, field string) (string, error) {
	d := jx.DecodeBytes(raw)
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Object:
		var id string
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != field {
				return d.Skip()
			}
			v, err := d.Str()
			id = v
			return err
		})
		return id, err
	default:
		return "", errors.Errorf("expected %s as string or object", field)
	}
}

// typing is the payload of typing:start, typing:stop and user:typing.
type typing struct {
	ConversationID string
	UserID         string
	UserName       string
}

func (t *typing) decode(raw jx.Raw) error {
	return jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "conversationId":
			t.ConversationID, err = d.Str()
		case "userId":
			t.UserID, err = d.Str()
		case "userName":
			t.UserName, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

func (t *typing) encode(e *jx.Encoder, active bool) {
	e.ObjStart()
	e.FieldStart("conversationId")
	e.Str(t.ConversationID)
	e.FieldStart("userId")
	e.Str(t.UserID)
	e.FieldStart("userName")
	e.Str(t.UserName)
	e.FieldStart("isTyping")
	e.Bool(active)
	e.ObjEnd()
}

// readReceipt is the payload of message:read.
type readReceipt struct {
	ConversationID string
	UserID         string
	ReadAt         time.Time
}

func (r *readReceipt) decode(raw jx.Raw) error {
	return jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "conversationId":
			v, err := d.Str()
			r.ConversationID = v
			return err
		case "userId":
			v, err := d.Str()
			r.UserID = v
			return err
		case "readAt":
			v, err := d.Str()
			if err != nil {
				return err
			}
			at, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return errors.Wrap(err, "parse readAt")
			}
			r.ReadAt = at
			return nil
		default:
			return d.Skip()
		}
	})
}

func (r *readReceipt) encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("conversationId")
	e.Str(r.ConversationID)
	e.FieldStart("userId")
	e.Str(r.UserID)
	e.FieldStart("readAt")
	e.Str(r.ReadAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

func encodeStatus(e *jx.Encoder, userID, status string) {
	e.ObjStart()
	e.FieldStart("userId")
	e.Str(userID)
	e.FieldStart("status")
	e.Str(status)
	e.ObjEnd()
}

// EncodeMessage writes m in its wire form.
func EncodeMessage(e *jx.Encoder, m *chat.Message) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(m.ID)
	e.FieldStart("conversationId")
	e.Str(m.ConversationID)
	e.FieldStart("seq")
	e.Int64(m.Seq)
	e.FieldStart("senderId")
	if m.SenderID == "" {
		e.Null()
	} else {
		e.Str(m.SenderID)
	}
	e.FieldStart("sender")
	if m.Sender == nil {
		e.Null()
	} else {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(m.Sender.ID)
		e.FieldStart("name")
		e.Str(m.Sender.Name)
		e.ObjEnd()
	}
	e.FieldStart("type")
	e.Str(string(m.Type))
	e.FieldStart("content")
	e.Str(m.Content)
	e.FieldStart("status")
	e.Str(string(m.Status))
	e.FieldStart("createdAt")
	e.Str(m.CreatedAt.UTC().Format(time.RFC3339Nano))
	if m.ReadAt != nil {
		e.FieldStart("readAt")
		e.Str(m.ReadAt.UTC().Format(time.RFC3339Nano))
	}
	e.ObjEnd()
}
