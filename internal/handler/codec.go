package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/cookmart/internal/domain/chat"
	"github.com/xenking/cookmart/internal/domain/coupon"
	"github.com/xenking/cookmart/internal/realtime"
)

const maxBodySize = 1 << 20

// readBody returns the request body, capped at maxBodySize.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return b, nil
}

// decodeObject calls fn for every field of the JSON object in b. An empty
// body decodes as an empty object.
func decodeObject(b []byte, fn func(d *jx.Decoder, key string) error) error {
	if len(b) == 0 {
		return nil
	}
	return jx.DecodeBytes(b).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	})
}

// decodeDecimal reads a JSON number or numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		return decimal.Zero, errors.Errorf("expected number, got %s", d.Next())
	}
}

func decodeItems(d *jx.Decoder) ([]coupon.Item, error) {
	var items []coupon.Item
	err := d.Arr(func(d *jx.Decoder) error {
		var it coupon.Item
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			switch string(key) {
			case "productId":
				v, err := d.Str()
				it.ProductID = v
				return err
			case "category":
				v, err := d.Str()
				it.Category = v
				return err
			case "price":
				v, err := decodeDecimal(d)
				it.Price = v
				return err
			case "quantity":
				v, err := d.Int()
				it.Quantity = v
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode items")
	}
	return items, nil
}

// cart is the order context shared by the coupon endpoints.
type cart struct {
	Code       string
	Codes      []string
	OrderID    string
	OrderValue decimal.Decimal
	Items      []coupon.Item
}

func decodeCart(b []byte) (cart, error) {
	var c cart
	err := decodeObject(b, func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Str()
			c.Code = v
			return err
		case "codes":
			return d.Arr(func(d *jx.Decoder) error {
				v, err := d.Str()
				c.Codes = append(c.Codes, v)
				return err
			})
		case "orderId":
			v, err := d.Str()
			c.OrderID = v
			return err
		case "orderValue":
			v, err := decodeDecimal(d)
			c.OrderValue = v
			return err
		case "items":
			v, err := decodeItems(d)
			c.Items = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return cart{}, errors.Wrap(err, "decode request")
	}
	if c.OrderValue.IsNegative() {
		return cart{}, errors.New("orderValue must not be negative")
	}
	return c, nil
}

// encodeMoney writes d as a JSON number with its exact decimal digits.
func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

func encodeDiscount(e *jx.Encoder, d coupon.Discount) {
	e.ObjStart()
	e.FieldStart("type")
	e.Str(string(d.Type))
	e.FieldStart("value")
	encodeMoney(e, d.Value)
	if d.MaxDiscount.Valid {
		e.FieldStart("maxDiscount")
		encodeMoney(e, d.MaxDiscount.Decimal)
	}
	if d.MinOrderValue.Valid {
		e.FieldStart("minOrderValue")
		encodeMoney(e, d.MinOrderValue.Decimal)
	}
	e.ObjEnd()
}

func encodePublic(e *jx.Encoder, p *coupon.Public) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("code")
	e.Str(p.Code)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("discount")
	encodeDiscount(e, p.Discount)
	e.ObjEnd()
}

// encodeResultFields writes the fields of a validation result into an open
// object.
func encodeResultFields(e *jx.Encoder, res *coupon.Result) {
	e.FieldStart("valid")
	e.Bool(res.Valid)
	e.FieldStart("reason")
	e.Str(string(res.Reason))
	e.FieldStart("message")
	e.Str(res.Message)
	if res.FailedRule != "" {
		e.FieldStart("failedRule")
		e.Str(res.FailedRule)
	}
	if res.Valid {
		e.FieldStart("discount")
		encodeMoney(e, res.Discount)
		e.FieldStart("finalPrice")
		encodeMoney(e, res.FinalPrice)
	}
	if res.Coupon != nil {
		e.FieldStart("coupon")
		encodePublic(e, res.Coupon)
	}
}

func encodeResult(e *jx.Encoder, res *coupon.Result) {
	e.ObjStart()
	encodeResultFields(e, res)
	e.ObjEnd()
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeUserCoupon(e *jx.Encoder, uc *coupon.UserCoupon, now time.Time) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(uc.ID)
	e.FieldStart("couponId")
	e.Str(uc.CouponID)
	e.FieldStart("status")
	e.Str(string(uc.EffectiveStatus(now)))
	e.FieldStart("savedAt")
	encodeTime(e, uc.SavedAt)
	e.FieldStart("expiresAt")
	encodeTime(e, uc.ExpiresAt)
	if uc.UsedAt != nil {
		e.FieldStart("usedAt")
		encodeTime(e, *uc.UsedAt)
	}
	if uc.OrderID != "" {
		e.FieldStart("orderId")
		e.Str(uc.OrderID)
		e.FieldStart("discountAmount")
		encodeMoney(e, uc.DiscountAmount)
	}
	e.ObjEnd()
}

func encodeAvailable(e *jx.Encoder, a *coupon.Available) {
	e.ObjStart()
	e.FieldStart("coupon")
	encodePublic(e, a.Coupon.Public())
	e.FieldStart("endAt")
	encodeTime(e, a.Coupon.EndAt)
	e.FieldStart("eligible")
	e.Bool(a.Eligible)
	e.FieldStart("reason")
	e.Str(string(a.Reason))
	e.FieldStart("message")
	e.Str(a.Message)
	e.FieldStart("isSaved")
	e.Bool(a.IsSaved)
	e.ObjEnd()
}

// sendRequest is the body of POST /api/conversations/{id}/messages.
type sendRequest struct {
	Type    chat.MessageType
	Content string
}

func decodeSendRequest(b []byte) (sendRequest, error) {
	var req sendRequest
	err := decodeObject(b, func(d *jx.Decoder, key string) error {
		switch key {
		case "type":
			v, err := d.Str()
			req.Type = chat.MessageType(v)
			return err
		case "content":
			v, err := d.Str()
			req.Content = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return sendRequest{}, errors.Wrap(err, "decode request")
	}
	switch req.Type {
	case "", chat.MessageText, chat.MessageImage, chat.MessageProduct:
	default:
		return sendRequest{}, errors.Errorf("unsupported message type %q", req.Type)
	}
	return req, nil
}

func encodeMessages(e *jx.Encoder, msgs []chat.Message) {
	e.ObjStart()
	e.FieldStart("messages")
	e.ArrStart()
	for i := range msgs {
		realtime.EncodeMessage(e, &msgs[i])
	}
	e.ArrEnd()
	e.ObjEnd()
}
