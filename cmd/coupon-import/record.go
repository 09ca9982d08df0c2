package main

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/cookmart/internal/domain/coupon"
)

// record is one line of an import file: a coupon definition, or a tombstone
// when Deleted is set.
type record struct {
	Coupon  coupon.Coupon
	Deleted bool
	// Source is "file:line" for log messages.
	Source string
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		v, err := d.Str()
		out = append(out, v)
		return err
	})
	return out, err
}

func decodeNumber(d *jx.Decoder) (decimal.Decimal, error) {
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

func decodeNullNumber(d *jx.Decoder) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	v, err := decodeNumber(d)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}

func decodeDiscount(d *jx.Decoder, out *coupon.Discount) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "type":
			var s string
			s, err = d.Str()
			out.Type = coupon.DiscountType(s)
		case "value":
			out.Value, err = decodeNumber(d)
		case "maxDiscount":
			out.MaxDiscount, err = decodeNullNumber(d)
		case "minOrderValue":
			out.MinOrderValue, err = decodeNullNumber(d)
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, string(key))
	})
}

func decodeScope(d *jx.Decoder, out *coupon.Scope) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "sellerId":
			out.SellerID, err = d.Str()
		case "products":
			out.Products, err = decodeStrings(d)
		case "categories":
			out.Categories, err = decodeStrings(d)
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, string(key))
	})
}

// decodeRecord parses one import line. Omitted isActive defaults to true.
func decodeRecord(line []byte) (record, error) {
	r := record{Coupon: coupon.Coupon{IsActive: true}}
	c := &r.Coupon

	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			c.ID, err = d.Str()
		case "code":
			c.Code, err = d.Str()
		case "description":
			c.Description, err = d.Str()
		case "discount":
			err = decodeDiscount(d, &c.Discount)
		case "scope":
			err = decodeScope(d, &c.Scope)
		case "conditions":
			c.Conditions, err = coupon.DecodeConditions(d)
		case "usageLimit":
			c.Limits.UsageLimit, err = d.Int()
		case "perUserLimit":
			c.Limits.PerUserLimit, err = d.Int()
		case "eligibleUsers":
			c.EligibleUsers, err = decodeStrings(d)
		case "excludedUsers":
			c.ExcludedUsers, err = decodeStrings(d)
		case "startAt":
			c.StartAt, err = decodeTime(d)
		case "endAt":
			c.EndAt, err = decodeTime(d)
		case "isActive":
			c.IsActive, err = d.Bool()
		case "deleted":
			r.Deleted, err = d.Bool()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, string(key))
	})
	if err != nil {
		return record{}, errors.Wrap(err, "decode coupon")
	}

	c.Code = coupon.NormalizeCode(c.Code)
	if c.Code == "" {
		return record{}, errors.New("coupon without code")
	}
	if r.Deleted {
		return r, nil
	}
	if err := check(c); err != nil {
		return record{}, errors.Wrap(err, c.Code)
	}
	return r, nil
}

// check rejects definitions the database constraints would refuse.
func check(c *coupon.Coupon) error {
	switch c.Discount.Type {
	case coupon.DiscountPercent:
		if c.Discount.Value.GreaterThan(decimal.NewFromInt(100)) {
			return errors.New("percent discount above 100")
		}
	case coupon.DiscountFixed, coupon.DiscountFreeShip:
	default:
		return errors.Errorf("unknown discount type %q", c.Discount.Type)
	}
	switch {
	case c.Discount.Value.IsNegative():
		return errors.New("negative discount value")
	case c.Limits.UsageLimit < 0 || c.Limits.PerUserLimit < 0:
		return errors.New("negative limit")
	case c.StartAt.IsZero() || c.EndAt.IsZero():
		return errors.New("startAt and endAt are required")
	case c.EndAt.Before(c.StartAt):
		return errors.New("endAt before startAt")
	}
	if strings.ContainsAny(c.Code, " \t") {
		return errors.New("code contains whitespace")
	}
	return nil
}
