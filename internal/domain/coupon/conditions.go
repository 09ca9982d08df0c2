package coupon

import (
	"bytes"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// EncodeConditions writes conds as a JSON array of {"rule","value"} objects.
func EncodeConditions(e *jx.Encoder, conds []Condition) {
	e.ArrStart()
	for _, c := range conds {
		e.ObjStart()
		e.FieldStart("rule")
		e.Str(c.Rule)
		e.FieldStart("value")
		if len(c.Value) == 0 {
			e.Null()
		} else {
			e.Raw(c.Value)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

// MarshalConditions returns the JSON form of conds.
func MarshalConditions(conds []Condition) []byte {
	e := &jx.Encoder{}
	EncodeConditions(e, conds)
	return e.Bytes()
}

// DecodeConditions reads a JSON array of conditions. Values are kept raw and
// interpreted by the rule that owns them.
func DecodeConditions(d *jx.Decoder) ([]Condition, error) {
	var conds []Condition
	err := d.Arr(func(d *jx.Decoder) error {
		var c Condition
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			switch string(key) {
			case "rule":
				v, err := d.Str()
				c.Rule = v
				return err
			case "value":
				raw, err := d.Raw()
				if err != nil {
					return err
				}
				c.Value = Value(bytes.Clone(raw))
				return nil
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		if c.Rule == "" {
			return errors.New("condition without rule")
		}
		conds = append(conds, c)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode conditions")
	}
	return conds, nil
}

// UnmarshalConditions parses the JSON form of conditions. Empty input yields
// no conditions.
func UnmarshalConditions(b []byte) ([]Condition, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	return DecodeConditions(jx.DecodeBytes(b))
}
