package handler

import (
	"testing"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "30000", want: "30000"},
		{in: "1234.57", want: "1234.57"},
		{in: "0", want: "0"},
		{in: "99999999999999999.99", want: "99999999999999999.99"},
		{in: "1234567890123456789012", want: "1234567890123456789012"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e := &jx.Encoder{}
			encodeMoney(e, decimal.RequireFromString(tt.in))
			assert.Equal(t, tt.want, e.String())

			// Round-trips through the request decoder without loss.
			got, err := decodeDecimal(jx.DecodeBytes(e.Bytes()))
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.in).Equal(got), got.String())
		})
	}
}
