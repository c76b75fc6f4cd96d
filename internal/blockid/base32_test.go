package blockid

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_zeroBytes(t *testing.T) {
	for n := 1; n <= 10; n++ {
		enc := Encode(make([]byte, n))
		assert.Equal(t, strings.Repeat("0", EncodedLen(n)), enc)
		dec, err := Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, make([]byte, n), dec)
	}
	assert.Equal(t, "", Encode(nil))
}

func TestEncodeDecode_roundTrip(t *testing.T) {
	inputs := [][]byte{
		{0x01},
		{0xff},
		{0x12, 0x34},
		{0xde, 0xad, 0xbe, 0xef},
		{0x00, 0x00, 0x01},
		{0xff, 0xff, 0xff, 0xff, 0xff},
		[]byte("bunsho"),
	}
	for _, in := range inputs {
		enc := Encode(in)
		assert.Len(t, enc, EncodedLen(len(in)))
		dec, err := Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, in, dec, "round trip of %x via %q", in, enc)
	}
}

func TestEncodeUint64(t *testing.T) {
	for _, v := range []uint64{0, 1, 31, 32, 1023, 1 << 19, 1<<20 - 1} {
		enc := EncodeUint64(v, ShortIDLen)
		require.Len(t, enc, ShortIDLen)
		assert.True(t, IsShortID(enc), enc)
	}
	assert.Equal(t, "ZZZZ", EncodeUint64(1<<20-1, 4))
	assert.Equal(t, "ZZZZ", EncodeUint64(1<<24-1, 4), "high bits are dropped")
	assert.Equal(t, "0000", EncodeUint64(0, 4))
	assert.Equal(t, "000Z", EncodeUint64(31, 4))
	assert.Equal(t, "0010", EncodeUint64(32, 4))
}

func TestDecode_normalisesAmbiguous(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"I", "1"},
		{"i", "1"},
		{"L", "1"},
		{"l", "1"},
		{"O", "0"},
		{"o", "0"},
		{"abcd", "ABCD"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	a, err := Decode("1O")
	require.NoError(t, err)
	b, err := Decode("l0")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecode_invalidSymbol(t *testing.T) {
	for _, in := range []string{"U000", "00-0", "00é0"} {
		_, err := Decode(in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrInvalidSymbol))
		var symErr *SymbolError
		require.True(t, errors.As(err, &symErr))
		assert.Contains(t, err.Error(), string(symErr.Char))
	}
	_, err := Normalize("ZZU")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'U'")
}
