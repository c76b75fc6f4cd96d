package blockid

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Alphabet is the 32-symbol code alphabet. I, L, O and U are left out so a
// code survives being read aloud or copied by hand.
const Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ErrInvalidSymbol is wrapped by every decode failure caused by a character
// outside the alphabet.
var ErrInvalidSymbol = errors.New("invalid base32 symbol")

// SymbolError names the offending character and its position.
type SymbolError struct {
	Char rune
	Pos  int
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("invalid base32 symbol %q at position %d", e.Char, e.Pos)
}

func (e *SymbolError) Unwrap() error { return ErrInvalidSymbol }

func symbolError(s string, i int) *SymbolError {
	r, _ := utf8.DecodeRuneInString(s[i:])
	return &SymbolError{Char: r, Pos: i}
}

var decodeMap [256]int8

func init() {
	for i := range decodeMap {
		decodeMap[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		c := Alphabet[i]
		decodeMap[c] = int8(i)
		if c >= 'A' && c <= 'Z' {
			decodeMap[c+('a'-'A')] = int8(i)
		}
	}
	// handwriting normalisation
	for _, c := range []byte{'I', 'i', 'L', 'l'} {
		decodeMap[c] = 1
	}
	decodeMap['O'] = 0
	decodeMap['o'] = 0
}

// EncodedLen returns the number of symbols Encode produces for n bytes.
func EncodedLen(n int) int {
	return (n*8 + 4) / 5
}

// Encode renders data as a fixed-length big-endian symbol string. Missing
// high bits are zero-filled, so zero bytes encode to runs of '0' and never
// to padding.
func Encode(data []byte) string {
	symbols := EncodedLen(len(data))
	pad := symbols*5 - len(data)*8
	out := make([]byte, symbols)
	for i := 0; i < symbols; i++ {
		var v byte
		for b := 0; b < 5; b++ {
			v <<= 1
			p := i*5 + b - pad
			if p >= 0 && data[p/8]&(0x80>>(p%8)) != 0 {
				v |= 1
			}
		}
		out[i] = Alphabet[v]
	}
	return string(out)
}

// Decode reverses Encode. Lowercase input is accepted, I and L decode as 1
// and O as 0. The result holds len(s)*5/8 bytes; set bits that do not fit
// are reported as an overflow.
func Decode(s string) ([]byte, error) {
	n := len(s) * 5 / 8
	pad := len(s)*5 - n*8
	out := make([]byte, n)
	for i := 0; i < len(s); i++ {
		v := decodeMap[s[i]]
		if v < 0 {
			return nil, symbolError(s, i)
		}
		for b := 0; b < 5; b++ {
			if v&(0x10>>b) == 0 {
				continue
			}
			p := i*5 + b - pad
			if p < 0 {
				return nil, fmt.Errorf("base32 value %q overflows %d bytes", s, n)
			}
			out[p/8] |= 0x80 >> (p % 8)
		}
	}
	return out, nil
}

// EncodeUint64 renders v as exactly width symbols, most significant first.
// Bits above 5*width are discarded.
func EncodeUint64(v uint64, width int) string {
	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = Alphabet[v&0x1f]
		v >>= 5
	}
	return string(out)
}

// Normalize upper-cases a code and folds I, L and O onto their canonical
// symbols. It fails on anything else outside the alphabet.
func Normalize(s string) (string, error) {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		d := decodeMap[s[i]]
		if d < 0 {
			return "", symbolError(s, i)
		}
		out[i] = Alphabet[d]
	}
	return string(out), nil
}
