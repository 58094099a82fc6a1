// Package canonical turns a flat identity claim into the byte string that
// gets signed and verified.
//
// The encoding is compact JSON with keys sorted by byte order:
//
//	{"id_number":"X123","over_18":true,"over_21":false}
//
// Strings escape only '"', '\\' and control characters, and numbers use the
// shortest round-trip form, so the output matches what a JavaScript
// JSON.stringify over sorted keys produces for the same claim.
package canonical

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrEncoding is returned for claims that have no canonical form.
var ErrEncoding = errors.New("canonical encoding error")

// Claim is a flat mapping of attribute names to string, bool, number or nil.
type Claim map[string]any

// Encode returns the canonical message for c.
func Encode(c Claim) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: claim is nil", ErrEncoding)
	}
	if len(c) == 0 {
		return nil, fmt.Errorf("%w: claim is empty", ErrEncoding)
	}

	keys := make([]string, 0, len(c))
	for k := range c {
		if !utf8.ValidString(k) {
			return nil, fmt.Errorf("%w: key %q is not valid UTF-8", ErrEncoding, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeString(&b, k)
		b.WriteByte(':')
		if err := writeValue(&b, c[k]); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrEncoding, k, err)
		}
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func writeValue(b *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		if !utf8.ValidString(x) {
			return errors.New("string is not valid UTF-8")
		}
		writeString(b, x)
	case *string:
		if x == nil {
			b.WriteString("null")
			return nil
		}
		return writeValue(b, *x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("invalid number %q", x.String())
		}
		return writeFloat(b, f)
	case float64:
		return writeFloat(b, x)
	case float32:
		return writeFloat(b, float64(x))
	case int, int8, int16, int32, int64:
		b.WriteString(strconv.FormatInt(reflect.ValueOf(x).Int(), 10))
	case uint, uint8, uint16, uint32, uint64:
		b.WriteString(strconv.FormatUint(reflect.ValueOf(x).Uint(), 10))
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

func writeFloat(b *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %v", f)
	}
	if f == 0 {
		// covers -0
		b.WriteByte('0')
		return nil
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	// Go pads the exponent to two digits ("1e-07"); the canonical form does not.
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[:1]
	digits := strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	b.WriteString(mant)
	b.WriteByte('e')
	b.WriteString(sign)
	b.WriteString(digits)
	return nil
}

const hexDigits = "0123456789abcdef"

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hexDigits[c>>4])
				b.WriteByte(hexDigits[c&0xf])
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
}
