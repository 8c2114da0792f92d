package attribute

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"iotc-agent/internal/model"
)

type convKey struct {
	encoding model.Encoding
	target   model.SemanticType
}

// convertFunc returns the converted value, or a non-empty reason when raw
// does not fit the expected layout.
type convertFunc func(raw any) (any, string)

var converters = map[convKey]convertFunc{
	{model.EncodingBinary, model.TypeInt}:     binaryUint,
	{model.EncodingBinary, model.TypeLong}:    binaryUint,
	{model.EncodingBinary, model.TypeFloat}:   binaryFloat32,
	{model.EncodingBinary, model.TypeString}:  binaryString,
	{model.EncodingBinary, model.TypeBoolean}: binaryBool,
	{model.EncodingBinary, model.TypeBit}:     binaryBit,

	{model.EncodingASCII, model.TypeInt}:     asciiInt,
	{model.EncodingASCII, model.TypeLong}:    asciiInt,
	{model.EncodingASCII, model.TypeFloat}:   asciiFloat,
	{model.EncodingASCII, model.TypeString}:  asciiString,
	{model.EncodingASCII, model.TypeBit}:     asciiBit,
	{model.EncodingASCII, model.TypeBoolean}: asciiBool,
}

// falsy holds the ASCII spellings that decode to false.
var falsy = map[string]struct{}{
	"False": {},
	"false": {},
	"0":     {},
	"":      {},
}

func rawBytes(raw any) ([]byte, bool) {
	switch v := raw.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	}
	return nil, false
}

func rawText(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), true
	case []byte:
		return strings.TrimSpace(string(v)), true
	}
	return "", false
}

func binaryUint(raw any) (any, string) {
	b, ok := rawBytes(raw)
	if !ok {
		return nil, fmt.Sprintf("unexpected raw type %T", raw)
	}
	if len(b) == 0 || len(b) > 8 {
		return nil, fmt.Sprintf("want 1..8 bytes, got %d", len(b))
	}
	var n uint64
	for _, c := range b {
		n = n<<8 | uint64(c)
	}
	return n, ""
}

// Single precision floats are read in the device's native (little-endian) order.
func binaryFloat32(raw any) (any, string) {
	b, ok := rawBytes(raw)
	if !ok {
		return nil, fmt.Sprintf("unexpected raw type %T", raw)
	}
	if len(b) != 4 {
		return nil, fmt.Sprintf("want 4 bytes, got %d", len(b))
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), ""
}

func binaryString(raw any) (any, string) {
	b, ok := rawBytes(raw)
	if !ok {
		return nil, fmt.Sprintf("unexpected raw type %T", raw)
	}
	if !utf8.Valid(b) {
		return nil, "invalid utf-8"
	}
	return string(b), ""
}

func binaryBool(raw any) (any, string) {
	b, ok := rawBytes(raw)
	if !ok {
		return nil, fmt.Sprintf("unexpected raw type %T", raw)
	}
	if len(b) != 1 {
		return nil, fmt.Sprintf("want 1 byte, got %d", len(b))
	}
	return b[0] != 0, ""
}

func binaryBit(raw any) (any, string) {
	v, reason := binaryBool(raw)
	if reason != "" {
		return nil, reason
	}
	return boolBit(v.(bool)), ""
}

func asciiFloat(raw any) (any, string) {
	s, ok := rawText(raw)
	if !ok {
		return nil, fmt.Sprintf("unexpected raw type %T", raw)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Sprintf("not a number: %q", s)
	}
	return f, ""
}

func asciiInt(raw any) (any, string) {
	v, reason := asciiFloat(raw)
	if reason != "" {
		return nil, reason
	}
	f := v.(float64)
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Sprintf("%v does not fit an integer", f)
	}
	return int64(f), ""
}

func asciiString(raw any) (any, string) {
	s, ok := rawText(raw)
	if !ok {
		return nil, fmt.Sprintf("unexpected raw type %T", raw)
	}
	return s, ""
}

func asciiBit(raw any) (any, string) {
	v, reason := asciiInt(raw)
	if reason != "" {
		return nil, reason
	}
	return boolBit(v.(int64) != 0), ""
}

func asciiBool(raw any) (any, string) {
	switch v := raw.(type) {
	case bool:
		return v, ""
	case int:
		return v != 0, ""
	case int64:
		return v != 0, ""
	case uint64:
		return v != 0, ""
	}
	s, ok := rawText(raw)
	if !ok {
		return nil, fmt.Sprintf("unexpected raw type %T", raw)
	}
	_, isFalse := falsy[s]
	return !isFalse, ""
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}
