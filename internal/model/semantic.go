package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Encoding is how an attribute's source file stores its value.
type Encoding string

const (
	EncodingASCII  Encoding = "ASCII"
	EncodingBinary Encoding = "BINARY"
)

// ParseEncoding accepts the private_data_type values of the device configuration.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ASCII":
		return EncodingASCII, nil
	case "BINARY":
		return EncodingBinary, nil
	}
	return "", fmt.Errorf("unknown encoding %q", s)
}

// SemanticType is the conversion target declared for an attribute.
// The zero value means no conversion was requested.
type SemanticType int

const (
	TypeUnspecified SemanticType = iota
	TypeInt
	TypeLong
	TypeFloat
	TypeString
	TypeBoolean
	TypeBit
)

var semanticNames = map[SemanticType]string{
	TypeUnspecified: "UNSPECIFIED",
	TypeInt:         "INT",
	TypeLong:        "LONG",
	TypeFloat:       "FLOAT",
	TypeString:      "STRING",
	TypeBoolean:     "BOOLEAN",
	TypeBit:         "BIT",
}

func (t SemanticType) String() string {
	if name, ok := semanticNames[t]; ok {
		return name
	}
	return "SemanticType(" + strconv.Itoa(int(t)) + ")"
}

// ParseSemanticType maps a declared type name to a SemanticType. Unknown
// names map to TypeUnspecified.
func ParseSemanticType(s string) SemanticType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INT", "INTEGER":
		return TypeInt
	case "LONG":
		return TypeLong
	case "FLOAT", "DECIMAL":
		return TypeFloat
	case "STRING":
		return TypeString
	case "BOOLEAN", "BOOL":
		return TypeBoolean
	case "BIT":
		return TypeBit
	}
	return TypeUnspecified
}

func (t SemanticType) MarshalJSON() ([]byte, error) {
	return jsonStd.Marshal(t.String())
}

// UnmarshalJSON accepts either a type name or its numeric code. The numeric
// codes follow the declaration order above; names are the stable form.
func (t *SemanticType) UnmarshalJSON(b []byte) error {
	var code int
	if err := jsonStd.Unmarshal(b, &code); err == nil {
		if _, known := semanticNames[SemanticType(code)]; known {
			*t = SemanticType(code)
		} else {
			*t = TypeUnspecified
		}
		return nil
	}

	var name string
	if err := jsonStd.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("SemanticType: cannot unmarshal %s", string(b))
	}
	*t = ParseSemanticType(name)
	return nil
}
