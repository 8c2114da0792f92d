// Package attribute reads file-backed device values and converts them to the
// semantic type declared for them.
package attribute

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"iotc-agent/internal/model"
)

var (
	ErrNotFound      = errors.New("attribute source not found")
	ErrDecodeFailure = errors.New("attribute decode failure")
)

// DecodeError reports a raw value whose layout does not fit the requested
// target type. It is scoped to a single attribute.
type DecodeError struct {
	Attribute string
	Encoding  model.Encoding
	Target    model.SemanticType
	Reason    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("attribute %q: cannot decode %s as %s: %s", e.Attribute, e.Encoding, e.Target, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrDecodeFailure
}

// Descriptor describes one device-exposed value. It is immutable once built.
type Descriptor struct {
	Name       string
	SourcePath string
	Encoding   model.Encoding
}

func New(name, sourcePath string, encoding model.Encoding) *Descriptor {
	return &Descriptor{
		Name:       name,
		SourcePath: sourcePath,
		Encoding:   encoding,
	}
}

// ReadRaw returns the current contents of the source file: a string for ASCII
// attributes and a []byte for BINARY ones.
func (d *Descriptor) ReadRaw() (any, error) {
	b, err := os.ReadFile(d.SourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", d.SourcePath, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", d.SourcePath, err)
	}

	switch d.Encoding {
	case model.EncodingASCII:
		return string(b), nil
	case model.EncodingBinary:
		return b, nil
	}
	return nil, fmt.Errorf("attribute %q: unknown encoding %q", d.Name, d.Encoding)
}

// Value reads the source and converts it to target.
func (d *Descriptor) Value(target model.SemanticType) (any, error) {
	raw, err := d.ReadRaw()
	if err != nil {
		return nil, err
	}
	return d.Convert(raw, target)
}

// Convert maps raw to target. TypeUnspecified returns raw untouched. A
// combination with no conversion rule yields (nil, nil).
func (d *Descriptor) Convert(raw any, target model.SemanticType) (any, error) {
	if target == model.TypeUnspecified {
		return raw, nil
	}
	fn, ok := converters[convKey{d.Encoding, target}]
	if !ok {
		return nil, nil
	}
	v, reason := fn(raw)
	if reason != "" {
		return nil, &DecodeError{
			Attribute: d.Name,
			Encoding:  d.Encoding,
			Target:    target,
			Reason:    reason,
		}
	}
	return v, nil
}
