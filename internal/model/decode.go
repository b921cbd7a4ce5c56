package model

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/x448/float16"
)

// DType is the element type used to interpret raw output bytes.
type DType string

const (
	Float32 DType = "float32"
	Float16 DType = "float16"
)

// ParseDType accepts float32/fp32 and float16/fp16; empty means float32.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "float32", "fp32", "float":
		return Float32, nil
	case "float16", "fp16", "half":
		return Float16, nil
	}
	return "", fmt.Errorf("unsupported output dtype %q", s)
}

// Width is the element size in bytes.
func (d DType) Width() int {
	if d == Float16 {
		return 2
	}
	return 4
}

// DecodeFloats interprets b as little-endian elements of type dt. Trailing
// bytes that do not fill a whole element are ignored.
func DecodeFloats(b []byte, dt DType) ([]float32, error) {
	switch dt {
	case Float32, "":
		out := make([]float32, len(b)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
		return out, nil
	case Float16:
		out := make([]float32, len(b)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(b[i*2:])).Float32()
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported output dtype %q", dt)
}
