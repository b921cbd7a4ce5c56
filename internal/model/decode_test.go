package model

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeFloats(t *testing.T) {
	f32 := make([]byte, 13)
	binary.LittleEndian.PutUint32(f32[0:], math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(f32[4:], math.Float32bits(-2))
	binary.LittleEndian.PutUint32(f32[8:], math.Float32bits(0.25))
	got, err := DecodeFloats(f32, Float32)
	if err != nil {
		t.Fatalf("float32: %v", err)
	}
	if diff := cmp.Diff([]float32{1.5, -2, 0.25}, got); diff != "" {
		t.Fatalf("float32 mismatch (-want +got):\n%s", diff)
	}

	f16 := []byte{0x00, 0x3c, 0x00, 0xc0, 0x00, 0x38}
	got, err = DecodeFloats(f16, Float16)
	if err != nil {
		t.Fatalf("float16: %v", err)
	}
	if diff := cmp.Diff([]float32{1, -2, 0.5}, got); diff != "" {
		t.Fatalf("float16 mismatch (-want +got):\n%s", diff)
	}

	if _, err := DecodeFloats(f16, DType("int8")); err == nil {
		t.Fatalf("expected error for unknown dtype")
	}
}

func TestParseDType(t *testing.T) {
	for in, want := range map[string]DType{"": Float32, "fp32": Float32, "FP16": Float16, "half": Float16} {
		got, err := ParseDType(in)
		if err != nil || got != want {
			t.Fatalf("ParseDType(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDType("bf16"); err == nil {
		t.Fatalf("expected error for bf16")
	}
}
