package sim

import (
	"encoding/binary"
	"errors"
	"math"
)

// Kernel computes outputs from inputs in place. Output slices are exactly the
// bound buffer sizes.
type Kernel func(inputs, outputs [][]byte) error

// DefaultKernel writes little-endian float32 values into every output: element
// j of each output is input0[j mod len(input0)] / 255. Trailing bytes that do
// not fill a float are zeroed.
func DefaultKernel(inputs, outputs [][]byte) error {
	if len(inputs) == 0 || len(inputs[0]) == 0 {
		return errors.New("sim: kernel needs a non-empty first input")
	}
	in := inputs[0]
	for _, out := range outputs {
		n := len(out) / 4
		for j := 0; j < n; j++ {
			v := float32(in[j%len(in)]) / 255
			binary.LittleEndian.PutUint32(out[j*4:], math.Float32bits(v))
		}
		clear(out[n*4:])
	}
	return nil
}
