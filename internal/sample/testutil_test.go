package sample

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"omrun/internal/acl"
	"omrun/internal/acl/sim"
)

const (
	testModel = "classifier.om"
	inputSize = 64 * 64 * 3
)

func newSim(mode acl.RunMode) *sim.Runtime {
	return sim.New(sim.WithRunMode(mode), sim.WithModel(testModel, sim.Manifest{
		WorkSize:   1 << 20,
		WeightSize: 4 << 20,
		Inputs:     []uint64{inputSize},
		Outputs:    []uint64{4000, 40},
	}))
}

// writeInput writes an input whose byte i is (i+shift) mod 256.
func writeInput(t *testing.T, dir, name string, shift int) string {
	t.Helper()
	b := make([]byte, inputSize)
	for i := range b {
		b[i] = byte(i + shift)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
}
