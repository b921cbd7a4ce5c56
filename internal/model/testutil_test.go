package model

import (
	"testing"

	"omrun/internal/acl"
	"omrun/internal/acl/sim"
)

const testModel = "resnet.om"

func testManifest(outputs ...uint64) sim.Manifest {
	if len(outputs) == 0 {
		outputs = []uint64{4000}
	}
	return sim.Manifest{WorkSize: 1 << 20, WeightSize: 4 << 20, Inputs: []uint64{1024}, Outputs: outputs}
}

// newSimProcess returns a Process over a simulated runtime that knows testModel.
func newSimProcess(t *testing.T, mode acl.RunMode, m sim.Manifest) (*Process, *sim.Runtime, *MemoryPublisher) {
	t.Helper()
	rt := sim.New(sim.WithRunMode(mode), sim.WithModel(testModel, m))
	pub := NewMemoryPublisher()
	return New(rt, mode, WithPublisher(pub)), rt, pub
}

// readyProcess loads and describes testModel.
func readyProcess(t *testing.T, mode acl.RunMode, m sim.Manifest) (*Process, *sim.Runtime, *MemoryPublisher) {
	t.Helper()
	p, rt, pub := newSimProcess(t, mode, m)
	if err := p.Load(testModel); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := p.Describe(); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	return p, rt, pub
}

func requireClean(t *testing.T, rt *sim.Runtime) {
	t.Helper()
	if l := rt.Leaks(); !l.Clean() {
		t.Fatalf("runtime still holds resources: %+v", l)
	}
}
