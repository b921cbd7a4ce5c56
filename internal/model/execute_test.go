package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"omrun/internal/acl"
	"omrun/internal/acl/sim"
	"omrun/internal/device"
)

func TestAllocateOutputs_CountAndSizes(t *testing.T) {
	sizes := []uint64{4000, 8, 64}
	p, rt, pub := readyProcess(t, acl.RunModeHost, testManifest(sizes...))
	if err := p.AllocateOutputs(); err != nil {
		t.Fatalf("AllocateOutputs: %v", err)
	}
	outs := p.Outputs()
	if len(outs) != len(sizes) {
		t.Fatalf("outputs = %d, want %d", len(outs), len(sizes))
	}
	for i, o := range outs {
		got, ok := rt.BlockSize(o.Ptr)
		if !ok || got < sizes[i] || o.Size != sizes[i] {
			t.Fatalf("output %d: block %d (live %t), binding %d, want %d", i, got, ok, o.Size, sizes[i])
		}
	}
	if err := p.AllocateOutputs(); !acl.IsState(err) {
		t.Fatalf("second AllocateOutputs err = %v, want state error", err)
	}
	if pub.Count("outputs_allocated") != 1 {
		t.Fatalf("outputs_allocated events = %d", pub.Count("outputs_allocated"))
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	requireClean(t, rt)
}

func TestAllocateOutputs_AtomicOnFailure(t *testing.T) {
	p, rt, _ := readyProcess(t, acl.RunModeHost, testManifest(16, 16, 16, 16, 16))
	rt.SetFaults(sim.Faults{FailMallocAt: 3})
	if err := p.AllocateOutputs(); !acl.IsAllocation(err) {
		t.Fatalf("AllocateOutputs err = %v, want allocation error", err)
	}
	if got := p.Outputs(); got != nil {
		t.Fatalf("outputs kept after failure: %v", got)
	}
	if got := rt.Calls("Free"); got != 2 {
		t.Fatalf("Free calls = %d, want 2", got)
	}
	// work and weight memory only
	want := sim.Leaks{DeviceBlocks: 2, Bytes: 5 << 20, Models: 1, Descs: 1}
	if diff := cmp.Diff(want, rt.Leaks()); diff != "" {
		t.Fatalf("leaks mismatch (-want +got):\n%s", diff)
	}

	rt.SetFaults(sim.Faults{})
	if err := p.AllocateOutputs(); err != nil {
		t.Fatalf("retry AllocateOutputs: %v", err)
	}
	if len(p.Outputs()) != 5 {
		t.Fatalf("outputs = %d, want 5", len(p.Outputs()))
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	requireClean(t, rt)
}

func TestAllocateOutputs_RecordFailure(t *testing.T) {
	p, rt, _ := readyProcess(t, acl.RunModeHost, testManifest(16, 16))
	rt.SetFaults(sim.Faults{FailAddDatasetBuffer: true})
	if err := p.AllocateOutputs(); !acl.IsAllocation(err) {
		t.Fatalf("AllocateOutputs err = %v, want allocation error", err)
	}
	if l := rt.Leaks(); l.DeviceBlocks != 2 || l.Datasets != 0 || l.DataBuffers != 0 {
		t.Fatalf("partial outputs leaked: %+v", l)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	requireClean(t, rt)
}

func TestStateErrorsBeforeReady(t *testing.T) {
	p, rt, _ := newSimProcess(t, acl.RunModeHost, testManifest())
	if err := p.AllocateOutputs(); !acl.IsState(err) {
		t.Fatalf("AllocateOutputs err = %v", err)
	}
	if err := p.BindInput(0x1000, 8); !acl.IsState(err) {
		t.Fatalf("BindInput err = %v", err)
	}
	if err := p.Execute(); !acl.IsState(err) {
		t.Fatalf("Execute err = %v", err)
	}
	if _, err := p.CollectOutputs(); !acl.IsState(err) {
		t.Fatalf("CollectOutputs err = %v", err)
	}
	if rt.TotalCalls() != 0 {
		t.Fatalf("state errors made %d runtime calls", rt.TotalCalls())
	}
}

func TestBindInput_ReplacesPreviousRecord(t *testing.T) {
	p, rt, _ := readyProcess(t, acl.RunModeHost, testManifest(16))
	in, err := rt.Malloc(1024, acl.MallocNormalOnly)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if err := p.BindInput(0, 1024); !acl.IsBind(err) {
		t.Fatalf("BindInput(nil) err = %v, want bind error", err)
	}
	for i := 0; i < 3; i++ {
		if err := p.BindInput(in, 1024); err != nil {
			t.Fatalf("BindInput #%d: %v", i, err)
		}
	}
	if l := rt.Leaks(); l.Datasets != 1 || l.DataBuffers != 1 {
		t.Fatalf("stale input records: %+v", l)
	}
	p.ReleaseInput()
	p.ReleaseInput()
	if l := rt.Leaks(); l.Datasets != 0 || l.DataBuffers != 0 {
		t.Fatalf("input records after release: %+v", l)
	}
	// the borrowed buffer itself is still ours
	if _, ok := rt.BlockSize(in); !ok {
		t.Fatalf("ReleaseInput freed the caller's buffer")
	}
	if err := rt.Free(in); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	requireClean(t, rt)
}

func TestExecute_FailureIsExecutionError(t *testing.T) {
	p, rt, _ := readyProcess(t, acl.RunModeHost, testManifest(16))
	in, _ := rt.Malloc(1024, acl.MallocNormalOnly)
	if err := p.AllocateOutputs(); err != nil {
		t.Fatalf("AllocateOutputs: %v", err)
	}
	if err := p.BindInput(in, 1024); err != nil {
		t.Fatalf("BindInput: %v", err)
	}
	rt.SetFaults(sim.Faults{FailExecute: true})
	if err := p.Execute(); !acl.IsExecution(err) {
		t.Fatalf("Execute err = %v, want execution error", err)
	}
	if _, err := p.CollectOutputs(); !acl.IsState(err) {
		t.Fatalf("CollectOutputs after failed Execute err = %v", err)
	}
	p.ReleaseInput()
	_ = rt.Free(in)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	requireClean(t, rt)
}

func TestCollectOutputs_TransferFailureReleasesCopies(t *testing.T) {
	p, rt, _ := readyProcess(t, acl.RunModeHost, testManifest(16, 16, 16))
	in, _ := rt.Malloc(1024, acl.MallocNormalOnly)
	if err := p.AllocateOutputs(); err != nil {
		t.Fatalf("AllocateOutputs: %v", err)
	}
	if err := p.BindInput(in, 1024); err != nil {
		t.Fatalf("BindInput: %v", err)
	}
	if err := p.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rt.SetFaults(sim.Faults{FailMemcpy: true})
	if _, err := p.CollectOutputs(); !acl.IsTransfer(err) {
		t.Fatalf("CollectOutputs err = %v, want transfer error", err)
	}
	if l := rt.Leaks(); l.HostBlocks != 0 {
		t.Fatalf("host copies leaked: %+v", l)
	}
	p.ReleaseInput()
	_ = rt.Free(in)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	requireClean(t, rt)
}

// TestEndToEnd reads a 1024x683x3 image into device memory, runs one inference
// per run mode and ranks the first output.
func TestEndToEnd(t *testing.T) {
	const inputSize = 1024 * 683 * 3
	img := make([]byte, inputSize)
	for i := range img {
		img[i] = byte(i % 251)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "dog1_1024_683.bin")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	m := sim.Manifest{WorkSize: 1 << 20, WeightSize: 4 << 20, Inputs: []uint64{inputSize}, Outputs: []uint64{4000}}

	for _, mode := range []acl.RunMode{acl.RunModeHost, acl.RunModeDevice} {
		t.Run(mode.String(), func(t *testing.T) {
			p, rt, pub := readyProcess(t, mode, m)
			if err := p.AllocateOutputs(); err != nil {
				t.Fatalf("AllocateOutputs: %v", err)
			}
			buf, err := device.New(rt, mode).ReadIntoDeviceBuffer(path)
			if err != nil {
				t.Fatalf("ReadIntoDeviceBuffer: %v", err)
			}
			if err := p.BindInput(buf.Ptr, buf.Size); err != nil {
				t.Fatalf("BindInput: %v", err)
			}
			if err := p.Execute(); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			outs, err := p.CollectOutputs()
			if err != nil {
				t.Fatalf("CollectOutputs: %v", err)
			}
			if len(outs) != 1 || outs[0].Staged != (mode == acl.RunModeHost) {
				t.Fatalf("outputs = %+v", outs)
			}
			raw, err := outs[0].Bytes()
			if err != nil {
				t.Fatalf("Bytes: %v", err)
			}
			vals, err := DecodeFloats(raw, Float32)
			if err != nil {
				t.Fatalf("DecodeFloats: %v", err)
			}
			got := TopK(vals, 5)
			want := []Ranked{
				{Index: 250, Value: 250.0 / 255},
				{Index: 501, Value: 250.0 / 255},
				{Index: 752, Value: 250.0 / 255},
				{Index: 249, Value: 249.0 / 255},
				{Index: 500, Value: 249.0 / 255},
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("top-5 mismatch (-want +got):\n%s", diff)
			}
			if pub.Count("execute_done") != 1 {
				t.Fatalf("execute_done not published")
			}

			if err := ReleaseOutputs(outs); err != nil {
				t.Fatalf("ReleaseOutputs: %v", err)
			}
			p.ReleaseInput()
			if err := buf.Release(); err != nil {
				t.Fatalf("release input: %v", err)
			}
			if err := p.Unload(); err != nil {
				t.Fatalf("Unload: %v", err)
			}
			requireClean(t, rt)
		})
	}
}
