package model

import (
	"fmt"
	"time"

	"omrun/internal/acl"
	"omrun/internal/metrics"
)

// BindInput wraps a caller-owned device buffer as the model's single input.
// Any previous input binding record is released first.
func (p *Process) BindInput(ptr acl.Ptr, size uint64) error {
	if p.descriptor == nil {
		return p.fail(acl.Errorf(acl.KindState, "bind input", "model is %s, want %s", p.State(), StateReady))
	}
	if ptr == 0 || size == 0 {
		return p.fail(acl.Errorf(acl.KindBind, "bind input", "empty buffer (ptr %#x, %d bytes)", uintptr(ptr), size))
	}
	p.ReleaseInput()

	ds, err := p.rt.CreateDataset()
	if err != nil {
		p.log.Error().Err(err).Msg("can't create dataset, create input failed")
		return p.fail(acl.E(acl.KindBind, "create input dataset", err))
	}
	set := &inputSet{ds: ds}
	rec, err := p.rt.CreateDataBuffer(ptr, size)
	if err != nil {
		p.log.Error().Err(err).Msg("can't create data buffer, create input failed")
		if rerr := p.releaseInputSet(set); rerr != nil {
			p.log.Error().Err(rerr).Msg("release input binding failed")
		}
		return p.fail(acl.E(acl.KindBind, "create input data buffer", err))
	}
	set.bindings = append(set.bindings, Borrowed{Ptr: ptr, Size: size, rec: rec})
	if err := p.rt.AddDatasetBuffer(ds, rec); err != nil {
		p.log.Error().Err(err).Msg("add input dataset buffer failed")
		if rerr := p.releaseInputSet(set); rerr != nil {
			p.log.Error().Err(rerr).Msg("release input binding failed")
		}
		return p.fail(acl.E(acl.KindBind, "add input data buffer", err))
	}
	p.input = set
	return nil
}

// AllocateOutputs allocates one device buffer per model output, sized from the
// descriptor, and binds them all into the output dataset. If any step fails
// every buffer allocated so far is released and no output dataset is kept.
func (p *Process) AllocateOutputs() error {
	if p.descriptor == nil {
		return p.fail(acl.Errorf(acl.KindState, "allocate outputs", "model is %s, want %s", p.State(), StateReady))
	}
	if p.output != nil {
		return p.fail(acl.Errorf(acl.KindState, "allocate outputs", "outputs already allocated"))
	}

	ds, err := p.rt.CreateDataset()
	if err != nil {
		p.log.Error().Err(err).Msg("can't create dataset, create output failed")
		return p.fail(acl.E(acl.KindAllocation, "create output dataset", err))
	}
	set := &outputSet{ds: ds}
	done := false
	defer func() {
		if done {
			return
		}
		if rerr := p.releaseOutputSet(set); rerr != nil {
			p.log.Error().Err(rerr).Msg("release partial outputs failed")
		}
	}()

	for i, size := range p.descriptor.Outputs {
		ptr, err := p.rt.Malloc(size, acl.MallocNormalOnly)
		if err != nil {
			p.log.Error().Err(err).Int("output", i).Uint64("bytes", size).Msg("can't malloc buffer, create output failed")
			return p.fail(acl.Errorf(acl.KindAllocation, "allocate outputs", "output %d of %d bytes: %w", i, size, err))
		}
		metrics.Alloc("device", "output", size)
		set.bindings = append(set.bindings, Owned{Ptr: ptr, Size: size})
		rec, err := p.rt.CreateDataBuffer(ptr, size)
		if err != nil {
			p.log.Error().Err(err).Int("output", i).Msg("can't create data buffer, create output failed")
			return p.fail(acl.Errorf(acl.KindAllocation, "allocate outputs", "output %d record: %w", i, err))
		}
		set.bindings[i].rec = rec
		if err := p.rt.AddDatasetBuffer(ds, rec); err != nil {
			p.log.Error().Err(err).Int("output", i).Msg("can't add data buffer, create output failed")
			return p.fail(acl.Errorf(acl.KindAllocation, "allocate outputs", "output %d add: %w", i, err))
		}
	}
	done = true
	p.output = set
	p.log.Info().Int("outputs", len(set.bindings)).Msg("create model output success")
	p.publish("outputs_allocated", map[string]any{"outputs": len(set.bindings)})
	return nil
}

// Execute runs one synchronous inference over the bound input and outputs.
func (p *Process) Execute() error {
	if !p.loaded || p.input == nil || p.output == nil {
		return p.fail(acl.Errorf(acl.KindState, "execute", "model %s: input bound %t, outputs allocated %t",
			p.State(), p.input != nil, p.output != nil))
	}
	p.executing = true
	start := time.Now()
	err := p.rt.Execute(p.modelID, p.input.ds, p.output.ds)
	elapsed := time.Since(start)
	p.executing = false
	metrics.Execution(elapsed, err)
	if err != nil {
		p.log.Error().Err(err).Uint32("model_id", uint32(p.modelID)).Msg("execute model failed")
		return p.fail(acl.E(acl.KindExecution, "execute", err))
	}
	p.executed = true
	p.log.Debug().Uint32("model_id", uint32(p.modelID)).Dur("elapsed", elapsed).Msg("model execute success")
	p.publish("execute_done", map[string]any{"elapsed_ms": elapsed.Milliseconds()})
	return nil
}

// Output is one collected result tensor. In host run mode it is a host copy
// owned by the caller and must be released; in device mode it points straight
// at the Process's output buffer and stays valid until Unload.
type Output struct {
	Index int
	Ptr   acl.Ptr
	Size  uint64
	// Staged is true when Ptr is a host copy that Release frees.
	Staged bool

	mem      acl.Memory
	released bool
}

// Bytes returns a view of the output memory. The view must not be used after
// Release.
func (o *Output) Bytes() ([]byte, error) {
	if o.released {
		return nil, acl.Errorf(acl.KindState, "output bytes", "output %d released", o.Index)
	}
	b, err := o.mem.View(o.Ptr, o.Size)
	if err != nil {
		return nil, acl.E(acl.KindTransfer, fmt.Sprintf("map output %d", o.Index), err)
	}
	return b, nil
}

// Release frees the host copy. It is a no-op for device-mode outputs and on
// repeated calls.
func (o *Output) Release() error {
	if o == nil || o.released {
		return nil
	}
	o.released = true
	if !o.Staged {
		return nil
	}
	if err := o.mem.FreeHost(o.Ptr); err != nil {
		return acl.E(acl.KindAllocation, fmt.Sprintf("free output %d host copy", o.Index), err)
	}
	metrics.Free("host", o.Size)
	return nil
}

// ReleaseOutputs releases every output in outs.
func ReleaseOutputs(outs []*Output) error {
	var first error
	for _, o := range outs {
		if err := o.Release(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// CollectOutputs makes the results of the last Execute readable from the
// host. In host run mode each output is copied device to host into a fresh
// host buffer; a failure releases the copies made so far.
func (p *Process) CollectOutputs() ([]*Output, error) {
	if !p.executed || p.output == nil {
		return nil, p.fail(acl.Errorf(acl.KindState, "collect outputs", "no completed execution"))
	}
	outs := make([]*Output, 0, len(p.output.bindings))
	for i, b := range p.output.bindings {
		if p.mode == acl.RunModeDevice {
			outs = append(outs, &Output{Index: i, Ptr: b.Ptr, Size: b.Size, mem: p.rt})
			continue
		}
		host, err := p.rt.MallocHost(b.Size)
		if err != nil {
			p.log.Error().Err(err).Int("output", i).Msg("malloc host buffer for output failed")
			_ = ReleaseOutputs(outs)
			return nil, p.fail(acl.Errorf(acl.KindAllocation, "collect outputs", "output %d host copy: %w", i, err))
		}
		metrics.Alloc("host", "output", b.Size)
		o := &Output{Index: i, Ptr: host, Size: b.Size, Staged: true, mem: p.rt}
		if err := p.rt.Memcpy(host, b.Size, b.Ptr, b.Size, acl.MemcpyDeviceToHost); err != nil {
			p.log.Error().Err(err).Int("output", i).Msg("copy output from device to host failed")
			_ = o.Release()
			_ = ReleaseOutputs(outs)
			return nil, p.fail(acl.Errorf(acl.KindTransfer, "collect outputs", "output %d: %w", i, err))
		}
		outs = append(outs, o)
	}
	return outs, nil
}
