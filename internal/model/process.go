package model

import (
	"github.com/rs/zerolog"

	"omrun/internal/acl"
	"omrun/internal/metrics"
)

// State is the lifecycle state of a Process.
type State string

const (
	StateEmpty     State = "empty"
	StateLoaded    State = "loaded"
	StateReady     State = "ready"
	StateExecuting State = "executing"
)

// Descriptor is a snapshot of the runtime's model description: the byte size
// of every input and output tensor, in index order.
type Descriptor struct {
	Inputs  []uint64
	Outputs []uint64
}

// NumInputs reports the number of model inputs.
func (d Descriptor) NumInputs() int { return len(d.Inputs) }

// NumOutputs reports the number of model outputs.
func (d Descriptor) NumOutputs() int { return len(d.Outputs) }

// Process is one model instance bound to a runtime.
type Process struct {
	rt   acl.Runtime
	mode acl.RunMode
	log  zerolog.Logger
	pub  EventPublisher

	path       string
	modelID    acl.ModelID
	loaded     bool
	work       acl.Ptr
	workSize   uint64
	weight     acl.Ptr
	weightSize uint64

	desc       acl.Desc
	descriptor *Descriptor

	input     *inputSet
	output    *outputSet
	executing bool
	executed  bool
}

// Option configures a Process.
type Option func(*Process)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option { return func(p *Process) { p.log = l } }

// WithPublisher installs an event publisher.
func WithPublisher(pub EventPublisher) Option {
	return func(p *Process) {
		if pub != nil {
			p.pub = pub
		}
	}
}

// New returns an empty Process. mode is the run mode reported by the runtime
// at startup; it decides whether outputs are copied back to host memory.
func New(rt acl.Runtime, mode acl.RunMode, opts ...Option) *Process {
	p := &Process{rt: rt, mode: mode, log: zerolog.Nop(), pub: noopPublisher{}}
	for _, o := range opts {
		o(p)
	}
	return p
}

// State reports the current lifecycle state.
func (p *Process) State() State {
	switch {
	case !p.loaded:
		return StateEmpty
	case p.executing:
		return StateExecuting
	case p.descriptor != nil:
		return StateReady
	default:
		return StateLoaded
	}
}

// ModelPath reports the path of the loaded model, or "" when empty.
func (p *Process) ModelPath() string { return p.path }

// ModelID reports the runtime's identifier for the loaded model.
func (p *Process) ModelID() (acl.ModelID, bool) { return p.modelID, p.loaded }

// Descriptor returns a copy of the model description once Describe succeeded.
func (p *Process) Descriptor() (Descriptor, bool) {
	if p.descriptor == nil {
		return Descriptor{}, false
	}
	return Descriptor{
		Inputs:  append([]uint64(nil), p.descriptor.Inputs...),
		Outputs: append([]uint64(nil), p.descriptor.Outputs...),
	}, true
}

// MemorySizes reports the work and weight memory held while loaded.
func (p *Process) MemorySizes() (work, weight uint64) { return p.workSize, p.weightSize }

// fail counts err by kind and returns it unchanged.
func (p *Process) fail(err error) error {
	metrics.Error(acl.KindOf(err).String())
	return err
}

func (p *Process) publish(name string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	p.pub.Publish(Event{Name: name, Model: p.path, Fields: fields})
}

// freeDevice releases a device allocation held by the Process.
func (p *Process) freeDevice(ptr acl.Ptr, size uint64, what string) error {
	if ptr == 0 {
		return nil
	}
	if err := p.rt.Free(ptr); err != nil {
		p.log.Error().Err(err).Str("buffer", what).Uint64("bytes", size).Msg("free device buffer failed")
		return acl.E(acl.KindAllocation, "free "+what, err)
	}
	metrics.Free("device", size)
	return nil
}

// rollback collects undo steps for a multi-step acquisition. Steps run in
// reverse order unless disarm was called first.
type rollback []func()

func (r *rollback) add(f func()) { *r = append(*r, f) }

func (r *rollback) disarm() { *r = nil }

func (r *rollback) run() {
	for i := len(*r) - 1; i >= 0; i-- {
		(*r)[i]()
	}
	*r = nil
}
