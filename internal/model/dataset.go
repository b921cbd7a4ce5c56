package model

import (
	"errors"

	"omrun/internal/acl"
)

// Borrowed binds caller-owned memory into a dataset. Releasing it destroys the
// data buffer record only; the memory stays with the caller.
type Borrowed struct {
	Ptr  acl.Ptr
	Size uint64
	rec  acl.DataBuffer
}

// Owned binds memory the Process allocated. Releasing it destroys the record
// and frees the memory.
type Owned struct {
	Ptr  acl.Ptr
	Size uint64
	rec  acl.DataBuffer
}

type inputSet struct {
	ds       acl.Dataset
	bindings []Borrowed
}

type outputSet struct {
	ds       acl.Dataset
	bindings []Owned
}

func (p *Process) releaseInputSet(set *inputSet) error {
	var errs []error
	for _, b := range set.bindings {
		if err := p.rt.DestroyDataBuffer(b.rec); err != nil {
			errs = append(errs, acl.E(acl.KindBind, "destroy input data buffer", err))
		}
	}
	if set.ds != 0 {
		if err := p.rt.DestroyDataset(set.ds); err != nil {
			errs = append(errs, acl.E(acl.KindBind, "destroy input dataset", err))
		}
	}
	return errors.Join(errs...)
}

// releaseOutputSet destroys every record and frees every buffer of set, even
// when some of the calls fail.
func (p *Process) releaseOutputSet(set *outputSet) error {
	var errs []error
	for _, b := range set.bindings {
		if b.rec != 0 {
			if err := p.rt.DestroyDataBuffer(b.rec); err != nil {
				errs = append(errs, acl.E(acl.KindAllocation, "destroy output data buffer", err))
			}
		}
		if err := p.freeDevice(b.Ptr, b.Size, "output buffer"); err != nil {
			errs = append(errs, err)
		}
	}
	if set.ds != 0 {
		if err := p.rt.DestroyDataset(set.ds); err != nil {
			errs = append(errs, acl.E(acl.KindAllocation, "destroy output dataset", err))
		}
	}
	return errors.Join(errs...)
}

// ReleaseInput destroys the input binding record. The bound memory belongs to
// the caller and is not freed. It is a no-op when nothing is bound.
func (p *Process) ReleaseInput() {
	if p.input == nil {
		return
	}
	set := p.input
	p.input = nil
	if err := p.releaseInputSet(set); err != nil {
		p.log.Error().Err(err).Msg("release input binding failed")
	}
}

func (p *Process) releaseOutputs() error {
	if p.output == nil {
		return nil
	}
	set := p.output
	p.output = nil
	p.executed = false
	if err := p.releaseOutputSet(set); err != nil {
		p.log.Error().Err(err).Msg("release output buffers failed")
		return err
	}
	p.log.Debug().Int("outputs", len(set.bindings)).Msg("destroy model output success")
	return nil
}

// Outputs reports the output bindings currently owned by the Process.
func (p *Process) Outputs() []Owned {
	if p.output == nil {
		return nil
	}
	return append([]Owned(nil), p.output.bindings...)
}
