package model

import (
	"errors"

	"omrun/internal/acl"
	"omrun/internal/metrics"
)

// Load queries the model's memory requirements, allocates work and weight
// memory on the device and loads the model into it. It fails with
// AlreadyLoadedError, leaving the current model untouched, if a model is
// loaded. Memory allocated by a failed call is released before returning.
func (p *Process) Load(path string) error {
	if p.loaded {
		p.log.Error().Str("model", path).Str("loaded", p.path).Msg("has already loaded a model")
		return p.fail(acl.Errorf(acl.KindAlreadyLoaded, "load "+path, "model %s is loaded with id %d", p.path, p.modelID))
	}

	workSize, weightSize, err := p.rt.QuerySize(path)
	if err != nil {
		p.log.Error().Err(err).Str("model", path).Msg("query model size failed")
		return p.fail(acl.E(acl.KindSizeQuery, "query size "+path, err))
	}

	var undo rollback
	defer undo.run()

	work, err := p.rt.Malloc(workSize, acl.MallocHugeFirst)
	if err != nil {
		p.log.Error().Err(err).Uint64("bytes", workSize).Msg("malloc buffer for work memory failed")
		return p.fail(acl.Errorf(acl.KindAllocation, "load "+path, "work memory of %d bytes: %w", workSize, err))
	}
	metrics.Alloc("device", "work", workSize)
	undo.add(func() { _ = p.freeDevice(work, workSize, "work memory") })

	weight, err := p.rt.Malloc(weightSize, acl.MallocHugeFirst)
	if err != nil {
		p.log.Error().Err(err).Uint64("bytes", weightSize).Msg("malloc buffer for weight memory failed")
		return p.fail(acl.Errorf(acl.KindAllocation, "load "+path, "weight memory of %d bytes: %w", weightSize, err))
	}
	metrics.Alloc("device", "weight", weightSize)
	undo.add(func() { _ = p.freeDevice(weight, weightSize, "weight memory") })

	id, err := p.rt.LoadFromFileWithMem(path, work, workSize, weight, weightSize)
	if err != nil {
		p.log.Error().Err(err).Str("model", path).Msg("load model from file failed")
		return p.fail(acl.E(acl.KindLoad, "load "+path, err))
	}
	undo.disarm()

	p.path = path
	p.modelID = id
	p.work, p.workSize = work, workSize
	p.weight, p.weightSize = weight, weightSize
	p.loaded = true
	p.log.Info().Str("model", path).Uint32("model_id", uint32(id)).
		Uint64("work_bytes", workSize).Uint64("weight_bytes", weightSize).Msg("load model success")
	p.publish("load_done", map[string]any{"model_id": uint32(id), "work": workSize, "weight": weightSize})
	return nil
}

// Describe fetches the model description. Valid once, after Load.
func (p *Process) Describe() error {
	if !p.loaded {
		return p.fail(acl.Errorf(acl.KindState, "describe", "no model loaded"))
	}
	if p.descriptor != nil {
		return p.fail(acl.Errorf(acl.KindState, "describe", "model %s already described", p.path))
	}
	d, err := p.rt.CreateDesc()
	if err != nil {
		p.log.Error().Err(err).Msg("create model description failed")
		return p.fail(acl.E(acl.KindDescribe, "create desc", err))
	}
	if err := p.rt.GetDesc(d, p.modelID); err != nil {
		p.log.Error().Err(err).Uint32("model_id", uint32(p.modelID)).Msg("get model description failed")
		if derr := p.rt.DestroyDesc(d); derr != nil {
			p.log.Error().Err(derr).Msg("destroy model description failed")
		}
		return p.fail(acl.E(acl.KindDescribe, "get desc", err))
	}

	desc := &Descriptor{
		Inputs:  make([]uint64, p.rt.NumInputs(d)),
		Outputs: make([]uint64, p.rt.NumOutputs(d)),
	}
	for i := range desc.Inputs {
		desc.Inputs[i] = p.rt.InputSize(d, i)
	}
	for i := range desc.Outputs {
		desc.Outputs[i] = p.rt.OutputSize(d, i)
	}
	p.desc = d
	p.descriptor = desc
	p.log.Info().Int("inputs", desc.NumInputs()).Int("outputs", desc.NumOutputs()).Msg("create model description success")
	p.publish("describe_done", map[string]any{"inputs": desc.NumInputs(), "outputs": desc.NumOutputs()})
	return nil
}

func (p *Process) destroyDesc() error {
	if p.desc == 0 {
		p.descriptor = nil
		return nil
	}
	err := p.rt.DestroyDesc(p.desc)
	p.desc = 0
	p.descriptor = nil
	if err != nil {
		p.log.Error().Err(err).Msg("destroy model description failed")
		return acl.E(acl.KindDescribe, "destroy desc", err)
	}
	return nil
}

// Unload unloads the model and releases its description, work memory, weight
// memory, the input binding record and every output buffer, returning the
// Process to StateEmpty. On an
// empty Process it logs a warning and makes no runtime calls. Teardown always
// runs to completion; the returned error joins any individual failures.
func (p *Process) Unload() error {
	if !p.loaded {
		p.log.Warn().Msg("no model had been loaded, unload skipped")
		metrics.UnloadNoop()
		p.publish("unload_noop", nil)
		return nil
	}

	var errs []error
	if err := p.rt.Unload(p.modelID); err != nil {
		p.log.Error().Err(err).Uint32("model_id", uint32(p.modelID)).Msg("unload model failed")
		errs = append(errs, acl.E(acl.KindLoad, "unload", err))
	}
	if err := p.destroyDesc(); err != nil {
		errs = append(errs, err)
	}
	if err := p.freeDevice(p.work, p.workSize, "work memory"); err != nil {
		errs = append(errs, err)
	}
	p.work, p.workSize = 0, 0
	if err := p.freeDevice(p.weight, p.weightSize, "weight memory"); err != nil {
		errs = append(errs, err)
	}
	p.weight, p.weightSize = 0, 0
	p.ReleaseInput()
	if err := p.releaseOutputs(); err != nil {
		errs = append(errs, err)
	}

	id := p.modelID
	p.loaded = false
	p.executed = false
	p.modelID = 0
	p.log.Info().Uint32("model_id", uint32(id)).Str("model", p.path).Msg("unload model success")
	p.publish("unload_done", map[string]any{"model_id": uint32(id)})
	p.path = ""
	return errors.Join(errs...)
}

// Close is the destructor: unload, then the description, the input binding
// record (never its buffer) and the output buffers, whatever state the
// Process is in.
func (p *Process) Close() error {
	errs := []error{p.Unload(), p.destroyDesc()}
	p.ReleaseInput()
	errs = append(errs, p.releaseOutputs())
	return errors.Join(errs...)
}
