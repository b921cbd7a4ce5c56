package sample

import (
	"context"

	"omrun/internal/acl"
	"omrun/internal/device"
	"omrun/internal/model"
	"omrun/pkg/types"
)

// Runner processes a batch of input files with one model.
type Runner struct {
	rt   acl.Runtime
	mode acl.RunMode
	opts Options
}

// NewRunner prepares a batch run on rt in the given run mode.
func NewRunner(rt acl.Runtime, mode acl.RunMode, opts Options) *Runner {
	return &Runner{rt: rt, mode: mode, opts: opts.withDefaults()}
}

// Run loads the model and runs every input in order. The first failure stops
// the batch; reports for the inputs that completed are returned with it. The
// model is unloaded and every buffer released whatever happens. ctx is checked
// between inputs.
func (r *Runner) Run(ctx context.Context, inputs []string) (reports []types.RunReport, err error) {
	log := r.opts.Logger
	proc := model.New(r.rt, r.mode, model.WithLogger(log), model.WithPublisher(r.opts.Publisher))
	defer func() {
		if cerr := proc.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("model teardown failed")
			if err == nil {
				err = cerr
			}
		}
	}()

	p := newPipeline(proc, device.New(r.rt, r.mode, device.WithLogger(log)), r.opts)
	if err := p.prepare(); err != nil {
		return nil, err
	}
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := r.runOne(p, in)
		if err != nil {
			log.Error().Err(err).Str("input", in).Msg("execute inference failed")
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func (r *Runner) runOne(p *pipeline, input string) (types.RunReport, error) {
	buf, err := p.tr.ReadIntoDeviceBuffer(input)
	if err != nil {
		return types.RunReport{Input: input}, err
	}
	defer func() {
		if err := buf.Release(); err != nil {
			r.opts.Logger.Error().Err(err).Str("input", input).Msg("free input buffer failed")
		}
	}()
	return p.infer(buf, input, r.opts.TopK)
}
