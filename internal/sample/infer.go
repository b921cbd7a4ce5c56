package sample

import (
	"time"

	"github.com/rs/zerolog"

	"omrun/internal/device"
	"omrun/internal/model"
	"omrun/pkg/types"
)

// pipeline runs single inferences against a ready Process.
type pipeline struct {
	proc   *model.Process
	tr     *device.Transfer
	opts   Options
	dumper *model.Dumper
	log    zerolog.Logger
}

func newPipeline(proc *model.Process, tr *device.Transfer, opts Options) *pipeline {
	p := &pipeline{proc: proc, tr: tr, opts: opts, log: opts.Logger}
	if opts.DumpDir != "" {
		p.dumper = model.NewDumper(opts.DumpDir)
	}
	return p
}

// prepare loads and describes the model and allocates its outputs.
func (p *pipeline) prepare() error {
	if err := p.proc.Load(p.opts.Model); err != nil {
		return err
	}
	if err := p.proc.Describe(); err != nil {
		return err
	}
	return p.proc.AllocateOutputs()
}

// infer runs one inference over buf and ranks topK elements per output. The
// input binding is released before returning; buf stays with the caller.
func (p *pipeline) infer(buf *device.Buffer, input string, topK int) (types.RunReport, error) {
	report := types.RunReport{RunID: p.opts.NewID(), Input: input, InputBytes: buf.Size}
	if err := p.proc.BindInput(buf.Ptr, buf.Size); err != nil {
		return report, err
	}
	defer p.proc.ReleaseInput()

	start := time.Now()
	if err := p.proc.Execute(); err != nil {
		return report, err
	}
	report.ExecuteMS = float64(time.Since(start).Microseconds()) / 1000

	outs, err := p.proc.CollectOutputs()
	if err != nil {
		return report, err
	}
	defer func() {
		if err := model.ReleaseOutputs(outs); err != nil {
			p.log.Error().Err(err).Msg("release output copies failed")
		}
	}()

	var paths []string
	if p.dumper != nil {
		if paths, err = p.dumper.Dump(outs); err != nil {
			return report, err
		}
	}
	for i, o := range outs {
		summary := types.OutputReport{Index: o.Index, Bytes: o.Size}
		if paths != nil {
			summary.DumpPath = paths[i]
		}
		if topK > 0 {
			if summary.Top, err = p.rank(o, topK); err != nil {
				return report, err
			}
		}
		report.Outputs = append(report.Outputs, summary)
	}
	p.log.Info().Str("run_id", report.RunID).Str("input", input).
		Int("outputs", len(report.Outputs)).Float64("execute_ms", report.ExecuteMS).Msg("inference done")
	return report, nil
}

func (p *pipeline) rank(o *model.Output, k int) ([]types.TopEntry, error) {
	raw, err := o.Bytes()
	if err != nil {
		return nil, err
	}
	vals, err := model.DecodeFloats(raw, p.opts.DType)
	if err != nil {
		return nil, err
	}
	ranked := model.TopK(vals, k)
	top := make([]types.TopEntry, len(ranked))
	for i, r := range ranked {
		top[i] = types.TopEntry{Index: r.Index, Value: r.Value}
		p.log.Debug().Int("output", o.Index).Int("index", r.Index).Float32("value", r.Value).Msg("top result")
	}
	return top, nil
}
