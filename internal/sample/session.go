package sample

import (
	"context"
	"errors"
	"sync"
	"time"

	"omrun/internal/acl"
	"omrun/internal/device"
	"omrun/internal/model"
	"omrun/pkg/types"
)

// ErrClosed is returned by Session methods after Close.
var ErrClosed = errors.New("session closed")

// Session keeps one model loaded and serves inferences one at a time.
type Session struct {
	backend string
	mode    acl.RunMode
	opts    Options
	started time.Time

	// sem serializes access to the model; waiting callers honor their context.
	sem    chan struct{}
	proc   *model.Process
	pipe   *pipeline
	closed bool

	// mu guards the counters and snap, which Ready and Status read without
	// waiting for a running inference.
	mu         sync.Mutex
	inferences uint64
	lastErr    string
	snap       snapshot
}

// snapshot is the model state as of the last change made under sem.
type snapshot struct {
	state        model.State
	path         string
	desc         model.Descriptor
	work, weight uint64
}

// refresh records the Process state. Callers hold sem.
func (s *Session) refresh() {
	snap := snapshot{state: s.proc.State(), path: s.proc.ModelPath()}
	snap.desc, _ = s.proc.Descriptor()
	snap.work, snap.weight = s.proc.MemorySizes()
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// OpenSession loads the model and allocates its outputs. backend is reported
// by Status only.
func OpenSession(rt acl.Runtime, mode acl.RunMode, backend string, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	proc := model.New(rt, mode, model.WithLogger(opts.Logger), model.WithPublisher(opts.Publisher))
	pipe := newPipeline(proc, device.New(rt, mode, device.WithLogger(opts.Logger)), opts)
	if err := pipe.prepare(); err != nil {
		if cerr := proc.Close(); cerr != nil {
			opts.Logger.Error().Err(cerr).Msg("model teardown failed")
		}
		return nil, err
	}
	s := &Session{
		backend: backend,
		mode:    mode,
		opts:    opts,
		started: time.Now(),
		sem:     make(chan struct{}, 1),
		proc:    proc,
		pipe:    pipe,
	}
	s.refresh()
	return s, nil
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.closed {
		<-s.sem
		return ErrClosed
	}
	return nil
}

func (s *Session) release() { <-s.sem }

// Infer copies data into device memory and runs one inference. topK overrides
// the session default when positive. The input must match the model's first
// input size exactly.
func (s *Session) Infer(ctx context.Context, data []byte, topK int) (types.RunReport, error) {
	if err := s.acquire(ctx); err != nil {
		return types.RunReport{}, err
	}
	defer s.release()

	s.mu.Lock()
	s.snap.state = model.StateExecuting
	s.mu.Unlock()
	rep, err := s.infer(data, topK)
	s.refresh()
	s.mu.Lock()
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.inferences++
	}
	s.mu.Unlock()
	return rep, err
}

func (s *Session) infer(data []byte, topK int) (types.RunReport, error) {
	d, _ := s.proc.Descriptor()
	if d.NumInputs() != 1 || uint64(len(data)) != d.Inputs[0] {
		var want uint64
		if d.NumInputs() > 0 {
			want = d.Inputs[0]
		}
		return types.RunReport{}, acl.Errorf(acl.KindBind, "infer", "input is %d bytes, model expects %d", len(data), want)
	}
	buf, err := s.pipe.tr.Upload(data)
	if err != nil {
		return types.RunReport{}, err
	}
	defer func() {
		if err := buf.Release(); err != nil {
			s.opts.Logger.Error().Err(err).Msg("free input buffer failed")
		}
	}()
	if topK <= 0 {
		topK = s.opts.TopK
	}
	return s.pipe.infer(buf, "request", topK)
}

// Ready reports whether the model is loaded and able to serve. It does not
// wait for a running inference.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.state == model.StateReady || s.snap.state == model.StateExecuting
}

// Status snapshots the model and counters without waiting for a running
// inference.
func (s *Session) Status() types.StatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.StatusResponse{
		Backend:         s.backend,
		RunMode:         s.mode.String(),
		Model:           s.snap.path,
		State:           string(s.snap.state),
		Inputs:          append([]uint64(nil), s.snap.desc.Inputs...),
		Outputs:         append([]uint64(nil), s.snap.desc.Outputs...),
		WorkBytes:       s.snap.work,
		WeightBytes:     s.snap.weight,
		InferencesTotal: s.inferences,
		LastError:       s.lastErr,
		UptimeSeconds:   int64(time.Since(s.started).Seconds()),
	}
}

// Close waits for the running inference, then unloads the model.
func (s *Session) Close() error {
	if err := s.acquire(context.Background()); err != nil {
		return nil
	}
	defer s.release()
	s.closed = true
	err := s.proc.Close()
	s.refresh()
	return err
}
