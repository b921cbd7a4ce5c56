// Package resource acquires the per-process runtime resources in the order the
// runtime requires: process init, device, context, stream. The runtime can be
// initialized once per process; Init guards that window.
package resource

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"omrun/internal/acl"
)

// ErrProcessState is returned by Init while another Resource in the process
// still holds the runtime. Finalize is only reached from Close of the holder,
// so it cannot run without a matching init.
var ErrProcessState = errors.New("runtime process state violation")

// IsProcessState reports whether err is an ErrProcessState.
func IsProcessState(err error) bool { return errors.Is(err, ErrProcessState) }

var (
	guardMu sync.Mutex
	active  bool
)

func acquireProcess() error {
	guardMu.Lock()
	defer guardMu.Unlock()
	if active {
		return fmt.Errorf("%w: runtime already initialized", ErrProcessState)
	}
	active = true
	return nil
}

func releaseProcess() {
	guardMu.Lock()
	active = false
	guardMu.Unlock()
}

// Resource owns the runtime's process, device, context and stream.
type Resource struct {
	rt       acl.Runtime
	deviceID int32
	config   string
	log      zerolog.Logger

	inited  bool
	device  bool
	ctx     acl.Context
	stream  acl.Stream
	mode    acl.RunMode
	holding bool
}

// Option configures a Resource.
type Option func(*Resource)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option { return func(r *Resource) { r.log = l } }

// WithConfigPath passes a runtime config file to Init. Empty means none.
func WithConfigPath(p string) Option { return func(r *Resource) { r.config = p } }

// New prepares resources for deviceID; nothing is acquired until Init.
func New(rt acl.Runtime, deviceID int32, opts ...Option) *Resource {
	r := &Resource{rt: rt, deviceID: deviceID, log: zerolog.Nop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Init acquires everything in order. On failure whatever was acquired is
// released before returning.
func (r *Resource) Init() error {
	if err := acquireProcess(); err != nil {
		return err
	}
	r.holding = true

	if err := r.rt.Init(r.config); err != nil {
		r.log.Error().Err(err).Str("config", r.config).Msg("acl init failed")
		r.Close()
		return fmt.Errorf("acl init: %w", err)
	}
	r.inited = true
	r.log.Info().Msg("acl init success")

	if err := r.rt.SetDevice(r.deviceID); err != nil {
		r.log.Error().Err(err).Int32("device", r.deviceID).Msg("acl set device failed")
		r.Close()
		return fmt.Errorf("set device %d: %w", r.deviceID, err)
	}
	r.device = true
	r.log.Info().Int32("device", r.deviceID).Msg("set device success")

	ctx, err := r.rt.CreateContext(r.deviceID)
	if err != nil {
		r.log.Error().Err(err).Msg("acl create context failed")
		r.Close()
		return fmt.Errorf("create context: %w", err)
	}
	r.ctx = ctx
	r.log.Info().Msg("create context success")

	stream, err := r.rt.CreateStream()
	if err != nil {
		r.log.Error().Err(err).Msg("acl create stream failed")
		r.Close()
		return fmt.Errorf("create stream: %w", err)
	}
	r.stream = stream
	r.log.Info().Msg("create stream success")

	mode, err := r.rt.RunMode()
	if err != nil {
		r.log.Error().Err(err).Msg("acl get run mode failed")
		r.Close()
		return fmt.Errorf("get run mode: %w", err)
	}
	r.mode = mode
	r.log.Info().Str("run_mode", mode.String()).Msg("get run mode success")
	return nil
}

// Mode reports the run mode determined by Init.
func (r *Resource) Mode() acl.RunMode { return r.mode }

// Runtime returns the underlying runtime.
func (r *Resource) Runtime() acl.Runtime { return r.rt }

// Close destroys the stream and the context, resets the device and finalizes
// the runtime. Every step runs; failures are logged. Calling Close on a
// Resource that holds nothing is a no-op.
func (r *Resource) Close() {
	if r.stream != 0 {
		if err := r.rt.DestroyStream(r.stream); err != nil {
			r.log.Error().Err(err).Msg("destroy stream failed")
		}
		r.stream = 0
	}
	r.log.Info().Msg("end to destroy stream")

	if r.ctx != 0 {
		if err := r.rt.DestroyContext(r.ctx); err != nil {
			r.log.Error().Err(err).Msg("destroy context failed")
		}
		r.ctx = 0
	}
	r.log.Info().Msg("end to destroy context")

	if r.device {
		if err := r.rt.ResetDevice(r.deviceID); err != nil {
			r.log.Error().Err(err).Int32("device", r.deviceID).Msg("reset device failed")
		}
		r.device = false
	}
	r.log.Info().Msg("end to reset device")

	if r.inited {
		if err := r.rt.Finalize(); err != nil {
			r.log.Error().Err(err).Msg("finalize acl failed")
		}
		r.inited = false
	}
	r.log.Info().Msg("end to finalize acl")

	if r.holding {
		releaseProcess()
		r.holding = false
	}
}
