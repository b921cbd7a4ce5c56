// Package sample drives a model end to end: load it once, then read, bind,
// execute, collect and post-process one input at a time. Runner handles a
// batch of input files; Session keeps a model loaded for a server.
package sample

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"omrun/internal/model"
)

// Options configures a Runner or a Session.
type Options struct {
	// Model is the offline model path.
	Model string
	// TopK is the number of ranked elements per output; 0 disables ranking.
	TopK int
	// DType interprets raw output bytes for ranking.
	DType model.DType
	// DumpDir, when set, receives one raw file per output per inference.
	DumpDir string

	Logger    zerolog.Logger
	Publisher model.EventPublisher
	// NewID names inferences; defaults to random UUIDs.
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.DType == "" {
		o.DType = model.Float32
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}
