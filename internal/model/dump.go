package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Dumper writes collected outputs to binary files named output<N>_<i>.bin,
// where N counts Dump calls starting at 1 and i is the output index.
type Dumper struct {
	dir string

	mu sync.Mutex
	n  int
}

// NewDumper writes into dir, which is created on first use.
func NewDumper(dir string) *Dumper { return &Dumper{dir: dir} }

// Dump writes every output and returns the file paths in output order.
func (d *Dumper) Dump(outs []*Output) ([]string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dump dir: %w", err)
	}
	d.mu.Lock()
	d.n++
	seq := d.n
	d.mu.Unlock()

	// Views are taken up front so only file writes run concurrently.
	data := make([][]byte, len(outs))
	for i, o := range outs {
		b, err := o.Bytes()
		if err != nil {
			return nil, err
		}
		data[i] = b
	}

	paths := make([]string, len(outs))
	var g errgroup.Group
	for i, o := range outs {
		paths[i] = filepath.Join(d.dir, fmt.Sprintf("output%d_%d.bin", seq, o.Index))
		g.Go(func() error {
			if err := os.WriteFile(paths[i], data[i], 0o644); err != nil {
				return fmt.Errorf("dump output %d: %w", o.Index, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}
