// Package device moves file contents into device-addressable buffers. It hides
// whether the process runs in host mode (stage in pinned host memory, then copy
// host to device) or device mode (read straight into device memory).
package device

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"omrun/internal/acl"
	"omrun/internal/metrics"
)

// Buffer is a device allocation exclusively owned by whoever received it.
type Buffer struct {
	Ptr  acl.Ptr
	Size uint64

	mem      acl.Memory
	released bool
}

// Release frees the device memory. Calling it again is a no-op.
func (b *Buffer) Release() error {
	if b == nil || b.released {
		return nil
	}
	b.released = true
	if err := b.mem.Free(b.Ptr); err != nil {
		return acl.E(acl.KindAllocation, "free input buffer", err)
	}
	metrics.Free("device", b.Size)
	return nil
}

// Transfer reads files into device buffers for one run mode.
type Transfer struct {
	mem  acl.Memory
	mode acl.RunMode
	log  zerolog.Logger
}

// Option configures a Transfer.
type Option func(*Transfer)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option { return func(t *Transfer) { t.log = l } }

// New returns a Transfer for the run mode determined at startup.
func New(mem acl.Memory, mode acl.RunMode, opts ...Option) *Transfer {
	t := &Transfer{mem: mem, mode: mode, log: zerolog.Nop()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Mode reports the run mode this Transfer was built for.
func (t *Transfer) Mode() acl.RunMode { return t.mode }

// statFile returns the size of a regular, non-empty file.
func statFile(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, acl.E(acl.KindIO, "stat "+path, err)
	}
	if !fi.Mode().IsRegular() {
		return 0, acl.Errorf(acl.KindIO, "stat "+path, "%s is not a regular file", path)
	}
	if fi.Size() == 0 {
		return 0, acl.Errorf(acl.KindIO, "stat "+path, "%s is empty", path)
	}
	return uint64(fi.Size()), nil
}

// readInto fills dst from the file at path. A file that shrank since stat is
// reported as an IO error.
func readInto(path string, dst []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return acl.E(acl.KindIO, "open "+path, err)
	}
	defer f.Close()
	if _, err := io.ReadFull(f, dst); err != nil {
		return acl.E(acl.KindIO, "read "+path, err)
	}
	return nil
}

// ReadIntoDeviceBuffer reads the whole file into a fresh device buffer. On any
// failure every buffer allocated by this call has been released.
func (t *Transfer) ReadIntoDeviceBuffer(path string) (*Buffer, error) {
	size, err := statFile(path)
	if err != nil {
		return nil, err
	}
	buf, err := t.fill(size, func(dst []byte) error { return readInto(path, dst) })
	if err != nil {
		return nil, err
	}
	t.log.Debug().Str("path", path).Uint64("bytes", size).Msg("read file into device buffer")
	return buf, nil
}

// Upload copies data into a fresh device buffer.
func (t *Transfer) Upload(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, acl.Errorf(acl.KindIO, "upload", "empty input")
	}
	return t.fill(uint64(len(data)), func(dst []byte) error {
		copy(dst, data)
		return nil
	})
}

func (t *Transfer) fill(size uint64, write func([]byte) error) (*Buffer, error) {
	if t.mode == acl.RunModeDevice {
		return t.fillDirect(size, write)
	}
	return t.fillStaged(size, write)
}

func (t *Transfer) fillDirect(size uint64, write func([]byte) error) (*Buffer, error) {
	dev, err := t.mem.Malloc(size, acl.MallocNormalOnly)
	if err != nil {
		return nil, acl.E(acl.KindAllocation, fmt.Sprintf("malloc device buffer of %d bytes", size), err)
	}
	buf := &Buffer{Ptr: dev, Size: size, mem: t.mem}
	metrics.Alloc("device", "input", size)
	view, err := t.mem.View(dev, size)
	if err == nil {
		err = write(view)
	} else {
		err = acl.E(acl.KindTransfer, "map device buffer", err)
	}
	if err != nil {
		if ferr := buf.Release(); ferr != nil {
			t.log.Error().Err(ferr).Msg("release device buffer after failed write")
		}
		return nil, err
	}
	return buf, nil
}

func (t *Transfer) fillStaged(size uint64, write func([]byte) error) (*Buffer, error) {
	stage, err := t.mem.MallocHost(size)
	if err != nil {
		return nil, acl.E(acl.KindAllocation, fmt.Sprintf("malloc host buffer of %d bytes", size), err)
	}
	metrics.Alloc("host", "staging", size)
	defer func() {
		if ferr := t.mem.FreeHost(stage); ferr != nil {
			t.log.Error().Err(ferr).Msg("free host staging buffer")
			return
		}
		metrics.Free("host", size)
	}()

	view, err := t.mem.View(stage, size)
	if err != nil {
		return nil, acl.E(acl.KindTransfer, "map host buffer", err)
	}
	if err := write(view); err != nil {
		return nil, err
	}

	dev, err := t.mem.Malloc(size, acl.MallocNormalOnly)
	if err != nil {
		return nil, acl.E(acl.KindAllocation, fmt.Sprintf("malloc device buffer of %d bytes", size), err)
	}
	buf := &Buffer{Ptr: dev, Size: size, mem: t.mem}
	metrics.Alloc("device", "input", size)
	if err := t.mem.Memcpy(dev, size, stage, size, acl.MemcpyHostToDevice); err != nil {
		if ferr := buf.Release(); ferr != nil {
			t.log.Error().Err(ferr).Msg("release device buffer after failed copy")
		}
		return nil, acl.E(acl.KindTransfer, "copy host to device", err)
	}
	return buf, nil
}

// CopyToHost returns a Go copy of size bytes of device memory at p.
func (t *Transfer) CopyToHost(p acl.Ptr, size uint64) ([]byte, error) {
	if t.mode == acl.RunModeDevice {
		view, err := t.mem.View(p, size)
		if err != nil {
			return nil, acl.E(acl.KindTransfer, "map device buffer", err)
		}
		return append([]byte(nil), view...), nil
	}
	stage, err := t.mem.MallocHost(size)
	if err != nil {
		return nil, acl.E(acl.KindAllocation, fmt.Sprintf("malloc host buffer of %d bytes", size), err)
	}
	defer func() {
		if ferr := t.mem.FreeHost(stage); ferr != nil {
			t.log.Error().Err(ferr).Msg("free host staging buffer")
		}
	}()
	if err := t.mem.Memcpy(stage, size, p, size, acl.MemcpyDeviceToHost); err != nil {
		return nil, acl.E(acl.KindTransfer, "copy device to host", err)
	}
	view, err := t.mem.View(stage, size)
	if err != nil {
		return nil, acl.E(acl.KindTransfer, "map host buffer", err)
	}
	return append([]byte(nil), view...), nil
}
