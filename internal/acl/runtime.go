package acl

import (
	"fmt"
	"sort"
	"sync"
)

// Process covers process-wide runtime state. Init must be called exactly once
// before anything else and Finalize exactly once at shutdown.
type Process interface {
	Init(configPath string) error
	Finalize() error
	SetDevice(id int32) error
	ResetDevice(id int32) error
	CreateContext(id int32) (Context, error)
	DestroyContext(Context) error
	CreateStream() (Stream, error)
	DestroyStream(Stream) error
	RunMode() (RunMode, error)
}

// Memory allocates and moves buffers across the host/device boundary.
type Memory interface {
	Malloc(size uint64, policy MallocPolicy) (Ptr, error)
	Free(Ptr) error
	// MallocHost returns pinned host memory in host run mode and device
	// memory in device run mode.
	MallocHost(size uint64) (Ptr, error)
	FreeHost(Ptr) error
	Memcpy(dst Ptr, dstMax uint64, src Ptr, count uint64, kind MemcpyKind) error
	// View exposes size bytes at p to the process. It fails for device memory
	// unless the process runs in device mode.
	View(p Ptr, size uint64) ([]byte, error)
}

// Models loads offline models and runs inference on them.
type Models interface {
	QuerySize(modelPath string) (workSize, weightSize uint64, err error)
	LoadFromFileWithMem(modelPath string, work Ptr, workSize uint64, weight Ptr, weightSize uint64) (ModelID, error)
	Unload(ModelID) error

	CreateDesc() (Desc, error)
	GetDesc(Desc, ModelID) error
	DestroyDesc(Desc) error
	NumInputs(Desc) int
	NumOutputs(Desc) int
	InputSize(d Desc, index int) uint64
	OutputSize(d Desc, index int) uint64

	CreateDataset() (Dataset, error)
	DestroyDataset(Dataset) error
	CreateDataBuffer(p Ptr, size uint64) (DataBuffer, error)
	DestroyDataBuffer(DataBuffer) error
	AddDatasetBuffer(Dataset, DataBuffer) error

	// Execute blocks until inference completes or fails.
	Execute(id ModelID, input, output Dataset) error
}

// Runtime is the full capability set of an accelerator runtime.
type Runtime interface {
	Process
	Memory
	Models
}

// Options configure a backend when it is opened by name.
type Options struct {
	// RunMode is used by backends that can emulate either address space.
	RunMode RunMode
	// LibraryPath points at a shared library for backends loaded at runtime.
	LibraryPath string
}

// Factory builds a Runtime for a registered backend.
type Factory func(Options) (Runtime, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Factory{}
)

// Register makes a backend available to Open. It panics on duplicates.
func Register(name string, f Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if f == nil {
		panic("acl: Register factory is nil")
	}
	if _, dup := backends[name]; dup {
		panic("acl: Register called twice for backend " + name)
	}
	backends[name] = f
}

// Open instantiates the named backend.
func Open(name string, opts Options) (Runtime, error) {
	backendsMu.RLock()
	f, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %v)", name, Backends())
	}
	return f(opts)
}

// Backends lists registered backend names in sorted order.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	out := make([]string, 0, len(backends))
	for name := range backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
