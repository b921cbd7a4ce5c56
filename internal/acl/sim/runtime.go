// Package sim provides an in-process accelerator runtime. Memory lives in a
// hostmem arena split into host and device spaces, models are described by
// manifests and execution runs a deterministic Kernel. Every call is counted
// and most calls can be made to fail, which makes the runtime suitable for
// exercising rollback paths.
//
// Unlike the vendor runtime, memory and model calls do not require Init or
// SetDevice first; only the process lifecycle itself is checked.
package sim

import (
	"fmt"
	"sync"

	"omrun/internal/acl"
	"omrun/internal/acl/hostmem"
)

func init() {
	acl.Register("sim", func(o acl.Options) (acl.Runtime, error) {
		return New(WithRunMode(o.RunMode)), nil
	})
}

// Faults selects runtime calls that should fail. FailMallocAt counts device
// Malloc calls made after SetFaults, starting at 1.
type Faults struct {
	FailMallocAt         int
	FailMallocHost       bool
	FailMemcpy           bool
	FailQuerySize        bool
	FailLoad             bool
	FailCreateDesc       bool
	FailGetDesc          bool
	FailCreateDataset    bool
	FailCreateDataBuffer bool
	FailAddDatasetBuffer bool
	FailExecute          bool
	FailUnload           bool
	FailInit             bool
	FailSetDevice        bool
	FailCreateContext    bool
	FailCreateStream     bool
	FailRunMode          bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithRunMode selects the emulated address space.
func WithRunMode(m acl.RunMode) Option { return func(r *Runtime) { r.mode = m } }

// WithKernel replaces DefaultKernel.
func WithKernel(k Kernel) Option { return func(r *Runtime) { r.kernel = k } }

// WithMemoryLimit caps the live bytes across host and device.
func WithMemoryLimit(n uint64) Option { return func(r *Runtime) { r.limit = n } }

// WithModel registers a manifest for a model path without touching disk.
func WithModel(path string, m Manifest) Option {
	return func(r *Runtime) { r.manifests[path] = m }
}

type loadedModel struct {
	path     string
	manifest Manifest
}

type descRecord struct {
	filled   bool
	manifest Manifest
}

type bufferRecord struct {
	p    acl.Ptr
	size uint64
}

// Runtime is a simulated acl.Runtime. It is safe for concurrent use.
type Runtime struct {
	mu     sync.Mutex
	mode   acl.RunMode
	kernel Kernel
	limit  uint64
	mem    *hostmem.Arena

	manifests map[string]Manifest
	models    map[acl.ModelID]*loadedModel
	nextModel acl.ModelID
	descs     map[acl.Desc]*descRecord
	datasets  map[acl.Dataset][]acl.DataBuffer
	buffers   map[acl.DataBuffer]bufferRecord
	nextH     uintptr

	calls   map[string]int
	faults  Faults
	mallocs int

	initialized bool
	finalized   bool
	devices     map[int32]bool
	contexts    map[acl.Context]int32
	streams     map[acl.Stream]bool
}

var _ acl.Runtime = (*Runtime)(nil)

// New returns a runtime in host run mode unless configured otherwise.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		mode:      acl.RunModeHost,
		kernel:    DefaultKernel,
		manifests: make(map[string]Manifest),
		models:    make(map[acl.ModelID]*loadedModel),
		descs:     make(map[acl.Desc]*descRecord),
		datasets:  make(map[acl.Dataset][]acl.DataBuffer),
		buffers:   make(map[acl.DataBuffer]bufferRecord),
		calls:     make(map[string]int),
		devices:   make(map[int32]bool),
		contexts:  make(map[acl.Context]int32),
		streams:   make(map[acl.Stream]bool),
		nextModel: 1,
		nextH:     0x10,
	}
	for _, o := range opts {
		o(r)
	}
	r.mem = hostmem.New(0x7f0000000000, r.limit)
	return r
}

// Register adds a manifest for path, replacing any previous one.
func (r *Runtime) Register(path string, m Manifest) {
	r.mu.Lock()
	r.manifests[path] = m
	r.mu.Unlock()
}

// SetFaults replaces the active fault set and restarts the Malloc counter.
func (r *Runtime) SetFaults(f Faults) {
	r.mu.Lock()
	r.faults = f
	r.mallocs = 0
	r.mu.Unlock()
}

// Calls reports how many times the named method was invoked.
func (r *Runtime) Calls(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

// TotalCalls reports the number of runtime calls of any kind.
func (r *Runtime) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

// Leaks is a snapshot of everything still held by the runtime.
type Leaks struct {
	DeviceBlocks int
	HostBlocks   int
	Bytes        uint64
	Models       int
	Descs        int
	Datasets     int
	DataBuffers  int
}

// Clean reports whether nothing is held.
func (l Leaks) Clean() bool { return l == Leaks{} }

// Leaks reports live allocations and records.
func (r *Runtime) Leaks() Leaks {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Leaks{
		DeviceBlocks: r.mem.Live(hostmem.Device),
		HostBlocks:   r.mem.Live(hostmem.Host),
		Bytes:        r.mem.LiveBytes(),
		Models:       len(r.models),
		Descs:        len(r.descs),
		Datasets:     len(r.datasets),
		DataBuffers:  len(r.buffers),
	}
}

// BlockSize reports the size of a live allocation.
func (r *Runtime) BlockSize(p acl.Ptr) (uint64, bool) { return r.mem.Size(uintptr(p)) }

func (r *Runtime) count(name string) { r.calls[name]++ }

func (r *Runtime) handle() uintptr {
	r.nextH += 0x10
	return r.nextH
}

// hostSpace is where MallocHost memory lives: real host memory in host mode,
// device memory when the process itself runs on the device.
func (r *Runtime) hostSpace() hostmem.Space {
	if r.mode == acl.RunModeDevice {
		return hostmem.Device
	}
	return hostmem.Host
}

// Process

func (r *Runtime) Init(string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("Init")
	if r.faults.FailInit {
		return acl.StatusInternal
	}
	if r.initialized || r.finalized {
		return acl.StatusRepeatInitialize
	}
	r.initialized = true
	return nil
}

func (r *Runtime) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("Finalize")
	if !r.initialized {
		return acl.StatusUninitialized
	}
	r.initialized = false
	r.finalized = true
	return nil
}

func (r *Runtime) SetDevice(id int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("SetDevice")
	if !r.initialized {
		return acl.StatusUninitialized
	}
	if r.faults.FailSetDevice || id < 0 {
		return acl.StatusInvalidParam
	}
	r.devices[id] = true
	return nil
}

func (r *Runtime) ResetDevice(id int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("ResetDevice")
	if !r.devices[id] {
		return acl.StatusInvalidParam
	}
	delete(r.devices, id)
	return nil
}

func (r *Runtime) CreateContext(id int32) (acl.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("CreateContext")
	if r.faults.FailCreateContext || !r.devices[id] {
		return 0, acl.StatusInvalidParam
	}
	c := acl.Context(r.handle())
	r.contexts[c] = id
	return c, nil
}

func (r *Runtime) DestroyContext(c acl.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("DestroyContext")
	if _, ok := r.contexts[c]; !ok {
		return acl.StatusInvalidParam
	}
	delete(r.contexts, c)
	return nil
}

func (r *Runtime) CreateStream() (acl.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("CreateStream")
	if r.faults.FailCreateStream || len(r.contexts) == 0 {
		return 0, acl.StatusInvalidParam
	}
	s := acl.Stream(r.handle())
	r.streams[s] = true
	return s, nil
}

func (r *Runtime) DestroyStream(s acl.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("DestroyStream")
	if !r.streams[s] {
		return acl.StatusInvalidParam
	}
	delete(r.streams, s)
	return nil
}

func (r *Runtime) RunMode() (acl.RunMode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("RunMode")
	if r.faults.FailRunMode {
		return acl.RunModeHost, acl.StatusInternal
	}
	return r.mode, nil
}

// Memory

func (r *Runtime) Malloc(size uint64, _ acl.MallocPolicy) (acl.Ptr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("Malloc")
	r.mallocs++
	if r.faults.FailMallocAt > 0 && r.mallocs == r.faults.FailMallocAt {
		return 0, acl.StatusBadAlloc
	}
	h, err := r.mem.Alloc(size, hostmem.Device, false)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", acl.StatusBadAlloc, err)
	}
	return acl.Ptr(h), nil
}

func (r *Runtime) Free(p acl.Ptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("Free")
	if err := r.mem.Free(uintptr(p), hostmem.Device); err != nil {
		return fmt.Errorf("%w: %v", acl.StatusMemoryAddressFree, err)
	}
	return nil
}

func (r *Runtime) MallocHost(size uint64) (acl.Ptr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("MallocHost")
	if r.faults.FailMallocHost {
		return 0, acl.StatusBadAlloc
	}
	space := r.hostSpace()
	h, err := r.mem.Alloc(size, space, space == hostmem.Host)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", acl.StatusBadAlloc, err)
	}
	return acl.Ptr(h), nil
}

func (r *Runtime) FreeHost(p acl.Ptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("FreeHost")
	if err := r.mem.Free(uintptr(p), r.hostSpace()); err != nil {
		return fmt.Errorf("%w: %v", acl.StatusMemoryAddressFree, err)
	}
	return nil
}

func (r *Runtime) Memcpy(dst acl.Ptr, dstMax uint64, src acl.Ptr, count uint64, kind acl.MemcpyKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("Memcpy")
	if r.faults.FailMemcpy {
		return acl.StatusRuntimeFailure
	}
	if count > dstMax {
		return fmt.Errorf("%w: copy of %d bytes into %d", acl.StatusInvalidParam, count, dstMax)
	}
	d, dspace, err := r.mem.Bytes(uintptr(dst), count)
	if err != nil {
		return fmt.Errorf("%w: dst: %v", acl.StatusInvalidParam, err)
	}
	s, sspace, err := r.mem.Bytes(uintptr(src), count)
	if err != nil {
		return fmt.Errorf("%w: src: %v", acl.StatusInvalidParam, err)
	}
	if r.mode == acl.RunModeHost {
		want := map[acl.MemcpyKind][2]hostmem.Space{
			acl.MemcpyHostToHost:     {hostmem.Host, hostmem.Host},
			acl.MemcpyHostToDevice:   {hostmem.Host, hostmem.Device},
			acl.MemcpyDeviceToHost:   {hostmem.Device, hostmem.Host},
			acl.MemcpyDeviceToDevice: {hostmem.Device, hostmem.Device},
		}[kind]
		if sspace != want[0] || dspace != want[1] {
			return fmt.Errorf("%w: %s copy from %s to %s memory", acl.StatusInvalidParam, kind, sspace, dspace)
		}
	}
	copy(d, s)
	return nil
}

func (r *Runtime) View(p acl.Ptr, size uint64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("View")
	b, space, err := r.mem.Bytes(uintptr(p), size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", acl.StatusInvalidParam, err)
	}
	if r.mode == acl.RunModeHost && space == hostmem.Device {
		return nil, fmt.Errorf("%w: device memory %#x is not addressable from the host", acl.StatusInvalidParam, uintptr(p))
	}
	return b, nil
}

// Models

func (r *Runtime) manifest(path string) (Manifest, error) {
	if m, ok := r.manifests[path]; ok {
		return m, m.validate()
	}
	m, err := LoadManifest(path)
	if err != nil {
		return m, fmt.Errorf("%w: %v", acl.StatusInvalidFile, err)
	}
	r.manifests[path] = m
	return m, nil
}

func (r *Runtime) QuerySize(path string) (uint64, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("QuerySize")
	if r.faults.FailQuerySize {
		return 0, 0, acl.StatusInvalidFile
	}
	m, err := r.manifest(path)
	if err != nil {
		return 0, 0, err
	}
	return m.WorkSize, m.WeightSize, nil
}

func (r *Runtime) LoadFromFileWithMem(path string, work acl.Ptr, workSize uint64, weight acl.Ptr, weightSize uint64) (acl.ModelID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("LoadFromFileWithMem")
	if r.faults.FailLoad {
		return 0, acl.StatusInvalidFile
	}
	m, err := r.manifest(path)
	if err != nil {
		return 0, err
	}
	if workSize < m.WorkSize || weightSize < m.WeightSize {
		return 0, fmt.Errorf("%w: model needs work=%d weight=%d, got %d/%d", acl.StatusInvalidParam, m.WorkSize, m.WeightSize, workSize, weightSize)
	}
	for _, p := range []struct {
		ptr  acl.Ptr
		size uint64
	}{{work, workSize}, {weight, weightSize}} {
		if _, space, err := r.mem.Bytes(uintptr(p.ptr), p.size); err != nil || space != hostmem.Device {
			return 0, fmt.Errorf("%w: model memory %#x is not a device block of %d bytes", acl.StatusInvalidParam, uintptr(p.ptr), p.size)
		}
	}
	id := r.nextModel
	r.nextModel++
	r.models[id] = &loadedModel{path: path, manifest: m}
	return id, nil
}

func (r *Runtime) Unload(id acl.ModelID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("Unload")
	if _, ok := r.models[id]; !ok {
		return acl.StatusInvalidModelID
	}
	// The model is gone even when the fault reports failure.
	delete(r.models, id)
	if r.faults.FailUnload {
		return acl.StatusRuntimeFailure
	}
	return nil
}

func (r *Runtime) CreateDesc() (acl.Desc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("CreateDesc")
	if r.faults.FailCreateDesc {
		return 0, acl.StatusBadAlloc
	}
	d := acl.Desc(r.handle())
	r.descs[d] = &descRecord{}
	return d, nil
}

func (r *Runtime) GetDesc(d acl.Desc, id acl.ModelID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("GetDesc")
	rec, ok := r.descs[d]
	if !ok {
		return acl.StatusInvalidParam
	}
	m, ok := r.models[id]
	if !ok {
		return acl.StatusInvalidModelID
	}
	if r.faults.FailGetDesc {
		return acl.StatusInternal
	}
	rec.filled = true
	rec.manifest = m.manifest
	return nil
}

func (r *Runtime) DestroyDesc(d acl.Desc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("DestroyDesc")
	if _, ok := r.descs[d]; !ok {
		return acl.StatusInvalidParam
	}
	delete(r.descs, d)
	return nil
}

func (r *Runtime) filledDesc(d acl.Desc) (Manifest, bool) {
	rec, ok := r.descs[d]
	if !ok || !rec.filled {
		return Manifest{}, false
	}
	return rec.manifest, true
}

func (r *Runtime) NumInputs(d acl.Desc) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("NumInputs")
	m, _ := r.filledDesc(d)
	return len(m.Inputs)
}

func (r *Runtime) NumOutputs(d acl.Desc) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("NumOutputs")
	m, _ := r.filledDesc(d)
	return len(m.Outputs)
}

func (r *Runtime) InputSize(d acl.Desc, i int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("InputSize")
	m, _ := r.filledDesc(d)
	if i < 0 || i >= len(m.Inputs) {
		return 0
	}
	return m.Inputs[i]
}

func (r *Runtime) OutputSize(d acl.Desc, i int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("OutputSize")
	m, _ := r.filledDesc(d)
	if i < 0 || i >= len(m.Outputs) {
		return 0
	}
	return m.Outputs[i]
}

func (r *Runtime) CreateDataset() (acl.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("CreateDataset")
	if r.faults.FailCreateDataset {
		return 0, acl.StatusBadAlloc
	}
	ds := acl.Dataset(r.handle())
	r.datasets[ds] = nil
	return ds, nil
}

// DestroyDataset drops the dataset only. Its data buffer records stay alive,
// as with the vendor runtime, and must be destroyed separately.
func (r *Runtime) DestroyDataset(ds acl.Dataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("DestroyDataset")
	if _, ok := r.datasets[ds]; !ok {
		return acl.StatusInvalidParam
	}
	delete(r.datasets, ds)
	return nil
}

func (r *Runtime) CreateDataBuffer(p acl.Ptr, size uint64) (acl.DataBuffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("CreateDataBuffer")
	if r.faults.FailCreateDataBuffer {
		return 0, acl.StatusBadAlloc
	}
	b := acl.DataBuffer(r.handle())
	r.buffers[b] = bufferRecord{p: p, size: size}
	return b, nil
}

func (r *Runtime) DestroyDataBuffer(b acl.DataBuffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("DestroyDataBuffer")
	if _, ok := r.buffers[b]; !ok {
		return acl.StatusInvalidParam
	}
	delete(r.buffers, b)
	return nil
}

func (r *Runtime) AddDatasetBuffer(ds acl.Dataset, b acl.DataBuffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("AddDatasetBuffer")
	if r.faults.FailAddDatasetBuffer {
		return acl.StatusInvalidParam
	}
	bufs, ok := r.datasets[ds]
	if !ok {
		return acl.StatusInvalidParam
	}
	if _, ok := r.buffers[b]; !ok {
		return acl.StatusInvalidParam
	}
	r.datasets[ds] = append(bufs, b)
	return nil
}

func (r *Runtime) views(ds acl.Dataset, want []uint64, exact bool) ([][]byte, error) {
	bufs, ok := r.datasets[ds]
	if !ok {
		return nil, fmt.Errorf("%w: unknown dataset", acl.StatusInvalidParam)
	}
	if len(bufs) != len(want) {
		return nil, fmt.Errorf("%w: dataset has %d buffers, model expects %d", acl.StatusInvalidParam, len(bufs), len(want))
	}
	out := make([][]byte, len(bufs))
	for i, b := range bufs {
		rec, ok := r.buffers[b]
		if !ok {
			return nil, fmt.Errorf("%w: data buffer %d destroyed", acl.StatusInvalidParam, i)
		}
		if rec.size < want[i] || (exact && rec.size != want[i]) {
			return nil, fmt.Errorf("%w: buffer %d has %d bytes, model expects %d", acl.StatusInvalidParam, i, rec.size, want[i])
		}
		v, _, err := r.mem.Bytes(uintptr(rec.p), rec.size)
		if err != nil {
			return nil, fmt.Errorf("%w: buffer %d: %v", acl.StatusInvalidParam, i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (r *Runtime) Execute(id acl.ModelID, input, output acl.Dataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count("Execute")
	m, ok := r.models[id]
	if !ok {
		return acl.StatusInvalidModelID
	}
	if r.faults.FailExecute {
		return acl.StatusRuntimeFailure
	}
	in, err := r.views(input, m.manifest.Inputs, true)
	if err != nil {
		return err
	}
	out, err := r.views(output, m.manifest.Outputs, false)
	if err != nil {
		return err
	}
	if err := r.kernel(in, out); err != nil {
		return fmt.Errorf("%w: %v", acl.StatusRuntimeFailure, err)
	}
	return nil
}
