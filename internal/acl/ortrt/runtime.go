//go:build ort && cgo

package ortrt

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"omrun/internal/acl"
	"omrun/internal/acl/hostmem"
)

// WorkSize is the work memory reported for every model. ONNX Runtime manages
// its own scratch memory, so the arena only has to exist.
const WorkSize = 1 << 20

func init() {
	acl.Register("ort", func(o acl.Options) (acl.Runtime, error) { return New(o.LibraryPath), nil })
}

type tensorInfo struct {
	name  string
	shape ort.Shape
	dtype ort.TensorElementDataType
	size  uint64
}

type model struct {
	session *ort.DynamicAdvancedSession
	inputs  []tensorInfo
	outputs []tensorInfo
}

type buffer struct {
	p    acl.Ptr
	size uint64
}

// Runtime implements acl.Runtime on ONNX Runtime CPU sessions.
type Runtime struct {
	lib string

	mu       sync.Mutex
	mem      *hostmem.Arena
	inited   bool
	models   map[acl.ModelID]*model
	nextID   acl.ModelID
	descs    map[acl.Desc]*model
	datasets map[acl.Dataset][]acl.DataBuffer
	buffers  map[acl.DataBuffer]buffer
	nextH    uintptr
}

var _ acl.Runtime = (*Runtime)(nil)

// New returns a runtime that loads the ONNX Runtime shared library from lib,
// or from the default search path when lib is empty.
func New(lib string) *Runtime {
	return &Runtime{
		lib:      lib,
		mem:      hostmem.New(0x7e000000, 0),
		models:   make(map[acl.ModelID]*model),
		nextID:   1,
		descs:    make(map[acl.Desc]*model),
		datasets: make(map[acl.Dataset][]acl.DataBuffer),
		buffers:  make(map[acl.DataBuffer]buffer),
		nextH:    0x10,
	}
}

func (r *Runtime) handle() uintptr {
	r.nextH += 0x10
	return r.nextH
}

// Process

func (r *Runtime) Init(string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inited || ort.IsInitialized() {
		return acl.StatusRepeatInitialize
	}
	if r.lib != "" {
		ort.SetSharedLibraryPath(r.lib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: %v", acl.StatusInternal, err)
	}
	r.inited = true
	return nil
}

func (r *Runtime) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inited {
		return acl.StatusUninitialized
	}
	r.inited = false
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("%w: %v", acl.StatusInternal, err)
	}
	return nil
}

// SetDevice accepts device 0 only; sessions run on the CPU.
func (r *Runtime) SetDevice(id int32) error {
	if id != 0 {
		return fmt.Errorf("%w: device %d (cpu backend has device 0 only)", acl.StatusInvalidParam, id)
	}
	return nil
}

func (r *Runtime) ResetDevice(int32) error { return nil }

func (r *Runtime) CreateContext(int32) (acl.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return acl.Context(r.handle()), nil
}

func (r *Runtime) DestroyContext(acl.Context) error { return nil }

func (r *Runtime) CreateStream() (acl.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return acl.Stream(r.handle()), nil
}

func (r *Runtime) DestroyStream(acl.Stream) error { return nil }

func (r *Runtime) RunMode() (acl.RunMode, error) { return acl.RunModeDevice, nil }

// Memory

func (r *Runtime) Malloc(size uint64, _ acl.MallocPolicy) (acl.Ptr, error) {
	h, err := r.mem.Alloc(size, hostmem.Device, false)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", acl.StatusBadAlloc, err)
	}
	return acl.Ptr(h), nil
}

func (r *Runtime) Free(p acl.Ptr) error {
	if err := r.mem.Free(uintptr(p), hostmem.Device); err != nil {
		return fmt.Errorf("%w: %v", acl.StatusMemoryAddressFree, err)
	}
	return nil
}

func (r *Runtime) MallocHost(size uint64) (acl.Ptr, error) {
	return r.Malloc(size, acl.MallocNormalOnly)
}

func (r *Runtime) FreeHost(p acl.Ptr) error { return r.Free(p) }

func (r *Runtime) Memcpy(dst acl.Ptr, dstMax uint64, src acl.Ptr, count uint64, _ acl.MemcpyKind) error {
	if count > dstMax {
		return fmt.Errorf("%w: copy of %d bytes into %d", acl.StatusInvalidParam, count, dstMax)
	}
	d, _, err := r.mem.Bytes(uintptr(dst), count)
	if err != nil {
		return fmt.Errorf("%w: dst: %v", acl.StatusInvalidParam, err)
	}
	s, _, err := r.mem.Bytes(uintptr(src), count)
	if err != nil {
		return fmt.Errorf("%w: src: %v", acl.StatusInvalidParam, err)
	}
	copy(d, s)
	return nil
}

func (r *Runtime) View(p acl.Ptr, size uint64) ([]byte, error) {
	b, _, err := r.mem.Bytes(uintptr(p), size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", acl.StatusInvalidParam, err)
	}
	return b, nil
}

// Models

// QuerySize reports the fixed work arena and the model file size as the
// weight size.
func (r *Runtime) QuerySize(path string) (uint64, uint64, error) {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
		return 0, 0, acl.StatusInvalidFile
	}
	return WorkSize, uint64(fi.Size()), nil
}

func describe(infos []ort.InputOutputInfo) ([]tensorInfo, error) {
	out := make([]tensorInfo, len(infos))
	for i, info := range infos {
		width, err := elementWidth(info.DataType)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", info.Name, err)
		}
		shape := make(ort.Shape, len(info.Dimensions))
		n := uint64(1)
		for j, d := range info.Dimensions {
			// dynamic dimensions run with batch size 1
			if d < 1 {
				d = 1
			}
			shape[j] = d
			n *= uint64(d)
		}
		out[i] = tensorInfo{name: info.Name, shape: shape, dtype: info.DataType, size: n * width}
	}
	return out, nil
}

func elementWidth(t ort.TensorElementDataType) (uint64, error) {
	switch t {
	case ort.TensorElementDataTypeFloat:
		return 4, nil
	case ort.TensorElementDataTypeUint8:
		return 1, nil
	}
	return 0, fmt.Errorf("unsupported tensor element type %v", t)
}

func names(ts []tensorInfo) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.name
	}
	return out
}

// LoadFromFileWithMem reads the model into weight memory and builds a session
// from those bytes.
func (r *Runtime) LoadFromFileWithMem(path string, work acl.Ptr, workSize uint64, weight acl.Ptr, weightSize uint64) (acl.ModelID, error) {
	if _, _, err := r.mem.Bytes(uintptr(work), workSize); err != nil || workSize < WorkSize {
		return 0, fmt.Errorf("%w: work memory", acl.StatusInvalidParam)
	}
	data, _, err := r.mem.Bytes(uintptr(weight), weightSize)
	if err != nil {
		return 0, fmt.Errorf("%w: weight memory: %v", acl.StatusInvalidParam, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", acl.StatusInvalidFile, err)
	}
	defer f.Close()
	if _, err := io.ReadFull(f, data); err != nil {
		return 0, fmt.Errorf("%w: %v", acl.StatusInvalidFile, err)
	}

	ins, outs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", acl.StatusInvalidFile, err)
	}
	m := &model{}
	if m.inputs, err = describe(ins); err != nil {
		return 0, fmt.Errorf("%w: %v", acl.StatusInvalidFile, err)
	}
	if m.outputs, err = describe(outs); err != nil {
		return 0, fmt.Errorf("%w: %v", acl.StatusInvalidFile, err)
	}
	m.session, err = ort.NewDynamicAdvancedSessionWithONNXData(data, names(m.inputs), names(m.outputs), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", acl.StatusInternal, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.models[id] = m
	return id, nil
}

func (r *Runtime) Unload(id acl.ModelID) error {
	r.mu.Lock()
	m, ok := r.models[id]
	delete(r.models, id)
	r.mu.Unlock()
	if !ok {
		return acl.StatusInvalidModelID
	}
	if err := m.session.Destroy(); err != nil {
		return fmt.Errorf("%w: %v", acl.StatusRuntimeFailure, err)
	}
	return nil
}

func (r *Runtime) CreateDesc() (acl.Desc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := acl.Desc(r.handle())
	r.descs[d] = nil
	return d, nil
}

func (r *Runtime) GetDesc(d acl.Desc, id acl.ModelID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.descs[d]; !ok {
		return acl.StatusInvalidParam
	}
	m, ok := r.models[id]
	if !ok {
		return acl.StatusInvalidModelID
	}
	r.descs[d] = m
	return nil
}

func (r *Runtime) DestroyDesc(d acl.Desc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.descs[d]; !ok {
		return acl.StatusInvalidParam
	}
	delete(r.descs, d)
	return nil
}

func (r *Runtime) desc(d acl.Desc) *model {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.descs[d]
}

func (r *Runtime) NumInputs(d acl.Desc) int {
	if m := r.desc(d); m != nil {
		return len(m.inputs)
	}
	return 0
}

func (r *Runtime) NumOutputs(d acl.Desc) int {
	if m := r.desc(d); m != nil {
		return len(m.outputs)
	}
	return 0
}

func (r *Runtime) InputSize(d acl.Desc, i int) uint64 {
	if m := r.desc(d); m != nil && i >= 0 && i < len(m.inputs) {
		return m.inputs[i].size
	}
	return 0
}

func (r *Runtime) OutputSize(d acl.Desc, i int) uint64 {
	if m := r.desc(d); m != nil && i >= 0 && i < len(m.outputs) {
		return m.outputs[i].size
	}
	return 0
}

func (r *Runtime) CreateDataset() (acl.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds := acl.Dataset(r.handle())
	r.datasets[ds] = nil
	return ds, nil
}

func (r *Runtime) DestroyDataset(ds acl.Dataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.datasets[ds]; !ok {
		return acl.StatusInvalidParam
	}
	delete(r.datasets, ds)
	return nil
}

func (r *Runtime) CreateDataBuffer(p acl.Ptr, size uint64) (acl.DataBuffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := acl.DataBuffer(r.handle())
	r.buffers[b] = buffer{p: p, size: size}
	return b, nil
}

func (r *Runtime) DestroyDataBuffer(b acl.DataBuffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.buffers[b]; !ok {
		return acl.StatusInvalidParam
	}
	delete(r.buffers, b)
	return nil
}

func (r *Runtime) AddDatasetBuffer(ds acl.Dataset, b acl.DataBuffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
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

// views resolves every buffer of ds against the tensor layout ts.
func (r *Runtime) views(ds acl.Dataset, ts []tensorInfo) ([][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bufs, ok := r.datasets[ds]
	if !ok || len(bufs) != len(ts) {
		return nil, fmt.Errorf("%w: dataset has %d buffers, model expects %d", acl.StatusInvalidParam, len(bufs), len(ts))
	}
	out := make([][]byte, len(bufs))
	for i, b := range bufs {
		rec, ok := r.buffers[b]
		if !ok || rec.size < ts[i].size {
			return nil, fmt.Errorf("%w: buffer %d too small for %s", acl.StatusInvalidParam, i, ts[i].name)
		}
		v, _, err := r.mem.Bytes(uintptr(rec.p), ts[i].size)
		if err != nil {
			return nil, fmt.Errorf("%w: buffer %d: %v", acl.StatusInvalidParam, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Execute copies the input buffers into tensors, runs the session and copies
// the results back into the output buffers.
func (r *Runtime) Execute(id acl.ModelID, input, output acl.Dataset) error {
	r.mu.Lock()
	m, ok := r.models[id]
	r.mu.Unlock()
	if !ok {
		return acl.StatusInvalidModelID
	}
	in, err := r.views(input, m.inputs)
	if err != nil {
		return err
	}
	out, err := r.views(output, m.outputs)
	if err != nil {
		return err
	}

	var values []ort.Value
	defer func() {
		for _, v := range values {
			_ = v.Destroy()
		}
	}()
	ins := make([]ort.Value, len(in))
	for i, t := range m.inputs {
		v, err := newTensor(t, in[i])
		if err != nil {
			return fmt.Errorf("%w: input %s: %v", acl.StatusRuntimeFailure, t.name, err)
		}
		values = append(values, v)
		ins[i] = v
	}
	outs := make([]ort.Value, len(out))
	for i, t := range m.outputs {
		v, err := newTensor(t, nil)
		if err != nil {
			return fmt.Errorf("%w: output %s: %v", acl.StatusRuntimeFailure, t.name, err)
		}
		values = append(values, v)
		outs[i] = v
	}
	if err := m.session.Run(ins, outs); err != nil {
		return fmt.Errorf("%w: %v", acl.StatusRuntimeFailure, err)
	}
	for i, v := range outs {
		readTensor(v, out[i])
	}
	return nil
}

// newTensor allocates a tensor for t, filled from src when src is non-nil.
func newTensor(t tensorInfo, src []byte) (ort.Value, error) {
	switch t.dtype {
	case ort.TensorElementDataTypeFloat:
		tn, err := ort.NewEmptyTensor[float32](t.shape)
		if err != nil {
			return nil, err
		}
		if src != nil {
			dst := tn.GetData()
			for i := range dst {
				dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
			}
		}
		return tn, nil
	case ort.TensorElementDataTypeUint8:
		tn, err := ort.NewEmptyTensor[uint8](t.shape)
		if err != nil {
			return nil, err
		}
		if src != nil {
			copy(tn.GetData(), src)
		}
		return tn, nil
	}
	return nil, fmt.Errorf("unsupported tensor element type %v", t.dtype)
}

func readTensor(v ort.Value, dst []byte) {
	switch tn := v.(type) {
	case *ort.Tensor[float32]:
		for i, f := range tn.GetData() {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
		}
	case *ort.Tensor[uint8]:
		copy(dst, tn.GetData())
	}
}
