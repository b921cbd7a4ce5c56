//go:build acl && cgo

package acl

// #cgo LDFLAGS: -lascendcl
// #include <stdlib.h>
// #include "acl/acl.h"
import "C"

import "unsafe"

func init() {
	Register("acl", func(Options) (Runtime, error) { return native{}, nil })
}

// native forwards every call to the vendor runtime. The run mode is whatever
// the installed runtime reports; Options.RunMode is ignored.
type native struct{}

func check(ret C.aclError) error {
	if ret == 0 {
		return nil
	}
	return Status(ret)
}

func ptr(p Ptr) unsafe.Pointer              { return unsafe.Pointer(uintptr(p)) }
func cdesc(d Desc) *C.aclmdlDesc            { return (*C.aclmdlDesc)(unsafe.Pointer(uintptr(d))) }
func cdataset(d Dataset) *C.aclmdlDataset   { return (*C.aclmdlDataset)(unsafe.Pointer(uintptr(d))) }
func cbuffer(b DataBuffer) *C.aclDataBuffer { return (*C.aclDataBuffer)(unsafe.Pointer(uintptr(b))) }

func (native) Init(configPath string) error {
	var cpath *C.char
	if configPath != "" {
		cpath = C.CString(configPath)
		defer C.free(unsafe.Pointer(cpath))
	}
	return check(C.aclInit(cpath))
}

func (native) Finalize() error { return check(C.aclFinalize()) }

func (native) SetDevice(id int32) error   { return check(C.aclrtSetDevice(C.int32_t(id))) }
func (native) ResetDevice(id int32) error { return check(C.aclrtResetDevice(C.int32_t(id))) }

func (native) CreateContext(id int32) (Context, error) {
	var ctx C.aclrtContext
	if err := check(C.aclrtCreateContext(&ctx, C.int32_t(id))); err != nil {
		return 0, err
	}
	return Context(uintptr(ctx)), nil
}

func (native) DestroyContext(c Context) error {
	return check(C.aclrtDestroyContext(C.aclrtContext(unsafe.Pointer(uintptr(c)))))
}

func (native) CreateStream() (Stream, error) {
	var s C.aclrtStream
	if err := check(C.aclrtCreateStream(&s)); err != nil {
		return 0, err
	}
	return Stream(uintptr(s)), nil
}

func (native) DestroyStream(s Stream) error {
	return check(C.aclrtDestroyStream(C.aclrtStream(unsafe.Pointer(uintptr(s)))))
}

func (native) RunMode() (RunMode, error) {
	var mode C.aclrtRunMode
	if err := check(C.aclrtGetRunMode(&mode)); err != nil {
		return RunModeHost, err
	}
	return RunMode(mode), nil
}

func (native) Malloc(size uint64, policy MallocPolicy) (Ptr, error) {
	var p unsafe.Pointer
	if err := check(C.aclrtMalloc(&p, C.size_t(size), C.aclrtMemMallocPolicy(policy))); err != nil {
		return 0, err
	}
	return Ptr(uintptr(p)), nil
}

func (native) Free(p Ptr) error { return check(C.aclrtFree(ptr(p))) }

func (native) MallocHost(size uint64) (Ptr, error) {
	var p unsafe.Pointer
	if err := check(C.aclrtMallocHost(&p, C.size_t(size))); err != nil {
		return 0, err
	}
	if p == nil {
		return 0, StatusBadAlloc
	}
	return Ptr(uintptr(p)), nil
}

func (native) FreeHost(p Ptr) error { return check(C.aclrtFreeHost(ptr(p))) }

func (native) Memcpy(dst Ptr, dstMax uint64, src Ptr, count uint64, kind MemcpyKind) error {
	return check(C.aclrtMemcpy(ptr(dst), C.size_t(dstMax), ptr(src), C.size_t(count), C.aclrtMemcpyKind(kind)))
}

func (native) View(p Ptr, size uint64) ([]byte, error) {
	if p == 0 {
		return nil, StatusInvalidParam
	}
	return unsafe.Slice((*byte)(ptr(p)), size), nil
}

func (native) QuerySize(modelPath string) (uint64, uint64, error) {
	cpath := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cpath))
	var work, weight C.size_t
	if err := check(C.aclmdlQuerySize(cpath, &work, &weight)); err != nil {
		return 0, 0, err
	}
	return uint64(work), uint64(weight), nil
}

func (native) LoadFromFileWithMem(modelPath string, work Ptr, workSize uint64, weight Ptr, weightSize uint64) (ModelID, error) {
	cpath := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cpath))
	var id C.uint32_t
	err := check(C.aclmdlLoadFromFileWithMem(cpath, &id, ptr(work), C.size_t(workSize), ptr(weight), C.size_t(weightSize)))
	if err != nil {
		return 0, err
	}
	return ModelID(id), nil
}

func (native) Unload(id ModelID) error { return check(C.aclmdlUnload(C.uint32_t(id))) }

func (native) CreateDesc() (Desc, error) {
	d := C.aclmdlCreateDesc()
	if d == nil {
		return 0, StatusBadAlloc
	}
	return Desc(uintptr(unsafe.Pointer(d))), nil
}

func (native) GetDesc(d Desc, id ModelID) error {
	return check(C.aclmdlGetDesc(cdesc(d), C.uint32_t(id)))
}

func (native) DestroyDesc(d Desc) error { return check(C.aclmdlDestroyDesc(cdesc(d))) }

func (native) NumInputs(d Desc) int  { return int(C.aclmdlGetNumInputs(cdesc(d))) }
func (native) NumOutputs(d Desc) int { return int(C.aclmdlGetNumOutputs(cdesc(d))) }

func (native) InputSize(d Desc, index int) uint64 {
	return uint64(C.aclmdlGetInputSizeByIndex(cdesc(d), C.size_t(index)))
}

func (native) OutputSize(d Desc, index int) uint64 {
	return uint64(C.aclmdlGetOutputSizeByIndex(cdesc(d), C.size_t(index)))
}

func (native) CreateDataset() (Dataset, error) {
	ds := C.aclmdlCreateDataset()
	if ds == nil {
		return 0, StatusBadAlloc
	}
	return Dataset(uintptr(unsafe.Pointer(ds))), nil
}

func (native) DestroyDataset(ds Dataset) error { return check(C.aclmdlDestroyDataset(cdataset(ds))) }

func (native) CreateDataBuffer(p Ptr, size uint64) (DataBuffer, error) {
	b := C.aclCreateDataBuffer(ptr(p), C.size_t(size))
	if b == nil {
		return 0, StatusBadAlloc
	}
	return DataBuffer(uintptr(unsafe.Pointer(b))), nil
}

func (native) DestroyDataBuffer(b DataBuffer) error { return check(C.aclDestroyDataBuffer(cbuffer(b))) }

func (native) AddDatasetBuffer(ds Dataset, b DataBuffer) error {
	return check(C.aclmdlAddDatasetBuffer(cdataset(ds), cbuffer(b)))
}

func (native) Execute(id ModelID, input, output Dataset) error {
	return check(C.aclmdlExecute(C.uint32_t(id), cdataset(input), cdataset(output)))
}
