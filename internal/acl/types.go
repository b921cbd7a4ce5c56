package acl

import "fmt"

// Ptr addresses a buffer allocated by the runtime. It is a token, not a Go
// pointer; zero means "no buffer".
type Ptr uintptr

// ModelID identifies a loaded model. Unique while the model stays loaded.
type ModelID uint32

// Desc is a model description handle.
type Desc uintptr

// Dataset is an ordered collection of data buffer records.
type Dataset uintptr

// DataBuffer is a (Ptr, size) record understood by the runtime. Destroying it
// never frees the memory it points at.
type DataBuffer uintptr

// Context and Stream are execution handles bound to a device.
type (
	Context uintptr
	Stream  uintptr
)

// RunMode reports where the calling process executes. Values follow the
// vendor runtime's aclrtRunMode.
type RunMode int

const (
	RunModeDevice RunMode = iota
	RunModeHost
)

func (m RunMode) String() string {
	switch m {
	case RunModeDevice:
		return "device"
	case RunModeHost:
		return "host"
	default:
		return fmt.Sprintf("runmode(%d)", int(m))
	}
}

// ParseRunMode accepts "host" or "device".
func ParseRunMode(s string) (RunMode, error) {
	switch s {
	case "host", "":
		return RunModeHost, nil
	case "device":
		return RunModeDevice, nil
	default:
		return RunModeHost, fmt.Errorf("unknown run mode %q", s)
	}
}

// MallocPolicy selects the page size used for device allocations.
type MallocPolicy int

const (
	MallocHugeFirst MallocPolicy = iota
	MallocHugeOnly
	MallocNormalOnly
)

// MemcpyKind is the direction of a copy.
type MemcpyKind int

const (
	MemcpyHostToHost MemcpyKind = iota
	MemcpyHostToDevice
	MemcpyDeviceToHost
	MemcpyDeviceToDevice
)

func (k MemcpyKind) String() string {
	switch k {
	case MemcpyHostToHost:
		return "h2h"
	case MemcpyHostToDevice:
		return "h2d"
	case MemcpyDeviceToHost:
		return "d2h"
	case MemcpyDeviceToDevice:
		return "d2d"
	default:
		return fmt.Sprintf("memcpy(%d)", int(k))
	}
}
