package acl

import (
	"errors"
	"fmt"
)

// Kind classifies driver failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindIO
	KindAllocation
	KindSizeQuery
	KindDescribe
	KindLoad
	KindAlreadyLoaded
	KindBind
	KindExecution
	KindTransfer
	KindState
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown error",
	KindIO:            "io error",
	KindAllocation:    "allocation error",
	KindSizeQuery:     "size query error",
	KindDescribe:      "describe error",
	KindLoad:          "load error",
	KindAlreadyLoaded: "already loaded",
	KindBind:          "bind error",
	KindExecution:     "execution error",
	KindTransfer:      "transfer error",
	KindState:         "invalid state",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by driver operations. Err carries the runtime's own
// failure when there is one.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsIO(err error) bool            { return KindOf(err) == KindIO }
func IsAllocation(err error) bool    { return KindOf(err) == KindAllocation }
func IsSizeQuery(err error) bool     { return KindOf(err) == KindSizeQuery }
func IsDescribe(err error) bool      { return KindOf(err) == KindDescribe }
func IsLoad(err error) bool          { return KindOf(err) == KindLoad }
func IsAlreadyLoaded(err error) bool { return KindOf(err) == KindAlreadyLoaded }
func IsBind(err error) bool          { return KindOf(err) == KindBind }
func IsExecution(err error) bool     { return KindOf(err) == KindExecution }
func IsTransfer(err error) bool      { return KindOf(err) == KindTransfer }
func IsState(err error) bool         { return KindOf(err) == KindState }

// Status is a raw runtime error code.
type Status int32

func (s Status) Error() string { return fmt.Sprintf("runtime error %d", int32(s)) }

// Codes shared by the backends; values follow the vendor runtime.
const (
	StatusInvalidParam      Status = 100000
	StatusUninitialized     Status = 100001
	StatusRepeatInitialize  Status = 100002
	StatusInvalidFile       Status = 100003
	StatusInvalidModelID    Status = 100024
	StatusBadAlloc          Status = 200000
	StatusStorageOverLimit  Status = 200003
	StatusInternal          Status = 500000
	StatusRuntimeFailure    Status = 507000
	StatusMemoryAddressFree Status = 507899
)

// dependencyUnavailableError signals a runtime that is not compiled in or whose
// shared library cannot be found.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}
