//go:build !ort || !cgo

package ortrt

import "omrun/internal/acl"

func init() {
	acl.Register("ort", func(acl.Options) (acl.Runtime, error) {
		return nil, acl.ErrDependencyUnavailable("onnxruntime backend not built (missing 'ort' build tag or cgo)")
	})
}
