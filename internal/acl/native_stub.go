//go:build !acl || !cgo

package acl

// Without the 'acl' build tag (or without cgo) the vendor runtime is not
// linked. The backend name stays registered so selecting it fails with a
// clear error instead of "unknown backend".

func init() {
	Register("acl", func(Options) (Runtime, error) {
		return nil, ErrDependencyUnavailable("acl runtime not built (missing 'acl' build tag or cgo)")
	})
}
