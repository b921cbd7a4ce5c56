//go:build !unix

package hostmem

func allocPinned(n int) ([]byte, error) { return make([]byte, n), nil }

func freePinned([]byte) error { return nil }
