//go:build unix

package hostmem

import "golang.org/x/sys/unix"

func allocPinned(n int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	// RLIMIT_MEMLOCK may refuse; the mapping is still usable unlocked.
	_ = unix.Mlock(b)
	return b, nil
}

func freePinned(b []byte) error {
	_ = unix.Munlock(b)
	return unix.Munmap(b)
}
