//go:build unix

package pool

import (
	"golang.org/x/sys/unix"
)

func mapArea(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapArea(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}

	if err := unix.Munmap(mem); err != nil && err != unix.EINVAL {
		return err
	}

	return nil
}
