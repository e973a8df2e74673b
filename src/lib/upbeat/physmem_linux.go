//go:build linux

package upbeat

import "golang.org/x/sys/unix"

func mapPhys(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

func unmapPhys(b []byte) error {
	return unix.Munmap(b)
}
