//go:build linux

package shm

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

func shmDir() string {
	return "/dev/shm"
}

// checkShmSpace rejects a create that would not fit in the free space of
// the tmpfs behind /dev/shm. A failed usage probe is not treated as full;
// Ftruncate still reports ENOSPC authoritatively.
func checkShmSpace(size uint64, path string) error {
	if !strings.HasPrefix(path, "/dev/shm") {
		return nil
	}
	stat, err := disk.Usage("/dev/shm")
	if err != nil {
		return nil
	}
	if stat.Free < size {
		return fmt.Errorf("%w: %s needs %d bytes, /dev/shm has %d free", ErrQuotaExceeded, path, size, stat.Free)
	}
	return nil
}
