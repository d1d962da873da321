//go:build darwin

package shm

import "os"

// Darwin has no tmpfs mount comparable to /dev/shm, so regions live as
// plain files in the temporary directory. They still map shared and the
// flock lifetime protocol works the same way.
func shmDir() string {
	return os.TempDir()
}

func checkShmSpace(uint64, string) error {
	return nil
}
