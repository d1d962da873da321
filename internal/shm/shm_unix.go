//go:build linux || darwin

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

const (
	openRetryInterval = 2 * time.Millisecond
	openRetryLimit    = 64
)

// Region is a mapped shared memory region backed by a file.
//
// Every open handle keeps a shared flock on the backing file. Close probes
// for an exclusive flock; whoever wins it is the last opener and unlinks the
// file, which gives the name the same lifetime as the set of open handles.
type Region struct {
	Bytes        []byte
	NewlyCreated bool

	fd     int
	path   string
	closed bool
}

// ObjectName resolves name to the backing file name for scope.
func ObjectName(name string, scope Scope) string {
	switch scope {
	case ScopeGlobal:
		return "mmf.global." + name
	case ScopeRaw:
		return name
	default:
		return fmt.Sprintf("mmf.u%d.%s", os.Getuid(), name)
	}
}

// Open maps the named region, creating it when no process holds it yet.
// Whether this call created the region is reported in Region.NewlyCreated
// and is decided by an O_EXCL create, so exactly one of any set of racing
// callers observes it as true.
func Open(opts Options) (*Region, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("%w: non-positive size %d", ErrMappingFailed, opts.Size)
	}
	var region *Region
	op := func() error {
		r, err := openOnce(opts)
		if err != nil {
			if err == errRetry {
				return err
			}
			return backoff.Permanent(err)
		}
		region = r
		return nil
	}
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(openRetryInterval), openRetryLimit)
	if err := backoff.Retry(op, bo); err != nil {
		if err == errRetry {
			return nil, fmt.Errorf("%w: open %q: create/unlink race did not settle", ErrMappingFailed, opts.Name)
		}
		return nil, err
	}
	return region, nil
}

func openOnce(opts Options) (*Region, error) {
	path := filepath.Join(shmDir(), ObjectName(opts.Name, opts.Scope))
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, regionFileMode(opts.Scope))
	switch {
	case err == nil:
		return finishCreate(fd, path, opts)
	case err == unix.EEXIST:
		return openExisting(path, opts)
	default:
		return nil, wrapOpenErr(err, path)
	}
}

// finishCreate owns a fresh, empty backing file. Any failure removes the
// name again so racing openers retry instead of mapping a dead file.
func finishCreate(fd int, path string, opts Options) (*Region, error) {
	abort := func() {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)
	}
	if opts.Scope == ScopeGlobal {
		// umask usually strips the group/other bits from the create mode
		_ = unix.Fchmod(fd, 0o666)
	}
	if err := checkShmSpace(uint64(opts.Size), path); err != nil {
		abort()
		return nil, err
	}
	if err := unix.Flock(fd, unix.LOCK_SH); err != nil {
		abort()
		return nil, fmt.Errorf("%w: flock %s: %v", ErrMappingFailed, path, err)
	}
	if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
		abort()
		if err == unix.ENOSPC || err == unix.EDQUOT {
			return nil, fmt.Errorf("%w: ftruncate %s to %d bytes: %v", ErrQuotaExceeded, path, opts.Size, err)
		}
		return nil, fmt.Errorf("%w: ftruncate %s: %v", ErrMappingFailed, path, err)
	}
	mem, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		abort()
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrMappingFailed, path, err)
	}
	for i := 0; i < len(mem); i++ {
		mem[i] = 0
	}
	return &Region{Bytes: mem, NewlyCreated: true, fd: fd, path: path}, nil
}

func openExisting(path string, opts Options) (*Region, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if err == unix.ENOENT {
			// the creator unlinked between our O_EXCL loss and this open
			return nil, errRetry
		}
		return nil, wrapOpenErr(err, path)
	}
	if err := unix.Flock(fd, unix.LOCK_SH); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: flock %s: %v", ErrMappingFailed, path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: fstat %s: %v", ErrMappingFailed, path, err)
	}
	// the flock may have been granted only after a last closer unlinked the
	// file; a name pointing at a different inode means we hold an orphan
	var pst unix.Stat_t
	if err := unix.Stat(path, &pst); err != nil || pst.Ino != st.Ino {
		_ = unix.Close(fd)
		return nil, errRetry
	}
	if st.Size == 0 {
		// the creator has not sized the file yet
		_ = unix.Close(fd)
		return nil, errRetry
	}
	if st.Size != int64(opts.Size) {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %q holds %d bytes, caller asked for %d", ErrCapacityMismatch, path, st.Size, opts.Size)
	}
	mem, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrMappingFailed, path, err)
	}
	return &Region{Bytes: mem, NewlyCreated: false, fd: fd, path: path}, nil
}

func wrapOpenErr(err error, path string) error {
	switch err {
	case unix.EACCES, unix.EPERM:
		return fmt.Errorf("%w: open %s: %v", ErrInsufficientPrivilege, path, err)
	case unix.ENOSPC, unix.EDQUOT:
		return fmt.Errorf("%w: open %s: %v", ErrQuotaExceeded, path, err)
	default:
		return fmt.Errorf("%w: open %s: %v", ErrMappingFailed, path, err)
	}
}

func regionFileMode(scope Scope) uint32 {
	if scope == ScopeGlobal {
		return 0o666
	}
	return 0o600
}

// Close unmaps the region and releases the handle. The last handle to close
// unlinks the backing file, ending the lifetime of the name. Close is
// idempotent.
func (r *Region) Close() error {
	if r == nil || r.closed {
		return nil
	}
	r.closed = true
	var first error
	if r.Bytes != nil {
		if err := unix.Munmap(r.Bytes); err != nil {
			first = fmt.Errorf("munmap %s: %w", r.path, err)
		}
		r.Bytes = nil
	}
	// if the shared flock upgrades without blocking, no other handle is
	// open and the name dies with us
	if err := unix.Flock(r.fd, unix.LOCK_EX|unix.LOCK_NB); err == nil {
		_ = unix.Unlink(r.path)
	}
	if err := unix.Close(r.fd); err != nil && first == nil {
		first = fmt.Errorf("close %s: %w", r.path, err)
	}
	r.fd = -1
	return first
}
