//go:build linux || darwin

package shm

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testName(t *testing.T) string {
	t.Helper()
	return "shmtest-" + uuid.NewString()[:8]
}

func TestOpenCreatesZeroedRegion(t *testing.T) {
	opts := Options{Name: testName(t), Size: 4096}
	r, err := Open(opts)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.True(t, r.NewlyCreated)
	assert.Len(t, r.Bytes, opts.Size)
	for i, b := range r.Bytes {
		if b != 0 {
			t.Fatalf("byte %d not zero after create", i)
		}
	}
}

func TestOpenExistingSharesMemory(t *testing.T) {
	opts := Options{Name: testName(t), Size: 4096}
	creator, err := Open(opts)
	require.NoError(t, err)
	defer func() { _ = creator.Close() }()

	copy(creator.Bytes, []byte("payload visible to the second handle"))

	opener, err := Open(opts)
	require.NoError(t, err)
	defer func() { _ = opener.Close() }()

	assert.False(t, opener.NewlyCreated)
	assert.Equal(t, creator.Bytes[:36], opener.Bytes[:36])

	// both views alias the same pages
	opener.Bytes[100] = 0xAB
	assert.Equal(t, byte(0xAB), creator.Bytes[100])
}

func TestOpenCapacityMismatch(t *testing.T) {
	name := testName(t)
	r, err := Open(Options{Name: name, Size: 4096})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = Open(Options{Name: name, Size: 8192})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapacityMismatch)
}

func TestLastCloserUnlinksBackingFile(t *testing.T) {
	name := testName(t)
	path := filepath.Join(shmDir(), ObjectName(name, ScopeLocal))

	first, err := Open(Options{Name: name, Size: 4096})
	require.NoError(t, err)
	second, err := Open(Options{Name: name, Size: 4096})
	require.NoError(t, err)

	require.NoError(t, first.Close())
	_, err = os.Stat(path)
	assert.NoError(t, err, "file must survive while a handle is open")

	require.NoError(t, second.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "last close must unlink %s", path)
}

func TestCloseIdempotent(t *testing.T) {
	r, err := Open(Options{Name: testName(t), Size: 4096})
	require.NoError(t, err)
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}

func TestOpenRaceSingleCreator(t *testing.T) {
	const openers = 8
	name := testName(t)

	var g errgroup.Group
	created := make(chan bool, openers)
	for i := 0; i < openers; i++ {
		g.Go(func() error {
			r, err := Open(Options{Name: name, Size: 4096})
			if err != nil {
				return err
			}
			created <- r.NewlyCreated
			return r.Close()
		})
	}
	require.NoError(t, g.Wait())
	close(created)

	winners := 0
	for c := range created {
		if c {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one opener may observe creation")
}

func TestReopenAfterFullCloseCreatesFresh(t *testing.T) {
	name := testName(t)
	r, err := Open(Options{Name: name, Size: 4096})
	require.NoError(t, err)
	copy(r.Bytes, []byte("stale"))
	require.NoError(t, r.Close())

	r2, err := Open(Options{Name: name, Size: 4096})
	require.NoError(t, err)
	defer func() { _ = r2.Close() }()
	assert.True(t, r2.NewlyCreated)
	assert.Equal(t, make([]byte, 5), r2.Bytes[:5], "recreated region must start zeroed")
}

func TestCheckShmSpace(t *testing.T) {
	switch runtime.GOOS {
	case "linux":
		// only paths under /dev/shm are checked, others always pass
		assert.NoError(t, checkShmSpace(math.MaxUint64, "sdffafds"))
		stat, err := disk.Usage("/dev/shm")
		if err != nil {
			t.Fatal(err)
		}
		// generous margins so concurrent tmpfs churn cannot flip the result
		assert.NoError(t, checkShmSpace(stat.Free/2, "/dev/shm/xxx"))
		err = checkShmSpace(math.MaxUint64, "/dev/shm/yyy")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrQuotaExceeded)
	case "darwin":
		// always passes
		assert.NoError(t, checkShmSpace(33333, "sdffafds"))
	}
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, fmt.Sprintf("mmf.u%d.cache", os.Getuid()), ObjectName("cache", ScopeLocal))
	assert.Equal(t, "mmf.global.cache", ObjectName("cache", ScopeGlobal))
	assert.Equal(t, "cache", ObjectName("cache", ScopeRaw))
	assert.False(t, strings.ContainsRune(ObjectName("cache", ScopeGlobal), filepath.Separator))
}

func TestOpenRejectsNonPositiveSize(t *testing.T) {
	_, err := Open(Options{Name: testName(t), Size: 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMappingFailed)
}
