//go:build windows

package shm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Region is a mapped view of a pagefile-backed section object. The kernel
// reference-counts section handles, so the name lives exactly as long as at
// least one handle (or mapped view) is open.
type Region struct {
	Bytes        []byte
	NewlyCreated bool

	handle windows.Handle
	addr   uintptr
	name   string
	closed bool
}

// ObjectName resolves name to the section object name for scope.
func ObjectName(name string, scope Scope) string {
	switch scope {
	case ScopeGlobal:
		return `Global\` + name
	case ScopeRaw:
		return name
	default:
		return `Local\` + name
	}
}

// Open maps the named section, creating it when it does not exist.
// CreateFileMapping decides creation atomically in the kernel: it returns
// ERROR_ALREADY_EXISTS together with a usable handle when another process
// got there first, so exactly one racing caller sees NewlyCreated.
func Open(opts Options) (*Region, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("%w: non-positive size %d", ErrMappingFailed, opts.Size)
	}
	objName := ObjectName(opts.Name, opts.Scope)
	namep, err := windows.UTF16PtrFromString(objName)
	if err != nil {
		return nil, fmt.Errorf("%w: section name %q: %v", ErrMappingFailed, objName, err)
	}
	sz := uint64(opts.Size)
	created := true
	handle, err := windows.CreateFileMapping(windows.InvalidHandle, nil,
		windows.PAGE_READWRITE, uint32(sz>>32), uint32(sz), namep)
	if err == windows.ERROR_ALREADY_EXISTS {
		created = false
		err = nil
	}
	if err != nil {
		switch err {
		case windows.ERROR_ACCESS_DENIED:
			return nil, fmt.Errorf("%w: create section %q: %v", ErrInsufficientPrivilege, objName, err)
		case windows.ERROR_COMMITMENT_LIMIT, windows.ERROR_NOT_ENOUGH_MEMORY:
			return nil, fmt.Errorf("%w: create section %q of %d bytes: %v", ErrQuotaExceeded, objName, opts.Size, err)
		default:
			return nil, fmt.Errorf("%w: create section %q: %v", ErrMappingFailed, objName, err)
		}
	}
	addr, err := windows.MapViewOfFile(handle, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(opts.Size))
	if err != nil {
		_ = windows.CloseHandle(handle)
		if !created {
			// mapping a view longer than the existing section is the
			// one way a size disagreement surfaces here
			return nil, fmt.Errorf("%w: section %q rejected a %d byte view: %v", ErrCapacityMismatch, objName, opts.Size, err)
		}
		return nil, fmt.Errorf("%w: map view of %q: %v", ErrMappingFailed, objName, err)
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(addr)), opts.Size)
	if created {
		for i := 0; i < len(mem); i++ {
			mem[i] = 0
		}
	}
	return &Region{Bytes: mem, NewlyCreated: created, handle: handle, addr: addr, name: objName}, nil
}

// Close unmaps the view and releases the section handle. The kernel frees
// the section, and with it the name, when the last handle goes away. Close
// is idempotent.
func (r *Region) Close() error {
	if r == nil || r.closed {
		return nil
	}
	r.closed = true
	var first error
	if r.addr != 0 {
		if err := windows.UnmapViewOfFile(r.addr); err != nil {
			first = fmt.Errorf("unmap view of %s: %w", r.name, err)
		}
		r.addr = 0
		r.Bytes = nil
	}
	if err := windows.CloseHandle(r.handle); err != nil && first == nil {
		first = fmt.Errorf("close section %s: %w", r.name, err)
	}
	r.handle = windows.InvalidHandle
	return first
}
