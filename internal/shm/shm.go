// Package shm is the platform layer for named shared memory regions.
//
// A Region is a byte slice mapped into the process address space and backed
// by a kernel object that other processes can open under the same name. On
// Windows the backing object is a pagefile-backed section, on Linux a file
// under /dev/shm, and on Darwin a file in the system temporary directory.
// The region name survives as long as at least one handle is open.
package shm

import "errors"

// Scope selects the visibility of a region name.
type Scope uint8

const (
	// ScopeLocal prefixes the name so it is only shared between processes
	// of the same user session.
	ScopeLocal Scope = iota
	// ScopeGlobal places the name in the machine-wide namespace.
	ScopeGlobal
	// ScopeRaw uses the name verbatim and leaves namespacing to the caller.
	ScopeRaw
)

// Options describes the region to open or create.
type Options struct {
	Name  string
	Scope Scope
	Size  int
}

// Errors reported by Open. Callers match them with errors.Is; the wrapped
// text carries the platform detail.
var (
	// ErrCapacityMismatch means the name exists with a different size.
	ErrCapacityMismatch = errors.New("region exists with different capacity")
	// ErrQuotaExceeded means the backing store cannot hold the region.
	ErrQuotaExceeded = errors.New("shared memory quota exceeded")
	// ErrInsufficientPrivilege means the namespace or the existing object
	// rejected the caller.
	ErrInsufficientPrivilege = errors.New("insufficient privilege for region")
	// ErrMappingFailed covers every other kernel-level failure.
	ErrMappingFailed = errors.New("mapping shared memory region failed")
)

// errRetry marks transient create/open races that settle on retry.
var errRetry = errors.New("transient region open race")
