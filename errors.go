/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mmf

import (
	"errors"

	"github.com/srediag/mmf/internal/shm"
)

var (
	// ErrInvalidName means the region name is empty, too long, or contains
	// characters that cannot appear in a kernel object name.
	ErrInvalidName = errors.New("invalid region name")

	// ErrCapacityTooSmall means the requested capacity does not leave room
	// for the region header plus at least one payload byte.
	ErrCapacityTooSmall = errors.New("region capacity too small")

	// ErrCapacityTooLarge means the requested capacity exceeds the size
	// representable on every supported platform.
	ErrCapacityTooLarge = errors.New("region capacity too large")

	// ErrTimedOut means the region lock stayed held by another process for
	// the whole acquisition timeout. The lock word is left untouched.
	ErrTimedOut = errors.New("timed out waiting for region lock")

	// ErrCapacityExceeded means a write is larger than the payload area of
	// the region. Nothing is copied.
	ErrCapacityExceeded = errors.New("payload exceeds region capacity")

	// ErrBufferTooSmall means the destination cannot hold the stored
	// payload. Nothing is copied.
	ErrBufferTooSmall = errors.New("destination buffer smaller than payload")

	// ErrAccessFault is the caught form of a hardware memory fault raised
	// while touching the mapped bytes, typically after the backing object
	// went away. The process stays usable.
	ErrAccessFault = errors.New("memory access fault in mapped region")

	// ErrClosed means the handle was closed before or during the call.
	ErrClosed = errors.New("region handle closed")

	// ErrReadonly means a mutating call went through a readonly handle.
	ErrReadonly = errors.New("region handle is readonly")

	// ErrConcurrentAccess means two goroutines entered a confined handle at
	// the same time. Open the region with ConcurrentAccess to serialize
	// instead.
	ErrConcurrentAccess = errors.New("concurrent use of confined region handle")

	// ErrGuardReleased means a guard method ran after Release.
	ErrGuardReleased = errors.New("lock guard already released")
)

// Errors surfaced from the platform layer, re-exported so callers only ever
// import this package.
var (
	// ErrCapacityMismatch means the name already exists with a different
	// capacity than the caller asked for.
	ErrCapacityMismatch = shm.ErrCapacityMismatch

	// ErrQuotaExceeded means the shared memory backing store is too full to
	// hold the region.
	ErrQuotaExceeded = shm.ErrQuotaExceeded

	// ErrInsufficientPrivilege means the namespace or the existing region
	// rejected the caller's credentials.
	ErrInsufficientPrivilege = shm.ErrInsufficientPrivilege

	// ErrMappingFailed covers every other kernel-level mapping failure.
	ErrMappingFailed = shm.ErrMappingFailed
)
