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
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// protectedRun executes fn with the runtime set to panic instead of crashing
// on an unexpected memory fault, and converts such a panic into
// ErrAccessFault. Mapped pages can fault at any load or store when the
// backing object disappears under the mapping, so every touch of region
// memory goes through here. Panics that are not memory faults, including nil
// dereferences, pass through unchanged.
func protectedRun(fn func()) (err error) {
	prev := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(prev)
		if r := recover(); r != nil {
			if isMemoryFault(r) {
				err = fmt.Errorf("%w: %v", ErrAccessFault, r)
				return
			}
			panic(r)
		}
	}()
	fn()
	return nil
}

// isMemoryFault recognizes the runtime's panic value for a hardware fault
// at a non-nil address. The runtime promises the "unexpected fault address"
// form for faults surfaced through SetPanicOnFault.
func isMemoryFault(r interface{}) bool {
	re, ok := r.(runtime.Error)
	return ok && strings.Contains(re.Error(), "unexpected fault address")
}
