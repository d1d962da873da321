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
	"sync/atomic"
	"unsafe"
)

// Region layout, identical in every process mapping the same name:
//
//	offset 0: lock word      uint32, 0 free, holder tag when held
//	offset 4: payload length uint32
//	offset 8: payload        capacity-8 bytes
const (
	lockWordOffset = 0
	lockWordSize   = 4
	lengthOffset   = lockWordOffset + lockWordSize
	lengthSize     = 4
	headerSize     = lockWordSize + lengthSize
)

// view interprets the mapped bytes of one region. The header fields are
// shared with other processes, so they are only touched through atomics.
type view struct {
	mem []byte
}

func (v view) lockWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&v.mem[lockWordOffset]))
}

func (v view) length() uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&v.mem[lengthOffset])))
}

func (v view) setLength(n uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&v.mem[lengthOffset])), n)
}

func (v view) payload() []byte {
	return v.mem[headerSize:]
}

func (v view) payloadCap() int {
	return len(v.mem) - headerSize
}
