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
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/mmf/internal/shm"
)

// Namespace selects where a region name is visible.
type Namespace uint8

const (
	// NamespaceLocal shares the region between processes of the same user
	// session. This is the default.
	NamespaceLocal Namespace = iota
	// NamespaceGlobal shares the region machine-wide. Creating here may
	// need elevated privileges depending on the platform.
	NamespaceGlobal
	// NamespaceCustom passes the name to the kernel verbatim; the caller
	// owns visibility and collision avoidance.
	NamespaceCustom
)

func (n Namespace) String() string {
	switch n {
	case NamespaceLocal:
		return "local"
	case NamespaceGlobal:
		return "global"
	case NamespaceCustom:
		return "custom"
	default:
		return fmt.Sprintf("namespace(%d)", uint8(n))
	}
}

func (n Namespace) scope() shm.Scope {
	switch n {
	case NamespaceGlobal:
		return shm.ScopeGlobal
	case NamespaceCustom:
		return shm.ScopeRaw
	default:
		return shm.ScopeLocal
	}
}

const (
	// MaxNameLength bounds region names so the decorated name fits every
	// platform's object-name limits.
	MaxNameLength = 56

	// MinCapacity is the header plus one payload byte.
	MinCapacity = headerSize + 1

	// MaxCapacity keeps region sizes addressable on 32-bit peers, where
	// both int and a mapped slice length top out below 2^31.
	MaxCapacity = 1<<31 - 1

	defaultCapacity       = 64 << 10
	defaultAcquireTimeout = 1 * time.Second
)

// Config of a region handle.
type Config struct {
	// Name identifies the region. Processes opening the same name in the
	// same namespace share the same memory. Bounded by MaxNameLength,
	// limited to letters, digits, '.', '_' and '-'.
	Name string

	// Namespace decides the visibility of Name.
	Namespace Namespace

	// Capacity is the total region size in bytes including the fixed
	// header. All processes must open a name with the same capacity.
	Capacity uint32

	// AcquireTimeout bounds how long lock acquisition may wait on a peer
	// before giving up with ErrTimedOut.
	AcquireTimeout time.Duration

	// Readonly makes every mutating method fail with ErrReadonly. The
	// region is still mapped writable underneath since lock handshakes
	// write to the header.
	Readonly bool

	// ConcurrentAccess serializes method calls on this handle with an
	// internal mutex so multiple goroutines may share it. When false the
	// handle is confined and concurrent entry fails with
	// ErrConcurrentAccess.
	ConcurrentAccess bool

	// Meter optionally instruments transfers with OpenTelemetry counters.
	Meter metric.Meter

	// Tracer optionally wraps each operation in a span.
	Tracer trace.Tracer
}

// DefaultConfig returns the default config: 64 KB capacity in the local
// namespace with a one second lock acquisition timeout.
func DefaultConfig() *Config {
	return &Config{
		Namespace:      NamespaceLocal,
		Capacity:       defaultCapacity,
		AcquireTimeout: defaultAcquireTimeout,
	}
}

// VerifyConfig reports the first problem that would make the config unusable.
func VerifyConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}
	if err := verifyName(config.Name); err != nil {
		return err
	}
	switch config.Namespace {
	case NamespaceLocal, NamespaceGlobal, NamespaceCustom:
	default:
		return fmt.Errorf("unknown namespace %d", uint8(config.Namespace))
	}
	if config.Capacity < MinCapacity {
		return fmt.Errorf("%w: %d bytes, need at least %d", ErrCapacityTooSmall, config.Capacity, MinCapacity)
	}
	if uint64(config.Capacity) > MaxCapacity {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrCapacityTooLarge, config.Capacity, uint64(MaxCapacity))
	}
	if config.AcquireTimeout < 0 {
		return fmt.Errorf("negative acquire timeout %v", config.AcquireTimeout)
	}
	return nil
}

func verifyName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q is %d bytes, limit %d", ErrInvalidName, name, len(name), MaxNameLength)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return fmt.Errorf("%w: %q contains byte %#x at position %d", ErrInvalidName, name, c, i)
		}
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
