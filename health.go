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
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/heptiolabs/healthcheck"
)

const (
	probeCapacity       = 4 << 10
	probeTimeout        = 250 * time.Millisecond
	maxHealthGoroutines = 2000
)

// RoundTripCheck returns a healthcheck probe that creates a uuid-named
// throwaway region, writes a pattern through the lock, reads it back and
// closes. It exercises the whole stack: naming, mapping, locking, transfer
// and teardown.
func RoundTripCheck(namespace Namespace) healthcheck.Check {
	return func() error {
		cfg := DefaultConfig()
		cfg.Name = "health-" + uuid.NewString()[:13]
		cfg.Namespace = namespace
		cfg.Capacity = probeCapacity
		cfg.AcquireTimeout = probeTimeout
		m, err := OpenOrCreate(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()

		want := []byte("mmf health probe " + cfg.Name)
		if err := m.Write(ctx, want); err != nil {
			return err
		}
		got, err := m.ReadBytes(ctx)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, want) {
			return fmt.Errorf("probe region %s read back %d bytes, wrote %d", cfg.Name, len(got), len(want))
		}
		return nil
	}
}

// RegisterHealthChecks wires the package probes onto h: a goroutine-count
// liveness check and the shared memory round trip as readiness.
func RegisterHealthChecks(h healthcheck.Handler, namespace Namespace) {
	h.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(maxHealthGoroutines))
	h.AddReadinessCheck("shm-round-trip", RoundTripCheck(namespace))
}
