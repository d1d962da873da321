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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sync/errgroup"
)

const testCapacity = 4096

type MmfTestSuite struct {
	suite.Suite
}

func testRegionName() string {
	return "mmftest-" + uuid.NewString()[:8]
}

// open creates a handle over name with the test capacity, applying any
// config tweaks first, and schedules its close.
func (s *MmfTestSuite) open(name string, tweaks ...func(*Config)) *Mmf {
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.Capacity = testCapacity
	for _, tweak := range tweaks {
		tweak(cfg)
	}
	m, err := OpenOrCreate(cfg)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = m.Close() })
	return m
}

func (s *MmfTestSuite) TestWriteReadRoundTrip() {
	m := s.open(testRegionName())
	ctx := context.Background()

	payload := []byte("payload that should come back unchanged")
	s.Require().NoError(m.Write(ctx, payload))

	dst := make([]byte, testCapacity)
	n, err := m.Read(ctx, dst)
	s.Require().NoError(err)
	s.Equal(payload, dst[:n])

	// the transfer must leave capacity and lock state alone
	s.Equal(uint32(testCapacity), m.Capacity())
	s.Equal(lockFree, m.lock.holder())
}

func (s *MmfTestSuite) TestNewlyCreatedAfterFullRelease() {
	name := testRegionName()
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.Capacity = testCapacity

	first, err := OpenOrCreate(cfg)
	s.Require().NoError(err)
	s.True(first.NewlyCreated())
	s.Require().NoError(first.Close())

	second, err := OpenOrCreate(cfg)
	s.Require().NoError(err)
	defer func() { _ = second.Close() }()
	s.True(second.NewlyCreated(), "a fully released name must be created anew")
}

func (s *MmfTestSuite) TestConcurrentOpenOneCreator() {
	const openers = 8
	name := testRegionName()

	created := make(chan bool, openers)
	var g errgroup.Group
	for i := 0; i < openers; i++ {
		g.Go(func() error {
			cfg := DefaultConfig()
			cfg.Name = name
			cfg.Capacity = testCapacity
			m, err := OpenOrCreate(cfg)
			if err != nil {
				return err
			}
			if m.Capacity() != testCapacity {
				return fmt.Errorf("capacity %d", m.Capacity())
			}
			created <- m.NewlyCreated()
			return m.Close()
		})
	}
	s.Require().NoError(g.Wait())
	close(created)

	winners := 0
	for c := range created {
		if c {
			winners++
		}
	}
	s.Equal(1, winners, "exactly one open may win creation")
}

func (s *MmfTestSuite) TestOpenExistingSeesPriorPayload() {
	name := testRegionName()
	writer := s.open(name)
	reader := s.open(name)
	s.False(reader.NewlyCreated())

	ctx := context.Background()
	s.Require().NoError(writer.Write(ctx, []byte("left by the first handle")))

	data, err := reader.ReadBytes(ctx)
	s.Require().NoError(err)
	s.Equal([]byte("left by the first handle"), data)
}

func (s *MmfTestSuite) TestCapacityMismatchSurfaces() {
	name := testRegionName()
	s.open(name)

	cfg := DefaultConfig()
	cfg.Name = name
	cfg.Capacity = testCapacity * 2
	_, err := OpenOrCreate(cfg)
	s.Require().ErrorIs(err, ErrCapacityMismatch)
}

func (s *MmfTestSuite) TestOversizedWritePreservesPayload() {
	m := s.open(testRegionName())
	ctx := context.Background()

	before := []byte("intact before the oversized attempt")
	s.Require().NoError(m.Write(ctx, before))

	err := m.Write(ctx, make([]byte, testCapacity-headerSize+1))
	s.Require().ErrorIs(err, ErrCapacityExceeded)

	after, err := m.ReadBytes(ctx)
	s.Require().NoError(err)
	s.Equal(before, after, "a failed write must not disturb the payload")
}

func (s *MmfTestSuite) TestWriteUpToPayloadCapacity() {
	m := s.open(testRegionName())
	ctx := context.Background()

	full := bytes.Repeat([]byte{0x5A}, int(m.PayloadCapacity()))
	s.Require().NoError(m.Write(ctx, full))

	data, err := m.ReadBytes(ctx)
	s.Require().NoError(err)
	s.Equal(full, data)
}

func (s *MmfTestSuite) TestEmptyPayload() {
	m := s.open(testRegionName())
	ctx := context.Background()

	data, err := m.ReadBytes(ctx)
	s.Require().NoError(err)
	s.Empty(data)

	s.Require().NoError(m.Write(ctx, []byte("something")))
	s.Require().NoError(m.Write(ctx, nil))
	n, err := m.Read(ctx, make([]byte, 8))
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *MmfTestSuite) TestBufferTooSmall() {
	m := s.open(testRegionName())
	ctx := context.Background()

	s.Require().NoError(m.Write(ctx, bytes.Repeat([]byte{1}, 100)))

	dst := make([]byte, 10)
	n, err := m.Read(ctx, dst)
	s.Require().ErrorIs(err, ErrBufferTooSmall)
	s.Zero(n)
	s.Equal(make([]byte, 10), dst, "no partial copy on a too-small destination")
}

func (s *MmfTestSuite) TestReadBufferGrowsAndKeepsCapacity() {
	m := s.open(testRegionName())
	ctx := context.Background()

	s.Require().NoError(m.Write(ctx, bytes.Repeat([]byte{2}, 600)))

	var buf bytebufferpool.ByteBuffer
	n, err := m.ReadBuffer(ctx, &buf)
	s.Require().NoError(err)
	s.Equal(600, n)
	s.Equal(bytes.Repeat([]byte{2}, 600), buf.B)
	grown := cap(buf.B)

	// a smaller payload must not shrink the buffer's capacity
	s.Require().NoError(m.Write(ctx, []byte("tiny")))
	n, err = m.ReadBuffer(ctx, &buf)
	s.Require().NoError(err)
	s.Equal(4, n)
	s.Equal([]byte("tiny"), buf.B)
	s.GreaterOrEqual(cap(buf.B), grown)
}

func (s *MmfTestSuite) TestReadonlyRejectsMutation() {
	name := testRegionName()
	writer := s.open(name)
	ro := s.open(name, func(c *Config) { c.Readonly = true })
	ctx := context.Background()

	s.Require().NoError(writer.Write(ctx, []byte("visible")))

	err := ro.Write(ctx, []byte("nope"))
	s.Require().ErrorIs(err, ErrReadonly)
	s.Require().ErrorIs(ro.TryWrite(ctx, []byte("nope")), ErrReadonly)

	data, err := ro.ReadBytes(ctx)
	s.Require().NoError(err)
	s.Equal([]byte("visible"), data)
	s.True(ro.Readonly())
}

func (s *MmfTestSuite) TestTryVariantsFailFastWhileLocked() {
	name := testRegionName()
	holder := s.open(name)
	other := s.open(name, func(c *Config) { c.AcquireTimeout = 50 * time.Millisecond })
	ctx := context.Background()

	g, err := holder.Acquire(ctx)
	s.Require().NoError(err)

	s.Require().ErrorIs(other.TryWrite(ctx, []byte("x")), ErrTimedOut)
	_, err = other.TryRead(ctx, make([]byte, 8))
	s.Require().ErrorIs(err, ErrTimedOut)
	_, ok := other.TryAcquire()
	s.False(ok)

	err = other.Write(ctx, []byte("x"))
	s.Require().ErrorIs(err, ErrTimedOut, "a held lock must time the writer out")

	g.Release()
	s.Require().NoError(other.Write(ctx, []byte("x")))
}

func (s *MmfTestSuite) TestGuardTransfersAndRelease() {
	m := s.open(testRegionName())
	ctx := context.Background()

	g, err := m.Acquire(ctx)
	s.Require().NoError(err)

	s.Require().NoError(g.Write(ctx, []byte("counter=1")))
	data, err := g.ReadBytes(ctx)
	s.Require().NoError(err)
	s.Equal([]byte("counter=1"), data)
	s.Require().NoError(g.Write(ctx, []byte("counter=2")))

	g.Release()
	g.Release() // second release is a no-op

	s.Require().ErrorIs(g.Write(ctx, []byte("late")), ErrGuardReleased)
	_, err = g.Read(ctx, make([]byte, 8))
	s.Require().ErrorIs(err, ErrGuardReleased)
	_, err = g.ReadBytes(ctx)
	s.Require().ErrorIs(err, ErrGuardReleased)

	// the region is usable again after release
	s.Require().NoError(m.Write(ctx, []byte("after")))
}

func (s *MmfTestSuite) TestConcurrentWritersNeverTear() {
	const (
		patternLen = 512
		rounds     = 200
	)
	name := testRegionName()
	writerA := s.open(name)
	writerB := s.open(name)
	reader := s.open(name)
	ctx := context.Background()

	patternA := bytes.Repeat([]byte{'A'}, patternLen)
	patternB := bytes.Repeat([]byte{'B'}, patternLen)

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			if err := writerA.Write(ctx, patternA); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			if err := writerB.Write(ctx, patternB); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			data, err := reader.ReadBytes(ctx)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				continue // nothing written yet
			}
			if len(data) != patternLen {
				return fmt.Errorf("read %d bytes, want 0 or %d", len(data), patternLen)
			}
			for pos, b := range data {
				if b != data[0] {
					return fmt.Errorf("mixed payload at byte %d: %q then %q", pos, data[0], b)
				}
			}
		}
		return nil
	})
	s.Require().NoError(g.Wait(), "a reader must only ever see one writer's full pattern")
}

func (s *MmfTestSuite) TestCloseIdempotentAndFinal() {
	m := s.open(testRegionName())
	ctx := context.Background()

	s.Require().NoError(m.Write(ctx, []byte("x")))
	s.Require().NoError(m.Close())
	s.Require().NoError(m.Close())

	s.Require().ErrorIs(m.Write(ctx, []byte("y")), ErrClosed)
	_, err := m.Read(ctx, make([]byte, 8))
	s.Require().ErrorIs(err, ErrClosed)
	_, err = m.Acquire(ctx)
	s.Require().ErrorIs(err, ErrClosed)
	_, ok := m.TryAcquire()
	s.False(ok)
}

func (s *MmfTestSuite) TestConfinedHandleRejectsConcurrentEntry() {
	m := s.open(testRegionName())
	ctx := context.Background()

	// simulate an in-flight call on the confining goroutine
	exit, err := m.enter()
	s.Require().NoError(err)

	s.Require().ErrorIs(m.Write(ctx, []byte("x")), ErrConcurrentAccess)
	_, err = m.Read(ctx, make([]byte, 8))
	s.Require().ErrorIs(err, ErrConcurrentAccess)

	exit()
	s.Require().NoError(m.Write(ctx, []byte("x")))
}

func (s *MmfTestSuite) TestConcurrentAccessSerializes() {
	m := s.open(testRegionName(), func(c *Config) { c.ConcurrentAccess = true })
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			payload := bytes.Repeat([]byte{byte('a' + i)}, 64)
			for j := 0; j < 50; j++ {
				if err := m.Write(ctx, payload); err != nil {
					return err
				}
				if _, err := m.ReadBytes(ctx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait(), "a shared handle must serialize instead of erroring")
}

func (s *MmfTestSuite) TestForeignLengthHeaderClamped() {
	m := s.open(testRegionName())
	ctx := context.Background()

	// a misbehaving peer could inflate the length header past the payload
	m.view.setLength(testCapacity * 2)

	data, err := m.ReadBytes(ctx)
	s.Require().NoError(err)
	s.Len(data, int(m.PayloadCapacity()), "length must clamp to the payload area")
}

func (s *MmfTestSuite) TestAccessors() {
	name := testRegionName()
	m := s.open(name)
	s.Equal(name, m.Name())
	s.Equal(NamespaceLocal, m.Namespace())
	s.Equal(uint32(testCapacity), m.Capacity())
	s.Equal(uint32(testCapacity-headerSize), m.PayloadCapacity())
	s.True(m.NewlyCreated())
	s.False(m.Readonly())
}

func TestMmfTestSuite(t *testing.T) {
	suite.Run(t, new(MmfTestSuite))
}
