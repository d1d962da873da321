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

	"github.com/prometheus/client_golang/prometheus"
)

// regionStats are the per-handle counters, updated with atomics on the hot
// path and snapshotted by Stats.
type regionStats struct {
	writes        uint64
	reads         uint64
	writtenBytes  uint64
	readBytes     uint64
	lockAcquires  uint64
	lockContended uint64
	lockTimeouts  uint64
	accessFaults  uint64
}

// Stats is a point-in-time snapshot of one handle's counters.
type Stats struct {
	// Writes and Reads count completed transfers.
	Writes uint64
	Reads  uint64
	// WrittenBytes and ReadBytes count transferred payload bytes.
	WrittenBytes uint64
	ReadBytes    uint64
	// LockAcquires counts successful acquisitions, LockContended the
	// acquisitions that found the lock held, LockTimeouts the ones that
	// gave up.
	LockAcquires  uint64
	LockContended uint64
	LockTimeouts  uint64
	// AccessFaults counts memory faults caught on this handle.
	AccessFaults uint64
}

// Stats returns a snapshot of this handle's counters.
func (m *Mmf) Stats() Stats {
	return Stats{
		Writes:        atomic.LoadUint64(&m.stats.writes),
		Reads:         atomic.LoadUint64(&m.stats.reads),
		WrittenBytes:  atomic.LoadUint64(&m.stats.writtenBytes),
		ReadBytes:     atomic.LoadUint64(&m.stats.readBytes),
		LockAcquires:  atomic.LoadUint64(&m.stats.lockAcquires),
		LockContended: atomic.LoadUint64(&m.stats.lockContended),
		LockTimeouts:  atomic.LoadUint64(&m.stats.lockTimeouts),
		AccessFaults:  atomic.LoadUint64(&m.stats.accessFaults),
	}
}

// statsCollector exports a handle's counters as prometheus metrics labeled
// with the region name.
type statsCollector struct {
	m *Mmf

	writes        *prometheus.Desc
	reads         *prometheus.Desc
	writtenBytes  *prometheus.Desc
	readBytes     *prometheus.Desc
	lockAcquires  *prometheus.Desc
	lockContended *prometheus.Desc
	lockTimeouts  *prometheus.Desc
	accessFaults  *prometheus.Desc
}

// NewStatsCollector wraps m for registration with a prometheus registry:
//
//	prometheus.MustRegister(mmf.NewStatsCollector(handle))
func NewStatsCollector(m *Mmf) prometheus.Collector {
	labels := prometheus.Labels{"region": m.Name()}
	return &statsCollector{
		m: m,
		writes: prometheus.NewDesc("mmf_writes_total",
			"Completed region writes.", nil, labels),
		reads: prometheus.NewDesc("mmf_reads_total",
			"Completed region reads.", nil, labels),
		writtenBytes: prometheus.NewDesc("mmf_written_bytes_total",
			"Payload bytes written to the region.", nil, labels),
		readBytes: prometheus.NewDesc("mmf_read_bytes_total",
			"Payload bytes read from the region.", nil, labels),
		lockAcquires: prometheus.NewDesc("mmf_lock_acquires_total",
			"Successful region lock acquisitions.", nil, labels),
		lockContended: prometheus.NewDesc("mmf_lock_contended_total",
			"Acquisitions that found the lock held.", nil, labels),
		lockTimeouts: prometheus.NewDesc("mmf_lock_timeouts_total",
			"Acquisitions that gave up after the timeout.", nil, labels),
		accessFaults: prometheus.NewDesc("mmf_access_faults_total",
			"Memory faults caught while touching the region.", nil, labels),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.writes
	ch <- c.reads
	ch <- c.writtenBytes
	ch <- c.readBytes
	ch <- c.lockAcquires
	ch <- c.lockContended
	ch <- c.lockTimeouts
	ch <- c.accessFaults
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Stats()
	ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue, float64(s.Writes))
	ch <- prometheus.MustNewConstMetric(c.reads, prometheus.CounterValue, float64(s.Reads))
	ch <- prometheus.MustNewConstMetric(c.writtenBytes, prometheus.CounterValue, float64(s.WrittenBytes))
	ch <- prometheus.MustNewConstMetric(c.readBytes, prometheus.CounterValue, float64(s.ReadBytes))
	ch <- prometheus.MustNewConstMetric(c.lockAcquires, prometheus.CounterValue, float64(s.LockAcquires))
	ch <- prometheus.MustNewConstMetric(c.lockContended, prometheus.CounterValue, float64(s.LockContended))
	ch <- prometheus.MustNewConstMetric(c.lockTimeouts, prometheus.CounterValue, float64(s.LockTimeouts))
	ch <- prometheus.MustNewConstMetric(c.accessFaults, prometheus.CounterValue, float64(s.AccessFaults))
}
