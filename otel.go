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
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instruments holds the OpenTelemetry counters of one handle. A nil
// *instruments (no Meter configured) makes every record call a no-op.
type instruments struct {
	writes     metric.Int64Counter
	reads      metric.Int64Counter
	writeBytes metric.Int64Counter
	readBytes  metric.Int64Counter
	faults     metric.Int64Counter
	attrs      metric.MeasurementOption
}

func newInstruments(meter metric.Meter, region string) *instruments {
	if meter == nil {
		return nil
	}
	inst := &instruments{
		attrs: metric.WithAttributes(attribute.String("region", region)),
	}
	var err error
	if inst.writes, err = meter.Int64Counter("mmf.writes",
		metric.WithDescription("Completed region writes.")); err != nil {
		internalLogger.warnf("otel counter mmf.writes: %v", err)
	}
	if inst.reads, err = meter.Int64Counter("mmf.reads",
		metric.WithDescription("Completed region reads.")); err != nil {
		internalLogger.warnf("otel counter mmf.reads: %v", err)
	}
	if inst.writeBytes, err = meter.Int64Counter("mmf.written_bytes",
		metric.WithDescription("Payload bytes written to the region."),
		metric.WithUnit("By")); err != nil {
		internalLogger.warnf("otel counter mmf.written_bytes: %v", err)
	}
	if inst.readBytes, err = meter.Int64Counter("mmf.read_bytes",
		metric.WithDescription("Payload bytes read from the region."),
		metric.WithUnit("By")); err != nil {
		internalLogger.warnf("otel counter mmf.read_bytes: %v", err)
	}
	if inst.faults, err = meter.Int64Counter("mmf.access_faults",
		metric.WithDescription("Memory faults caught while touching the region.")); err != nil {
		internalLogger.warnf("otel counter mmf.access_faults: %v", err)
	}
	return inst
}

func (i *instruments) recordWrite(ctx context.Context, n int) {
	if i == nil {
		return
	}
	i.writes.Add(ctx, 1, i.attrs)
	i.writeBytes.Add(ctx, int64(n), i.attrs)
}

func (i *instruments) recordRead(ctx context.Context, n int) {
	if i == nil {
		return
	}
	i.reads.Add(ctx, 1, i.attrs)
	i.readBytes.Add(ctx, int64(n), i.attrs)
}

func (i *instruments) recordFault(ctx context.Context) {
	if i == nil {
		return
	}
	i.faults.Add(ctx, 1, i.attrs)
}

// startSpan opens a span for one operation when a Tracer is configured. The
// returned func records err and ends the span; without a Tracer it does
// nothing.
func (m *Mmf) startSpan(ctx context.Context, name string) (context.Context, func(error)) {
	if m.cfg.Tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := m.cfg.Tracer.Start(ctx, name, trace.WithAttributes(attribute.String("region", m.cfg.Name)))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
