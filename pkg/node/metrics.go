/*
 * Copyright 2025 Carver Automation Corporation.
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

package node

import (
	"context"

	"github.com/carverauto/racegate/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName              = "racegate.node"
	metricRacesTotal       = "racegate_races_total"
	metricDroppedTotal     = "racegate_messages_dropped_total"
	metricElectionsTotal   = "racegate_elections_total"
	metricRaceDurationMsec = "racegate_race_duration_ms"
)

// Race outcomes.
const (
	outcomeStarted   = "started"
	outcomeFinished  = "finished"
	outcomeClamped   = "clamped"
	outcomeUnmatched = "unmatched"
	outcomeRejected  = "rejected"
)

// Drop reasons.
const (
	reasonDecode          = "decode"
	reasonAddressMismatch = "address_mismatch"
	reasonNotTarget       = "not_target"
	reasonNotMaster       = "not_master"
	reasonForeignMaster   = "foreign_master"
	reasonStaleSync       = "stale_sync"
	reasonSendFailed      = "send_failed"
)

// Metrics holds the node's OTel instruments. A nil *Metrics records nothing.
type Metrics struct {
	races     metric.Int64Counter
	dropped   metric.Int64Counter
	elections metric.Int64Counter
	durations metric.Int64Histogram
}

// NewMetrics registers the instruments on meter, or on the global provider when meter
// is nil. Registration errors go to otel.Handle and leave that instrument unset.
func NewMetrics(meter metric.Meter) *Metrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	m := &Metrics{}

	races, err := meter.Int64Counter(
		metricRacesTotal,
		metric.WithDescription("Race crossings applied by the master, by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}
	m.races = races

	dropped, err := meter.Int64Counter(
		metricDroppedTotal,
		metric.WithDescription("Inbound or outbound messages discarded, by reason"),
	)
	if err != nil {
		otel.Handle(err)
	}
	m.dropped = dropped

	elections, err := meter.Int64Counter(
		metricElectionsTotal,
		metric.WithDescription("Master status transitions, by resulting status"),
	)
	if err != nil {
		otel.Handle(err)
	}
	m.elections = elections

	durations, err := meter.Int64Histogram(
		metricRaceDurationMsec,
		metric.WithDescription("Offset-corrected race durations"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		otel.Handle(err)
	}
	m.durations = durations

	return m
}

// RaceRecorded counts a crossing handled by the master.
func (m *Metrics) RaceRecorded(ctx context.Context, outcome string) {
	if m == nil || m.races == nil {
		return
	}

	m.races.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// MessageDropped counts a discarded message.
func (m *Metrics) MessageDropped(ctx context.Context, reason string) {
	if m == nil || m.dropped == nil {
		return
	}

	m.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// ElectionHeld counts a master status transition.
func (m *Metrics) ElectionHeld(ctx context.Context, result string) {
	if m == nil || m.elections == nil {
		return
	}

	m.elections.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) RaceDuration(ctx context.Context, d models.Millis) {
	if m == nil || m.durations == nil {
		return
	}

	m.durations.Record(ctx, int64(d))
}
