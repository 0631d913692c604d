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
	"errors"

	"github.com/carverauto/racegate/pkg/election"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/carverauto/racegate/pkg/race"
	"github.com/carverauto/racegate/pkg/wire"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HandleTrigger is called by the local sensor with the crossing time on the local clock.
// The master records it directly; a slave forwards it to the master.
func (n *Node) HandleTrigger(ts models.Millis) error {
	_, span := n.tracer.Start(context.Background(), "node.trigger", trace.WithAttributes(
		attribute.Int64("raw_time", int64(ts)),
	))
	defer span.End()

	var err error

	n.apply(n.locked(func(now models.Millis, fx *effects) {
		err = n.triggerLocked(now, fx, ts)
	}))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

func (n *Node) triggerLocked(now models.Millis, fx *effects, ts models.Millis) error {
	role := n.reg.Role()
	if !role.IsGate() {
		return ErrNotGate
	}

	n.logger.Info().
		Str("role", role.String()).
		Int64("raw_time", int64(ts)).
		Msg("Gate triggered")

	switch st := n.master.Status.(type) {
	case election.Master:
		return n.recordLocked(now, fx, role, ts, n.self)
	case election.Slave:
		fx.send(st.Master, wire.RaceEvent{
			Role:          role,
			RawTime:       ts,
			LocalSendTime: now,
			Sender:        n.self,
		})

		return nil
	default:
		return ErrNoMaster
	}
}

// recordLocked applies a crossing to the authoritative queue and replicates the result.
// Nothing is replicated when the queue did not change.
func (n *Node) recordLocked(now models.Millis, fx *effects, role models.Role, raw models.Millis, device models.Address) error {
	switch role {
	case models.RoleStart:
		if err := n.races.RecordStart(raw, device); err != nil {
			n.metrics.RaceRecorded(fx.ctx, outcomeRejected)
			return err
		}

		n.metrics.RaceRecorded(fx.ctx, outcomeStarted)

		n.logger.Info().
			Str("peer", device.String()).
			Int64("raw_time", int64(raw)).
			Msg("Race started")
	case models.RoleFinish:
		fin, err := n.races.RecordFinish(raw, device, n.reg.Offset, now)
		if err != nil {
			outcome := outcomeRejected
			if errors.Is(err, race.ErrNoPendingStart) {
				outcome = outcomeUnmatched
			}

			n.metrics.RaceRecorded(fx.ctx, outcome)

			return err
		}

		n.finishedLocked(fx, fin)
	default:
		return ErrNotGate
	}

	fx.race = true

	n.replicateLocked(now, fx)

	return nil
}

func (n *Node) finishedLocked(fx *effects, fin race.Finish) {
	outcome := outcomeFinished

	if fin.Clamped {
		outcome = outcomeClamped

		n.logger.Warn().
			Str("start_device", fin.Entry.StartDevice.String()).
			Str("finish_device", fin.Entry.FinishDevice.String()).
			Int64("raw_duration_ms", int64(fin.Raw)).
			Msg("Negative race duration clamped to zero")
	}

	n.metrics.RaceRecorded(fx.ctx, outcome)
	n.metrics.RaceDuration(fx.ctx, fin.Entry.Duration)

	n.logger.Info().
		Str("start_device", fin.Entry.StartDevice.String()).
		Str("finish_device", fin.Entry.FinishDevice.String()).
		Int64("duration_ms", int64(fin.Entry.Duration)).
		Msg("Race finished")

	fx.results = append(fx.results, models.RaceFinishedData{
		Master:       n.self.String(),
		StartDevice:  fin.Entry.StartDevice.String(),
		FinishDevice: fin.Entry.FinishDevice.String(),
		StartTime:    fin.Entry.StartTime,
		FinishTime:   fin.Entry.FinishTime,
		DurationMs:   fin.Entry.Duration,
		Clamped:      fin.Clamped,
	})
}
