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

package sensor

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/jonboulle/clockwork"
)

// Poll intervals per state: fastest while a crossing is in progress.
const (
	pollTriggered           = 1 * time.Millisecond
	pollTriggeredInCooldown = 2 * time.Millisecond
	pollIdle                = 5 * time.Millisecond
	errorBackoff            = 100 * time.Millisecond
)

// CrossingFunc receives the local time of each crossing.
type CrossingFunc func(ts models.Millis)

// StateFunc receives every debounce state change.
type StateFunc func(s State)

// Loop polls a Measurer and feeds the Debouncer.
type Loop struct {
	measurer Measurer
	deb      *Debouncer
	clock    clockwork.Clock
	now      func() models.Millis
	logger   logger.Logger

	onCrossing CrossingFunc
	onState    StateFunc
}

// NewLoop wires a measurer to callbacks. now is the node's local millisecond clock.
func NewLoop(m Measurer, deb *Debouncer, clock clockwork.Clock, now func() models.Millis,
	onCrossing CrossingFunc, onState StateFunc, log logger.Logger) *Loop {
	return &Loop{
		measurer:   m,
		deb:        deb,
		clock:      clock,
		now:        now,
		logger:     log,
		onCrossing: onCrossing,
		onState:    onState,
	}
}

// Poll performs one measurement and returns how long to wait before the next.
func (l *Loop) Poll(ctx context.Context) (time.Duration, error) {
	triggered, err := l.measurer.Measure(ctx)
	if err != nil {
		return errorBackoff, err
	}

	step := l.deb.Observe(MeasureResult{Time: l.now(), Triggered: triggered})

	if step.Crossing && l.onCrossing != nil {
		l.onCrossing(l.deb.lastTrigger)
	}

	if step.Changed {
		l.logger.Debug().Str("state", step.State.String()).Msg("Gate state changed")

		if l.onState != nil {
			l.onState(step.State)
		}
	}

	return interval(step.State), nil
}

func interval(s State) time.Duration {
	switch s {
	case StateTriggered:
		return pollTriggered
	case StateTriggeredInCooldown:
		return pollTriggeredInCooldown
	default:
		return pollIdle
	}
}

// Run polls until ctx is done or the measurer reports io.EOF.
func (l *Loop) Run(ctx context.Context) error {
	for {
		wait, err := l.Poll(ctx)

		switch {
		case errors.Is(err, io.EOF):
			l.logger.Info().Msg("Sensor input ended")
			return nil
		case err != nil:
			l.logger.Warn().Err(err).Msg("Sensor read failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}
