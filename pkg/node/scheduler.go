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
	"sync/atomic"
	"time"

	"github.com/carverauto/racegate/pkg/logger"
	"github.com/jonboulle/clockwork"
)

// Scheduler drives periodic maintenance. Ticks are skipped while paused.
type Scheduler struct {
	clock    clockwork.Clock
	interval time.Duration
	tick     func()
	logger   logger.Logger

	paused atomic.Bool
}

// NewScheduler returns a scheduler calling tick every interval.
func NewScheduler(clock clockwork.Clock, interval time.Duration, tick func(), log logger.Logger) *Scheduler {
	return &Scheduler{
		clock:    clock,
		interval: interval,
		tick:     tick,
		logger:   log,
	}
}

// Run ticks until ctx is done and returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug().Dur("interval", s.interval).Msg("Maintenance scheduler started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if s.paused.Load() {
				continue
			}

			s.tick()
		}
	}
}

// Pause suspends ticks until Resume.
func (s *Scheduler) Pause() {
	if !s.paused.Swap(true) {
		s.logger.Info().Msg("Maintenance paused")
	}
}

func (s *Scheduler) Resume() {
	if s.paused.Swap(false) {
		s.logger.Info().Msg("Maintenance resumed")
	}
}

func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}
