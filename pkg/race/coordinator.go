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

// Package race holds the race queue. On the master it is the authoritative record of
// start and finish crossings; on a slave it is a cache replaced by every full sync.
package race

import (
	"errors"
	"time"

	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/carverauto/racegate/pkg/timesync"
)

var (
	// ErrNotAuthoritative is returned when a slave tries to mutate the queue.
	ErrNotAuthoritative = errors.New("race queue is not authoritative on this node")
	// ErrNoPendingStart is returned for a finish with no unfinished entry to match.
	ErrNoPendingStart = errors.New("no pending start")
)

const (
	DefaultCapacity          = 16
	DefaultFinishedGrace     = 2 * time.Minute
	DefaultZeroDurationGrace = 10 * time.Minute
	// DefaultSnapshotSize matches the entries a FullSync can carry.
	DefaultSnapshotSize = 5
)

// Config bounds the queue and its retention.
type Config struct {
	Capacity          int
	FinishedGrace     time.Duration
	ZeroDurationGrace time.Duration
	SnapshotSize      int
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}

	if c.FinishedGrace <= 0 {
		c.FinishedGrace = DefaultFinishedGrace
	}

	if c.ZeroDurationGrace <= 0 {
		c.ZeroDurationGrace = DefaultZeroDurationGrace
	}

	if c.SnapshotSize <= 0 {
		c.SnapshotSize = DefaultSnapshotSize
	}
}

// OffsetFunc returns the stored clock offset of a device.
type OffsetFunc func(models.Address) models.Offset

// Finish describes a completed race.
type Finish struct {
	Entry models.RaceEntry
	// Clamped is set when the corrected duration was negative and forced to zero.
	Clamped bool
	// Raw is the corrected duration before clamping.
	Raw models.Millis
}

type entry struct {
	models.RaceEntry
	// finishedAt is the local time the entry finished or arrived finished.
	finishedAt models.Millis
}

// Coordinator owns the queue. It is not safe for concurrent use.
type Coordinator struct {
	cfg    Config
	logger logger.Logger

	authoritative bool
	entries       []entry
	lastFinished  models.Millis
	hasFinished   bool
}

// NewCoordinator returns an empty, non-authoritative queue.
func NewCoordinator(cfg Config, log logger.Logger) *Coordinator {
	cfg.applyDefaults()

	return &Coordinator{
		cfg:     cfg,
		logger:  log,
		entries: make([]entry, 0, cfg.Capacity),
	}
}

// SetAuthoritative switches between master and slave behaviour. A node that becomes
// master continues from the queue it last received.
func (c *Coordinator) SetAuthoritative(v bool) {
	c.authoritative = v
}

func (c *Coordinator) Authoritative() bool {
	return c.authoritative
}

// RecordStart appends an unfinished entry. When the queue is full the oldest entry is
// dropped.
func (c *Coordinator) RecordStart(raw models.Millis, device models.Address) error {
	if !c.authoritative {
		c.logger.Warn().Str("device", device.String()).Msg("Ignoring start on non-master")

		return ErrNotAuthoritative
	}

	if len(c.entries) >= c.cfg.Capacity {
		evicted := c.entries[0]
		c.entries = append(c.entries[:0], c.entries[1:]...)

		c.logger.Warn().
			Bool("finished", evicted.IsFinished).
			Int64("start_time", int64(evicted.StartTime)).
			Int("capacity", c.cfg.Capacity).
			Msg("Race queue full, dropping oldest entry")
	}

	c.entries = append(c.entries, entry{RaceEntry: models.RaceEntry{StartTime: raw, StartDevice: device}})

	return nil
}

// RecordFinish completes the oldest unfinished entry. Both raw readings are converted
// with the devices' offsets before subtracting; a negative result is clamped to zero.
func (c *Coordinator) RecordFinish(raw models.Millis, device models.Address, offsets OffsetFunc, now models.Millis) (Finish, error) {
	if !c.authoritative {
		c.logger.Warn().Str("device", device.String()).Msg("Ignoring finish on non-master")

		return Finish{}, ErrNotAuthoritative
	}

	for i := range c.entries {
		e := &c.entries[i]
		if e.IsFinished {
			continue
		}

		start := timesync.ToLocal(e.StartTime, offsets(e.StartDevice))
		finish := timesync.ToLocal(raw, offsets(device))
		d := finish - start

		e.FinishTime = raw
		e.FinishDevice = device
		e.IsFinished = true
		e.Duration = max(0, d)
		e.finishedAt = now

		c.lastFinished = e.Duration
		c.hasFinished = true

		return Finish{Entry: e.RaceEntry, Clamped: d < 0, Raw: d}, nil
	}

	c.logger.Warn().
		Str("device", device.String()).
		Int64("finish_time", int64(raw)).
		Msg("Dropping finish without pending start")

	return Finish{}, ErrNoPendingStart
}

// Cleanup removes finished entries whose grace window has passed and returns how many
// were removed. Zero durations are kept for the longer window so an operator sees them.
func (c *Coordinator) Cleanup(now models.Millis) int {
	kept := c.entries[:0]
	removed := 0

	for _, e := range c.entries {
		if e.IsFinished && now-e.finishedAt > c.grace(e.Duration) {
			removed++
			continue
		}

		kept = append(kept, e)
	}

	c.entries = kept

	return removed
}

func (c *Coordinator) grace(d models.Millis) models.Millis {
	if d == 0 {
		return models.Millis(c.cfg.ZeroDurationGrace.Milliseconds())
	}

	return models.Millis(c.cfg.FinishedGrace.Milliseconds())
}

// Snapshot returns the most recent entries, oldest first, for replication.
func (c *Coordinator) Snapshot() []models.RaceEntry {
	from := max(0, len(c.entries)-c.cfg.SnapshotSize)

	return c.copyEntries(from)
}

// Entries returns the whole queue, oldest first.
func (c *Coordinator) Entries() []models.RaceEntry {
	return c.copyEntries(0)
}

func (c *Coordinator) copyEntries(from int) []models.RaceEntry {
	out := make([]models.RaceEntry, 0, len(c.entries)-from)
	for _, e := range c.entries[from:] {
		out = append(out, e.RaceEntry)
	}

	return out
}

// LastFinished returns the duration of the most recently finished race.
func (c *Coordinator) LastFinished() (models.Millis, bool) {
	return c.lastFinished, c.hasFinished
}

// Summary is the view displays show.
func (c *Coordinator) Summary() models.RaceSummary {
	unfinished := 0

	for _, e := range c.entries {
		if !e.IsFinished {
			unfinished++
		}
	}

	return models.RaceSummary{
		Unfinished:   unfinished,
		LastFinished: c.lastFinished,
		HasFinished:  c.hasFinished,
	}
}

// Replace overwrites the queue with a replicated copy. now stamps finished entries so
// they age out if this node later becomes master.
func (c *Coordinator) Replace(entries []models.RaceEntry, lastFinished models.Millis, hasFinished bool, now models.Millis) {
	c.entries = c.entries[:0]

	for _, e := range entries {
		ne := entry{RaceEntry: e}
		if e.IsFinished {
			ne.finishedAt = now
		}

		c.entries = append(c.entries, ne)
	}

	if len(c.entries) > c.cfg.Capacity {
		c.entries = c.entries[len(c.entries)-c.cfg.Capacity:]
	}

	c.lastFinished = lastFinished
	c.hasFinished = hasFinished
}
