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

package race

import (
	"testing"
	"time"

	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	startGate  = models.Address{0x24, 0x6F, 0x28, 0, 0, 0x0A}
	finishGate = models.Address{0x24, 0x6F, 0x28, 0, 0, 0x0B}
)

func offsets(m map[models.Address]int64) OffsetFunc {
	return func(a models.Address) models.Offset {
		return models.Offset{Millis: m[a], Source: models.OffsetCoarse}
	}
}

func noOffsets(models.Address) models.Offset { return models.Offset{} }

func newMaster(t *testing.T, cfg Config) *Coordinator {
	t.Helper()

	c := NewCoordinator(cfg, logger.NewTestLogger())
	c.SetAuthoritative(true)

	return c
}

func TestDurationIsOffsetCorrected(t *testing.T) {
	c := newMaster(t, Config{})

	require.NoError(t, c.RecordStart(1000, startGate))

	fin, err := c.RecordFinish(4000, finishGate, offsets(map[models.Address]int64{
		startGate:  50,
		finishGate: -20,
	}), 10_000)
	require.NoError(t, err)

	assert.Equal(t, models.Millis(2930), fin.Entry.Duration)
	assert.False(t, fin.Clamped)
	assert.True(t, fin.Entry.IsFinished)
	assert.Equal(t, finishGate, fin.Entry.FinishDevice)
	assert.Equal(t, models.Millis(4000), fin.Entry.FinishTime)

	last, ok := c.LastFinished()
	assert.True(t, ok)
	assert.Equal(t, models.Millis(2930), last)
}

func TestNegativeDurationIsClamped(t *testing.T) {
	c := newMaster(t, Config{})

	require.NoError(t, c.RecordStart(5000, startGate))

	fin, err := c.RecordFinish(4000, finishGate, noOffsets, 1)
	require.NoError(t, err)
	assert.True(t, fin.Clamped)
	assert.Equal(t, models.Millis(-1000), fin.Raw)
	assert.Zero(t, fin.Entry.Duration)
}

func TestFinishMatchesOldestStart(t *testing.T) {
	c := newMaster(t, Config{})

	require.NoError(t, c.RecordStart(1000, startGate))
	require.NoError(t, c.RecordStart(2000, startGate))

	fin, err := c.RecordFinish(5000, finishGate, noOffsets, 1)
	require.NoError(t, err)
	assert.Equal(t, models.Millis(1000), fin.Entry.StartTime)

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].IsFinished)
	assert.False(t, entries[1].IsFinished)
	assert.Equal(t, models.RaceSummary{Unfinished: 1, LastFinished: 4000, HasFinished: true}, c.Summary())

	fin, err = c.RecordFinish(6000, finishGate, noOffsets, 2)
	require.NoError(t, err)
	assert.Equal(t, models.Millis(2000), fin.Entry.StartTime)

	_, err = c.RecordFinish(7000, finishGate, noOffsets, 3)
	require.ErrorIs(t, err, ErrNoPendingStart)
}

func TestFinishOnEmptyQueueChangesNothing(t *testing.T) {
	c := newMaster(t, Config{})

	_, err := c.RecordFinish(4000, finishGate, noOffsets, 1)
	require.ErrorIs(t, err, ErrNoPendingStart)

	assert.Empty(t, c.Entries())
	assert.Equal(t, models.RaceSummary{}, c.Summary())
}

func TestSlaveNeverMutates(t *testing.T) {
	c := NewCoordinator(Config{}, logger.NewTestLogger())

	require.ErrorIs(t, c.RecordStart(1, startGate), ErrNotAuthoritative)

	_, err := c.RecordFinish(2, finishGate, noOffsets, 1)
	require.ErrorIs(t, err, ErrNotAuthoritative)
	assert.Empty(t, c.Entries())
}

func TestCleanupGraceWindows(t *testing.T) {
	c := newMaster(t, Config{FinishedGrace: 2 * time.Minute, ZeroDurationGrace: 10 * time.Minute})

	require.NoError(t, c.RecordStart(1000, startGate))
	require.NoError(t, c.RecordStart(1000, startGate))
	require.NoError(t, c.RecordStart(9000, startGate))

	const finishedAt = models.Millis(100_000)

	_, err := c.RecordFinish(1000, finishGate, noOffsets, finishedAt) // zero duration
	require.NoError(t, err)
	_, err = c.RecordFinish(4000, finishGate, noOffsets, finishedAt)
	require.NoError(t, err)

	assert.Zero(t, c.Cleanup(finishedAt+models.Millis(2*time.Minute/time.Millisecond)))
	assert.Len(t, c.Entries(), 3)

	assert.Equal(t, 1, c.Cleanup(finishedAt+models.Millis(2*time.Minute/time.Millisecond)+1))

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Zero(t, entries[0].Duration, "zero durations outlive the normal window")
	assert.False(t, entries[1].IsFinished, "unfinished entries are never cleaned up")

	assert.Zero(t, c.Cleanup(finishedAt+models.Millis(10*time.Minute/time.Millisecond)))
	assert.Equal(t, 1, c.Cleanup(finishedAt+models.Millis(10*time.Minute/time.Millisecond)+1))
	assert.Len(t, c.Entries(), 1)

	last, ok := c.LastFinished()
	assert.True(t, ok, "last finished survives cleanup")
	assert.Equal(t, models.Millis(3000), last)
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := newMaster(t, Config{Capacity: 3})

	for i := 1; i <= 4; i++ {
		require.NoError(t, c.RecordStart(models.Millis(i*1000), startGate))
	}

	entries := c.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, models.Millis(2000), entries[0].StartTime)
	assert.Equal(t, models.Millis(4000), entries[2].StartTime)
}

func TestSnapshotCarriesMostRecent(t *testing.T) {
	c := newMaster(t, Config{})

	for i := 1; i <= 7; i++ {
		require.NoError(t, c.RecordStart(models.Millis(i), startGate))
	}

	snap := c.Snapshot()
	require.Len(t, snap, DefaultSnapshotSize)
	assert.Equal(t, models.Millis(3), snap[0].StartTime)
	assert.Equal(t, models.Millis(7), snap[4].StartTime)
}

func TestReplaceIsWholesale(t *testing.T) {
	c := NewCoordinator(Config{}, logger.NewTestLogger())

	c.Replace([]models.RaceEntry{{StartTime: 1, StartDevice: startGate}}, 0, false, 10)
	assert.Len(t, c.Entries(), 1)

	c.Replace([]models.RaceEntry{
		{StartTime: 5, StartDevice: startGate, FinishTime: 9, FinishDevice: finishGate, IsFinished: true, Duration: 4},
	}, 4, true, 20)

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.Millis(5), entries[0].StartTime)
	assert.Equal(t, models.RaceSummary{LastFinished: 4, HasFinished: true}, c.Summary())

	// a promoted node ages replicated entries from the time it received them
	c.SetAuthoritative(true)
	assert.Zero(t, c.Cleanup(20+models.Millis(DefaultFinishedGrace.Milliseconds())))
	assert.Equal(t, 1, c.Cleanup(21+models.Millis(DefaultFinishedGrace.Milliseconds())))
}
