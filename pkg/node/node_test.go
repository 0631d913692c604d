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
	"sync"
	"testing"
	"time"

	"github.com/carverauto/racegate/pkg/kv"
	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/carverauto/racegate/pkg/registry"
	"github.com/carverauto/racegate/pkg/status"
	"github.com/carverauto/racegate/pkg/transport"
	"github.com/carverauto/racegate/pkg/wire"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = models.Address{0x24, 0x6F, 0x28, 0x00, 0x00, 0x01}
	addrB = models.Address{0x24, 0x6F, 0x28, 0x00, 0x00, 0x02}
	addrC = models.Address{0x24, 0x6F, 0x28, 0x00, 0x00, 0x03}
	addrX = models.Address{0x24, 0x6F, 0x28, 0x00, 0x00, 0x09}
)

type fakeResults struct {
	mu  sync.Mutex
	got []models.RaceFinishedData
}

func (f *fakeResults) PublishRaceFinished(_ context.Context, data models.RaceFinishedData) error {
	f.mu.Lock()
	f.got = append(f.got, data)
	f.mu.Unlock()

	return nil
}

func (f *fakeResults) results() []models.RaceFinishedData {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]models.RaceFinishedData(nil), f.got...)
}

type testNode struct {
	*Node
	status  *status.Recorder
	results *fakeResults
	store   kv.KVStore
}

// cluster runs nodes on an in-memory network sharing one fake clock. Messages move
// only when Flush is called.
type cluster struct {
	t     *testing.T
	clock *clockwork.FakeClock
	net   *transport.MemoryNetwork
}

func newCluster(t *testing.T) *cluster {
	t.Helper()

	return &cluster{
		t:     t,
		clock: clockwork.NewFakeClock(),
		net:   transport.NewMemoryNetwork(),
	}
}

// add creates a node whose local clock starts at the cluster's current time.
func (c *cluster) add(addr models.Address, role models.Role) *testNode {
	c.t.Helper()

	tn := &testNode{
		status:  &status.Recorder{},
		results: &fakeResults{},
		store:   kv.NewMemoryStore(),
	}

	n, err := New(Options{
		Self:      addr,
		Transport: c.net.Join(addr),
		Store:     tn.store,
		Clock:     c.clock,
		Status:    tn.status,
		Results:   tn.results,
		Logger:    logger.NewTestLogger(),
	})
	require.NoError(c.t, err)
	require.NoError(c.t, n.SetOwnRole(role))

	tn.Node = n

	return tn
}

// boot runs the boot sequence of every node and settles the network.
func (c *cluster) boot(nodes ...*testNode) {
	c.t.Helper()

	for _, n := range nodes {
		require.NoError(c.t, n.Boot(context.Background()))
	}

	c.net.Flush()

	for _, n := range nodes {
		n.CompleteBoot()
	}

	c.net.Flush()

	c.t.Cleanup(func() {
		for _, n := range nodes {
			_ = n.Stop(context.Background())
		}
	})
}

// advance moves the clock, ticks the given nodes and settles the network.
func (c *cluster) advance(d time.Duration, nodes ...*testNode) {
	c.clock.Advance(d)

	for _, n := range nodes {
		n.Tick()
	}

	c.net.Flush()
}

// listener joins a raw endpoint that records every payload it receives.
func (c *cluster) listener(addr models.Address) (*transport.MemoryTransport, *[]wire.Message) {
	c.t.Helper()

	tr := c.net.Join(addr)

	var got []wire.Message

	require.NoError(c.t, tr.Start(context.Background(), func(_ models.Address, payload []byte) {
		msg, err := wire.Decode(payload)
		require.NoError(c.t, err)

		got = append(got, msg)
	}))

	return tr, &got
}

func send(t *testing.T, tr transport.Transport, dst models.Address, msg wire.Message) {
	t.Helper()

	payload, err := wire.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, tr.SendTo(dst, payload))
}

func requireFollows(t *testing.T, n *testNode, master models.Address) {
	t.Helper()

	got, ok := n.MasterAddress()
	require.True(t, ok, "%s has no master", n.Self())
	require.Equal(t, master, got, "%s follows the wrong master", n.Self())
}

func TestLowestAddressBecomesMaster(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleDisplay)
	b := c.add(addrB, models.RoleStart)
	f := c.add(addrC, models.RoleFinish)

	c.boot(f, b, a)

	assert.True(t, a.IsMaster())
	assert.False(t, b.IsMaster())
	assert.False(t, f.IsMaster())
	requireFollows(t, b, addrA)
	requireFollows(t, f, addrA)

	discovered := b.Devices(registry.Discovered)
	require.Len(t, discovered, 2)
	assert.Equal(t, addrA, discovered[0].Address)
	assert.Equal(t, models.RoleDisplay, discovered[0].Role)
	assert.Equal(t, models.RoleFinish, discovered[1].Role)

	masters := a.status.OfType(models.StatusTypeMaster)
	require.NotEmpty(t, masters)
	assert.Equal(t, "master", masters[len(masters)-1].Data.(MasterView).Status)
}

func TestRaceDurationIsOffsetCorrected(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleDisplay)

	// b's clock reads 1000ms behind a's, f's 3000ms behind.
	c.clock.Advance(time.Second)
	b := c.add(addrB, models.RoleStart)
	c.clock.Advance(2 * time.Second)
	f := c.add(addrC, models.RoleFinish)

	c.boot(a, b, f)
	require.True(t, a.IsMaster())

	require.NoError(t, b.HandleTrigger(b.Millis()))
	c.net.Flush()

	summary := a.Summary()
	assert.Equal(t, 1, summary.Unfinished)
	assert.Equal(t, 1, b.Summary().Unfinished, "start replicated to slaves")

	c.clock.Advance(2500 * time.Millisecond)

	require.NoError(t, f.HandleTrigger(f.Millis()))
	c.net.Flush()

	summary = a.Summary()
	assert.True(t, summary.HasFinished)
	assert.Equal(t, models.Millis(2500), summary.LastFinished)
	assert.Zero(t, summary.Unfinished)

	for _, n := range []*testNode{b, f} {
		entries := n.Entries()
		require.Len(t, entries, 1)
		assert.True(t, entries[0].IsFinished)
		assert.Equal(t, models.Millis(2500), entries[0].Duration)
		assert.Equal(t, addrB, entries[0].StartDevice)
		assert.Equal(t, addrC, entries[0].FinishDevice)
	}

	require.Eventually(t, func() bool { return len(a.results.results()) == 1 }, time.Second, 5*time.Millisecond)

	got := a.results.results()[0]
	assert.Equal(t, models.Millis(2500), got.DurationMs)
	assert.Equal(t, addrA.String(), got.Master)
	assert.False(t, got.Clamped)
}

func TestFinishWithoutStartChangesNothing(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleDisplay)
	f := c.add(addrC, models.RoleFinish)
	c.boot(a, f)

	f.status.Reset()

	require.NoError(t, f.HandleTrigger(f.Millis()))
	assert.Equal(t, 1, c.net.Flush(), "only the race event travels, nothing is replicated")

	assert.Empty(t, a.Entries())
	assert.Equal(t, models.RaceSummary{}, a.Summary())
	assert.Empty(t, f.status.OfType(models.StatusTypeRace))
}

func TestTriggerRequiresGateRoleAndMaster(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleStart)
	d := c.add(addrB, models.RoleDisplay)

	require.ErrorIs(t, a.HandleTrigger(0), ErrNoMaster)

	c.boot(a, d)

	require.ErrorIs(t, d.HandleTrigger(d.Millis()), ErrNotGate)

	require.NoError(t, a.HandleTrigger(a.Millis()))
	c.net.Flush()

	assert.Equal(t, 1, a.Summary().Unfinished)
	assert.Len(t, d.Entries(), 1)
}

func TestLowerAddressJoiningTakesOver(t *testing.T) {
	c := newCluster(t)
	b := c.add(addrB, models.RoleStart)
	f := c.add(addrC, models.RoleFinish)
	c.boot(b, f)
	require.True(t, b.IsMaster())

	a := c.add(addrA, models.RoleDisplay)
	c.boot(a)

	assert.True(t, a.IsMaster())
	assert.False(t, b.IsMaster())
	requireFollows(t, b, addrA)
	requireFollows(t, f, addrA)
}

func TestFullSyncFromForeignMasterIsDiscarded(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleStart)
	b := c.add(addrB, models.RoleFinish)
	c.boot(a, b)

	rogue, _ := c.listener(addrX)

	fs := wire.FullSync{
		Master:       addrX,
		MasterTime:   1,
		Entries:      []models.RaceEntry{{StartTime: 5, StartDevice: addrX}},
		LastFinished: 42,
		Timestamp:    1,
	}

	send(t, rogue, addrB, fs)
	c.net.Flush()

	assert.Empty(t, b.Entries())
	assert.False(t, b.Summary().HasFinished)

	// Claiming the real master's address from another sender does not help either.
	fs.Master = addrA
	send(t, rogue, addrB, fs)
	c.net.Flush()

	assert.Empty(t, b.Entries())
	requireFollows(t, b, addrA)
}

func TestSlaveReplacesQueueAfterMasterRestart(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleStart)
	b := c.add(addrB, models.RoleFinish)
	c.boot(a, b)

	for range 60 {
		c.advance(time.Second, a, b)
	}

	require.NoError(t, a.HandleTrigger(a.Millis()))
	c.net.Flush()
	require.Equal(t, 1, b.Summary().Unfinished)

	// A restarted within the master timeout: its clock starts again near zero and its
	// queue is empty.
	restarted := c.net.Join(addrA)

	send(t, restarted, addrB, wire.MasterHeartbeat{Master: addrA, MasterTime: 5000, Sequence: 1})
	send(t, restarted, addrB, wire.FullSync{
		Master:       addrA,
		MasterTime:   5000,
		Entries:      []models.RaceEntry{},
		LastFinished: wire.NoFinished,
		Timestamp:    5000,
	})
	c.net.Flush()

	requireFollows(t, b, addrA)
	assert.Zero(t, b.Summary().Unfinished)
	assert.Empty(t, b.Entries())

	// Later syncs from the same session keep replacing the copy wholesale.
	send(t, restarted, addrB, wire.FullSync{
		Master:       addrA,
		MasterTime:   6000,
		Entries:      []models.RaceEntry{{StartTime: 5500, StartDevice: addrA}},
		LastFinished: 2930,
		Timestamp:    6000,
	})
	c.net.Flush()

	require.Len(t, b.Entries(), 1)
	assert.Equal(t, addrA, b.Entries()[0].StartDevice)
	assert.Equal(t, 1, b.Summary().Unfinished)
	assert.Equal(t, models.Millis(2930), b.Summary().LastFinished)
}

func TestMasterTimeoutPromotesNextLowest(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleDisplay)
	b := c.add(addrB, models.RoleStart)
	f := c.add(addrC, models.RoleFinish)
	c.boot(a, b, f)

	c.net.SetDrop(func(src, _ models.Address, _ []byte) bool {
		return src == addrA
	})

	for range 14 {
		c.advance(time.Second, b, f)
	}

	requireFollows(t, b, addrA)

	c.advance(2*time.Second, b, f)

	assert.True(t, b.IsMaster())
	requireFollows(t, f, addrB)

	d, ok := f.Device(addrA)
	require.True(t, ok)
	assert.False(t, d.IsOnline)
}

func TestRemovingMasterPromotesNextLowestImmediately(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleDisplay)
	b := c.add(addrB, models.RoleStart)
	c.boot(a, b)

	require.NoError(t, b.AssignRole(addrA, models.RoleDisplay))
	c.net.Flush()
	requireFollows(t, b, addrA)

	c.net.SetDrop(func(src, _ models.Address, _ []byte) bool {
		return src == addrA
	})

	require.NoError(t, b.AssignRole(addrA, models.RoleIgnore))

	assert.True(t, b.IsMaster())
	assert.Empty(t, b.Devices(registry.Saved))
}

func TestIdentityIsIdempotent(t *testing.T) {
	c := newCluster(t)
	b := c.add(addrB, models.RoleStart)
	c.boot(b)
	require.True(t, b.IsMaster())

	rogue, got := c.listener(addrX)
	b.status.Reset()

	send(t, rogue, addrB, wire.Identity{Address: addrX, Role: models.RoleFinish})
	c.net.Flush()

	require.Len(t, b.status.OfType(models.StatusTypeDevices), 1)
	require.Len(t, *got, 1)
	assert.Equal(t, wire.Identity{Address: addrB, Role: models.RoleStart}, (*got)[0])

	first, ok := b.Device(addrX)
	require.True(t, ok)

	c.clock.Advance(time.Second)
	send(t, rogue, addrB, wire.Identity{Address: addrX, Role: models.RoleFinish})
	c.net.Flush()

	assert.Len(t, b.status.OfType(models.StatusTypeDevices), 1, "repeat identity is not a change")
	assert.Len(t, *got, 1, "known peers are not answered again")

	second, ok := b.Device(addrX)
	require.True(t, ok)
	assert.Equal(t, first.Role, second.Role)
	assert.Greater(t, second.LastSeen, first.LastSeen)
	assert.True(t, b.IsMaster())
}

func TestAssignRoleConfiguresBothSides(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleDisplay)
	b := c.add(addrB, models.RoleIgnore)
	c.boot(a, b)

	require.NoError(t, a.AssignRole(addrB, models.RoleFinish))
	c.net.Flush()

	assert.Equal(t, models.RoleFinish, b.Role())

	saved := a.Devices(registry.Saved)
	require.Len(t, saved, 1)
	assert.Equal(t, addrB, saved[0].Address)
	assert.Equal(t, models.RoleFinish, saved[0].Role)
	assert.True(t, saved[0].IsOnline)

	peer, ok := b.Device(addrA)
	require.True(t, ok)
	assert.Equal(t, models.RoleDisplay, peer.Role)
	assert.True(t, peer.IsOnline)
	assert.Len(t, b.Devices(registry.Saved), 1)

	prefs, err := registry.NewPreferences(a.store, "", logger.NewTestLogger())
	require.NoError(t, err)

	role, devices, err := prefs.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RoleDisplay, role)
	assert.Equal(t, []models.SavedDevice{{Address: addrB, Role: models.RoleFinish}}, devices)

	require.ErrorIs(t, a.AssignRole(addrA, models.RoleStart), ErrInvalidPeer)
	require.ErrorIs(t, a.AssignRole(models.Broadcast, models.RoleStart), ErrInvalidPeer)
}

func TestIgnoreRoleIsGoodbyeToSavedPeers(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleDisplay)
	b := c.add(addrB, models.RoleStart)
	c.boot(a, b)

	require.NoError(t, a.AssignRole(addrB, models.RoleFinish))
	c.net.Flush()
	require.Len(t, a.Devices(registry.Saved), 1)

	require.NoError(t, b.SetOwnRole(models.RoleIgnore))
	c.net.Flush()

	assert.Empty(t, a.Devices(registry.Saved))

	d, ok := a.Device(addrB)
	require.True(t, ok)
	assert.False(t, d.IsOnline)
}

func TestRestartRestoresSavedDevices(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleDisplay)
	b := c.add(addrB, models.RoleStart)
	c.boot(a, b)

	require.NoError(t, a.AssignRole(addrB, models.RoleFinish))
	c.net.Flush()

	restarted, err := New(Options{
		Self:      addrX,
		Transport: c.net.Join(addrX),
		Store:     a.store,
		Clock:     c.clock,
		Logger:    logger.NewTestLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, restarted.Boot(context.Background()))

	t.Cleanup(func() { _ = restarted.Stop(context.Background()) })

	assert.Equal(t, models.RoleDisplay, restarted.Role())

	saved := restarted.Devices(registry.Saved)
	require.Len(t, saved, 1)
	assert.Equal(t, addrB, saved[0].Address)
	assert.False(t, saved[0].IsOnline, "restored devices start offline")
}

func TestSlaveUsesRoundTripOffset(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleDisplay)
	c.clock.Advance(time.Second)
	b := c.add(addrB, models.RoleStart)
	c.boot(a, b)

	master, ok := b.Device(addrA)
	require.True(t, ok)
	assert.Equal(t, models.OffsetRoundTrip, master.Offset.Source)
	assert.Equal(t, int64(-1000), master.Offset.Millis)

	slave, ok := a.Device(addrB)
	require.True(t, ok)
	assert.Equal(t, models.OffsetCoarse, slave.Offset.Source)
	assert.Equal(t, int64(1000), slave.Offset.Millis)

	// Heartbeats carry coarse estimates that must not replace a fresh round trip.
	c.advance(5*time.Second, a, b)

	master, _ = b.Device(addrA)
	assert.Equal(t, models.OffsetRoundTrip, master.Offset.Source)
}

func TestMasterMaintenance(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleStart)
	f := c.add(addrC, models.RoleFinish)
	c.boot(a, f)

	_, got := c.listener(addrX)

	c.advance(5*time.Second, a, f)

	heartbeats := 0

	for _, m := range *got {
		if _, ok := m.(wire.MasterHeartbeat); ok {
			heartbeats++
		}
	}

	assert.Equal(t, 1, heartbeats)

	require.NoError(t, a.HandleTrigger(a.Millis()))
	c.advance(time.Second, a, f)
	require.NoError(t, f.HandleTrigger(f.Millis()))
	c.net.Flush()

	require.Len(t, f.Entries(), 1)

	for range 135 {
		c.advance(time.Second, a, f)
	}

	assert.Empty(t, a.Entries())
	assert.Empty(t, f.Entries(), "cleanup is replicated")

	summary := f.Summary()
	assert.True(t, summary.HasFinished, "last duration survives cleanup")
	requireFollows(t, f, addrA)
}

func TestPauseStopsMaintenance(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleDisplay)
	c.boot(a)

	a.Pause()
	assert.True(t, a.scheduler.Paused())

	a.Resume()
	assert.False(t, a.scheduler.Paused())
}

func TestScanRediscoversPeers(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleDisplay)
	b := c.add(addrB, models.RoleStart)
	c.boot(a, b)

	c.net.SetDrop(func(src, _ models.Address, _ []byte) bool {
		return src == addrB
	})

	a.Scan()
	c.net.Flush()

	assert.Empty(t, a.Devices(registry.Discovered))

	c.net.SetDrop(nil)

	a.Scan()
	c.net.Flush()

	require.Len(t, a.Devices(registry.Discovered), 1)
	assert.True(t, a.IsMaster())
	requireFollows(t, b, addrA)
}

func TestSnapshotCoversEveryStatus(t *testing.T) {
	c := newCluster(t)
	a := c.add(addrA, models.RoleFinish)
	c.boot(a)

	snap := a.Snapshot()
	require.Len(t, snap, 4)

	types := make([]string, 0, len(snap))
	for _, m := range snap {
		types = append(types, m.Type)
	}

	assert.ElementsMatch(t, []string{
		models.StatusTypeRole,
		models.StatusTypeMaster,
		models.StatusTypeDevices,
		models.StatusTypeRace,
	}, types)

	a.ReportGateState("Triggered")
	assert.Len(t, a.status.OfType(models.StatusTypeSensor), 1)
}
