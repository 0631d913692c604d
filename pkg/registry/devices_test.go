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

package registry

import (
	"testing"

	"github.com/carverauto/racegate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	self  = models.Address{0x24, 0x6F, 0x28, 0, 0, 0x05}
	peerA = models.Address{0x24, 0x6F, 0x28, 0, 0, 0x01}
	peerB = models.Address{0x24, 0x6F, 0x28, 0, 0, 0x09}
)

func TestOwnAddressIsRejected(t *testing.T) {
	r := New(self)

	assert.False(t, r.UpsertDiscovered(self, models.RoleStart, 10))
	assert.False(t, r.UpsertSaved(self, models.RoleStart, 10))
	assert.False(t, r.Configure(self, models.RoleStart))
	assert.False(t, r.UpsertDiscovered(models.Broadcast, models.RoleStart, 10))

	r.Restore(models.RoleFinish, []models.SavedDevice{{Address: self, Role: models.RoleStart}})

	assert.False(t, r.IsKnown(self, Saved))
	assert.False(t, r.IsKnown(self, Discovered))
	assert.Empty(t, r.OnlineAddresses())

	r.SetOffset(self, models.Offset{Millis: 40})
	assert.Zero(t, r.Offset(self).Millis)
}

func TestUpsertDiscoveredIsIdempotent(t *testing.T) {
	r := New(self)

	assert.True(t, r.UpsertDiscovered(peerA, models.RoleStart, 100))
	assert.False(t, r.UpsertDiscovered(peerA, models.RoleStart, 200))

	d, ok := r.Lookup(peerA)
	require.True(t, ok)
	assert.True(t, d.IsOnline)
	assert.Equal(t, models.Millis(200), d.LastSeen)

	assert.True(t, r.UpsertDiscovered(peerA, models.RoleFinish, 300))

	_, dirty := r.TakeChanges()
	assert.False(t, dirty, "discovered devices are never persisted")
}

func TestUpsertSavedQueuesPersistence(t *testing.T) {
	r := New(self)

	assert.True(t, r.UpsertSaved(peerB, models.RoleFinish, 1))
	assert.True(t, r.UpsertSaved(peerA, models.RoleStart, 1))
	assert.Equal(t, []models.Address{peerA, peerB}, r.OnlineAddresses())

	ch, dirty := r.TakeChanges()
	require.True(t, dirty)
	assert.True(t, ch.DevicesDirty)
	assert.False(t, ch.RoleDirty)
	assert.Equal(t, []models.SavedDevice{
		{Address: peerA, Role: models.RoleStart},
		{Address: peerB, Role: models.RoleFinish},
	}, ch.Devices)

	// Same role: only lastSeen moves, nothing to persist.
	assert.False(t, r.UpsertSaved(peerA, models.RoleStart, 2))

	_, dirty = r.TakeChanges()
	assert.False(t, dirty)

	d, _ := r.Lookup(peerA)
	assert.Equal(t, models.Millis(2), d.LastSeen)
}

func TestRestoredDevicesStartOffline(t *testing.T) {
	r := New(self)
	r.Restore(models.RoleStart, []models.SavedDevice{{Address: peerA, Role: models.RoleFinish}})

	assert.Equal(t, models.RoleStart, r.Role())
	assert.True(t, r.IsKnown(peerA, Saved))
	assert.Empty(t, r.OnlineAddresses())

	assert.True(t, r.Touch(peerA, 50))
	assert.Equal(t, []models.Address{peerA}, r.OnlineAddresses())
	assert.False(t, r.Touch(peerA, 60))
}

func TestConfigureInheritsOnlineFromDiscovered(t *testing.T) {
	r := New(self)

	assert.True(t, r.Configure(peerA, models.RoleStart))
	d, _ := r.Lookup(peerA)
	assert.False(t, d.IsOnline)

	r.UpsertDiscovered(peerB, models.RoleIgnore, 10)
	assert.True(t, r.Configure(peerB, models.RoleFinish))

	d, _ = r.Lookup(peerB)
	assert.True(t, d.IsOnline)
	assert.Equal(t, models.RoleFinish, d.Role)

	assert.False(t, r.Configure(peerB, models.RoleFinish))
}

func TestRemoveAndMarkOffline(t *testing.T) {
	r := New(self)
	r.Configure(peerA, models.RoleStart)
	r.UpsertDiscovered(peerA, models.RoleStart, 1)
	r.UpsertDiscovered(peerB, models.RoleFinish, 1)
	r.TakeChanges()

	assert.True(t, r.Remove(peerA))
	assert.False(t, r.Remove(peerA))
	assert.False(t, r.IsKnown(peerA, Saved))
	assert.True(t, r.IsKnown(peerA, Discovered))
	assert.Equal(t, []models.Address{peerB}, r.OnlineAddresses())

	ch, dirty := r.TakeChanges()
	require.True(t, dirty)
	assert.Empty(t, ch.Devices)

	assert.True(t, r.MarkOffline(peerB))
	assert.False(t, r.MarkOffline(peerB))
	assert.Empty(t, r.OnlineAddresses())
}

func TestClearDiscoveredKeepsSavedAndOffsets(t *testing.T) {
	r := New(self)
	r.Configure(peerA, models.RoleStart)
	r.UpsertDiscovered(peerB, models.RoleFinish, 1)
	r.SetOffset(peerB, models.Offset{Millis: -20, Source: models.OffsetCoarse})

	assert.True(t, r.ClearDiscovered())
	assert.False(t, r.ClearDiscovered())

	assert.Equal(t, []models.Address{peerA}, r.KnownAddresses())
	assert.Equal(t, int64(-20), r.Offset(peerB).Millis)
}

func TestUpdateSavedRoleOnlyTouchesSaved(t *testing.T) {
	r := New(self)

	assert.False(t, r.UpdateSavedRole(peerA, models.RoleFinish))

	r.Configure(peerA, models.RoleStart)
	r.TakeChanges()

	assert.True(t, r.UpdateSavedRole(peerA, models.RoleFinish))
	assert.False(t, r.UpdateSavedRole(peerA, models.RoleFinish))

	ch, dirty := r.TakeChanges()
	require.True(t, dirty)
	assert.Equal(t, models.RoleFinish, ch.Devices[0].Role)
}

func TestListFillsOffsets(t *testing.T) {
	r := New(self)
	r.UpsertDiscovered(peerB, models.RoleFinish, 1)
	r.UpsertDiscovered(peerA, models.RoleStart, 1)
	r.SetOffset(peerA, models.Offset{Millis: 50, Source: models.OffsetRoundTrip})

	list := r.List(Discovered)
	require.Len(t, list, 2)
	assert.Equal(t, peerA, list[0].Address)
	assert.Equal(t, int64(50), list[0].Offset.Millis)
	assert.Equal(t, peerB, list[1].Address)
}

func TestSetRoleMarksDirty(t *testing.T) {
	r := New(self)

	assert.False(t, r.SetRole(models.RoleIgnore))
	assert.True(t, r.SetRole(models.RoleDisplay))

	ch, dirty := r.TakeChanges()
	require.True(t, dirty)
	assert.True(t, ch.RoleDirty)
	assert.Equal(t, models.RoleDisplay, ch.Role)
}
