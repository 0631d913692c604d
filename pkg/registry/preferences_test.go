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
	"context"
	"testing"

	"github.com/carverauto/racegate/pkg/kv"
	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferencesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	prefs, err := NewPreferences(store, "", logger.NewTestLogger())
	require.NoError(t, err)

	role, devices, err := prefs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RoleIgnore, role)
	assert.Empty(t, devices)

	r := New(self)
	r.SetRole(models.RoleFinish)
	r.Configure(peerA, models.RoleStart)

	ch, _ := r.TakeChanges()
	require.NoError(t, prefs.Save(ctx, ch))

	raw, found, err := store.Get(ctx, DefaultNamespace, keyDevices)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `[{"mac":"24:6F:28:00:00:01","role":"Start"}]`, string(raw))

	raw, _, err = store.Get(ctx, DefaultNamespace, keyRole)
	require.NoError(t, err)
	assert.Equal(t, "2", string(raw))

	role, devices, err = prefs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RoleFinish, role)
	assert.Equal(t, []models.SavedDevice{{Address: peerA, Role: models.RoleStart}}, devices)

	require.NoError(t, prefs.Clear(ctx))

	role, devices, err = prefs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RoleIgnore, role)
	assert.Empty(t, devices)
}

func TestPreferencesToleratesBadData(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	require.NoError(t, store.Put(ctx, DefaultNamespace, keyRole, []byte("nine")))
	require.NoError(t, store.Put(ctx, DefaultNamespace, keyDevices,
		[]byte(`[{"mac":"nope","role":"Start"},{"mac":"24:6F:28:00:00:09","role":"Ziel"}]`)))

	prefs, err := NewPreferences(store, DefaultNamespace, logger.NewTestLogger())
	require.NoError(t, err)

	role, devices, err := prefs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RoleIgnore, role)
	assert.Equal(t, []models.SavedDevice{{Address: peerB, Role: models.RoleFinish}}, devices)

	require.NoError(t, store.Put(ctx, DefaultNamespace, keyDevices, []byte("{")))

	_, devices, err = prefs.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestNewPreferencesRequiresStore(t *testing.T) {
	_, err := NewPreferences(nil, "", logger.NewTestLogger())
	require.ErrorIs(t, err, errNoStore)
}
