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

package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]KVStore {
	t.Helper()

	bolt, err := NewBoltStore(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = bolt.Close() })

	return map[string]KVStore{
		"memory": NewMemoryStore(),
		"bolt":   bolt,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := s.Get(ctx, "lichtschranke", "role")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, s.Put(ctx, "lichtschranke", "role", []byte("2")))
			require.NoError(t, s.Put(ctx, "other", "role", []byte("3")))

			v, found, err := s.Get(ctx, "lichtschranke", "role")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []byte("2"), v)

			v, _, err = s.Get(ctx, "other", "role")
			require.NoError(t, err)
			assert.Equal(t, []byte("3"), v)

			require.NoError(t, s.Put(ctx, "lichtschranke", "role", []byte("1")))
			v, _, err = s.Get(ctx, "lichtschranke", "role")
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), v)

			require.NoError(t, s.Delete(ctx, "lichtschranke", "role"))
			require.NoError(t, s.Delete(ctx, "lichtschranke", "role"))
			require.NoError(t, s.Delete(ctx, "missing-namespace", "role"))

			_, found, err = s.Get(ctx, "lichtschranke", "role")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestStoreRejectsEmptyKeys(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, s.Put(ctx, "", "k", nil), errNamespaceRequired)
			require.ErrorIs(t, s.Put(ctx, "ns", "", nil), errKeyRequired)

			_, _, err := s.Get(ctx, "ns", "")
			require.ErrorIs(t, err, errKeyRequired)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	in := []byte("abc")
	require.NoError(t, s.Put(ctx, "ns", "k", in))
	in[0] = 'x'

	v, _, err := s.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v)

	v[1] = 'x'
	v, _, err = s.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v)
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.db")

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "lichtschranke", "devices", []byte("[]")))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)

	defer func() { _ = s.Close() }()

	v, found, err := s.Get(ctx, "lichtschranke", "devices")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("[]"), v)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
		backend string
	}{
		{name: "defaults to memory", cfg: Config{}, backend: BackendMemory},
		{name: "bolt needs path", cfg: Config{Backend: BackendBolt}, wantErr: errPathRequired},
		{name: "nats needs url", cfg: Config{Backend: BackendNATS}, wantErr: errNatsURLRequired},
		{name: "unknown backend", cfg: Config{Backend: "etcd"}, wantErr: errUnknownBackend},
		{name: "bolt ok", cfg: Config{Backend: BackendBolt, Path: "/tmp/x.db"}, backend: BackendBolt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.backend, tt.cfg.Backend)
		})
	}
}
