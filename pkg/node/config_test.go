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
	"testing"
	"time"

	"github.com/carverauto/racegate/pkg/models"
	"github.com/carverauto/racegate/pkg/race"
	"github.com/carverauto/racegate/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config

	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Second, time.Duration(cfg.HeartbeatInterval))
	assert.Equal(t, 6*time.Second, time.Duration(cfg.FullSyncInterval))
	assert.Equal(t, 15*time.Second, time.Duration(cfg.MasterTimeout))
	assert.Equal(t, 30*time.Second, time.Duration(cfg.ResyncInterval))
	assert.Equal(t, time.Minute, time.Duration(cfg.OffsetFreshness))
	assert.Equal(t, time.Second, time.Duration(cfg.TickInterval))
	assert.Equal(t, race.DefaultFinishedGrace, time.Duration(cfg.FinishedGrace))
	assert.Equal(t, race.DefaultZeroDurationGrace, time.Duration(cfg.ZeroDurationGrace))
	assert.Equal(t, race.DefaultCapacity, cfg.QueueCapacity)
	assert.Equal(t, registry.DefaultNamespace, cfg.Namespace)
}

func TestConfigTimeoutFollowsHeartbeat(t *testing.T) {
	cfg := Config{HeartbeatInterval: models.Duration(2 * time.Second)}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6*time.Second, time.Duration(cfg.MasterTimeout))
}

func TestConfigRejectsInconsistentTimings(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{
			name: "timeout not above heartbeat",
			cfg: Config{
				HeartbeatInterval: models.Duration(5 * time.Second),
				MasterTimeout:     models.Duration(5 * time.Second),
			},
			want: errTimeoutTooShort,
		},
		{
			name: "tick slower than heartbeat",
			cfg: Config{
				HeartbeatInterval: models.Duration(time.Second),
				TickInterval:      models.Duration(2 * time.Second),
			},
			want: errTickTooSlow,
		},
		{
			name: "negative duration",
			cfg:  Config{CleanupInterval: models.Duration(-time.Second)},
			want: errNegativeSetting,
		},
		{
			name: "negative capacity",
			cfg:  Config{QueueCapacity: -1},
			want: errNegativeSetting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.ErrorIs(t, err, tt.want)
		})
	}
}
