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
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/racegate/pkg/models"
	"github.com/carverauto/racegate/pkg/race"
	"github.com/carverauto/racegate/pkg/registry"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultFullSyncInterval  = 6 * time.Second
	defaultResyncInterval    = 30 * time.Second
	defaultCleanupInterval   = 10 * time.Second
	defaultTickInterval      = time.Second
	defaultBootJitterStep    = 500 * time.Millisecond
	// masterTimeoutHeartbeats is how many heartbeat intervals a slave waits before it
	// declares the master gone.
	masterTimeoutHeartbeats = 3
)

var (
	errTimeoutTooShort = errors.New("master_timeout must exceed heartbeat_interval")
	errTickTooSlow     = errors.New("tick_interval must not exceed heartbeat_interval")
	errNegativeSetting = errors.New("negative setting")
)

// Config holds the coordination timings. Zero values take defaults in Validate.
type Config struct {
	HeartbeatInterval models.Duration `json:"heartbeat_interval,omitempty"`
	FullSyncInterval  models.Duration `json:"full_sync_interval,omitempty"`
	MasterTimeout     models.Duration `json:"master_timeout,omitempty"`
	ResyncInterval    models.Duration `json:"resync_interval,omitempty"`
	CleanupInterval   models.Duration `json:"cleanup_interval,omitempty"`
	TickInterval      models.Duration `json:"tick_interval,omitempty"`
	FinishedGrace     models.Duration `json:"finished_grace,omitempty"`
	ZeroDurationGrace models.Duration `json:"zero_duration_grace,omitempty"`
	QueueCapacity     int             `json:"queue_capacity,omitempty"`
	BootJitterStep    models.Duration `json:"boot_jitter_step,omitempty"`
	// OffsetFreshness is how long a round trip offset is protected from coarse estimates.
	OffsetFreshness models.Duration `json:"offset_freshness,omitempty"`
	// Namespace is the preference namespace in the KV store.
	Namespace string `json:"namespace,omitempty"`
}

// Validate fills defaults and checks the timings are consistent.
func (c *Config) Validate() error {
	for name, d := range map[string]models.Duration{
		"heartbeat_interval":  c.HeartbeatInterval,
		"full_sync_interval":  c.FullSyncInterval,
		"master_timeout":      c.MasterTimeout,
		"resync_interval":     c.ResyncInterval,
		"cleanup_interval":    c.CleanupInterval,
		"tick_interval":       c.TickInterval,
		"finished_grace":      c.FinishedGrace,
		"zero_duration_grace": c.ZeroDurationGrace,
		"boot_jitter_step":    c.BootJitterStep,
		"offset_freshness":    c.OffsetFreshness,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s", errNegativeSetting, name)
		}
	}

	if c.QueueCapacity < 0 {
		return fmt.Errorf("%w: queue_capacity", errNegativeSetting)
	}

	c.HeartbeatInterval = models.Duration(c.HeartbeatInterval.OrDefault(defaultHeartbeatInterval))
	c.FullSyncInterval = models.Duration(c.FullSyncInterval.OrDefault(defaultFullSyncInterval))
	c.MasterTimeout = models.Duration(c.MasterTimeout.OrDefault(masterTimeoutHeartbeats * time.Duration(c.HeartbeatInterval)))
	c.ResyncInterval = models.Duration(c.ResyncInterval.OrDefault(defaultResyncInterval))
	c.CleanupInterval = models.Duration(c.CleanupInterval.OrDefault(defaultCleanupInterval))
	c.TickInterval = models.Duration(c.TickInterval.OrDefault(defaultTickInterval))
	c.FinishedGrace = models.Duration(c.FinishedGrace.OrDefault(race.DefaultFinishedGrace))
	c.ZeroDurationGrace = models.Duration(c.ZeroDurationGrace.OrDefault(race.DefaultZeroDurationGrace))
	c.BootJitterStep = models.Duration(c.BootJitterStep.OrDefault(defaultBootJitterStep))
	c.OffsetFreshness = models.Duration(c.OffsetFreshness.OrDefault(2 * time.Duration(c.ResyncInterval)))

	if c.QueueCapacity == 0 {
		c.QueueCapacity = race.DefaultCapacity
	}

	if c.Namespace == "" {
		c.Namespace = registry.DefaultNamespace
	}

	if c.MasterTimeout <= c.HeartbeatInterval {
		return errTimeoutTooShort
	}

	if c.TickInterval > c.HeartbeatInterval {
		return errTickTooSlow
	}

	return nil
}

func millisOf(d models.Duration) models.Millis {
	return models.Millis(time.Duration(d).Milliseconds())
}
