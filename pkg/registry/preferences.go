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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/carverauto/racegate/pkg/kv"
	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
)

// DefaultNamespace is the preference namespace the firmware has always used.
const DefaultNamespace = "lichtschranke"

const (
	keyRole    = "role"
	keyDevices = "devices"
)

var errNoStore = errors.New("preference store is nil")

// Preferences reads and writes the durable part of the registry: the node's own role
// and the saved device list.
type Preferences struct {
	store     kv.KVStore
	namespace string
	logger    logger.Logger
}

// NewPreferences wraps store. An empty namespace selects DefaultNamespace.
func NewPreferences(store kv.KVStore, namespace string, log logger.Logger) (*Preferences, error) {
	if store == nil {
		return nil, errNoStore
	}

	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &Preferences{store: store, namespace: namespace, logger: log}, nil
}

type persistedDevice struct {
	Mac  string `json:"mac"`
	Role string `json:"role"`
}

// Load returns the persisted role and saved devices. Missing keys yield RoleIgnore and
// an empty list. Entries that cannot be parsed are skipped with a warning.
func (p *Preferences) Load(ctx context.Context) (models.Role, []models.SavedDevice, error) {
	role := models.RoleIgnore

	raw, found, err := p.store.Get(ctx, p.namespace, keyRole)
	if err != nil {
		return role, nil, fmt.Errorf("failed to load role: %w", err)
	}

	if found {
		n, perr := strconv.ParseUint(string(raw), 10, 8)
		if perr != nil || !models.Role(n).Valid() {
			p.logger.Warn().Str("value", string(raw)).Msg("Ignoring invalid persisted role")
		} else {
			role = models.Role(n)
		}
	}

	raw, found, err = p.store.Get(ctx, p.namespace, keyDevices)
	if err != nil {
		return role, nil, fmt.Errorf("failed to load devices: %w", err)
	}

	if !found || len(raw) == 0 {
		return role, nil, nil
	}

	var entries []persistedDevice
	if err := json.Unmarshal(raw, &entries); err != nil {
		p.logger.Warn().Err(err).Msg("Ignoring corrupt persisted device list")

		return role, nil, nil
	}

	devices := make([]models.SavedDevice, 0, len(entries))

	for _, e := range entries {
		addr, err := models.ParseAddress(e.Mac)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Skipping persisted device")
			continue
		}

		devices = append(devices, models.SavedDevice{Address: addr, Role: models.ParseRole(e.Role)})
	}

	return role, devices, nil
}

// Save writes the dirty parts of ch.
func (p *Preferences) Save(ctx context.Context, ch Changes) error {
	if ch.RoleDirty {
		if err := p.store.Put(ctx, p.namespace, keyRole, []byte(strconv.Itoa(int(ch.Role)))); err != nil {
			return fmt.Errorf("failed to save role: %w", err)
		}
	}

	if ch.DevicesDirty {
		entries := make([]persistedDevice, 0, len(ch.Devices))
		for _, d := range ch.Devices {
			entries = append(entries, persistedDevice{Mac: d.Address.String(), Role: d.Role.String()})
		}

		raw, err := json.Marshal(entries)
		if err != nil {
			return fmt.Errorf("failed to encode devices: %w", err)
		}

		if err := p.store.Put(ctx, p.namespace, keyDevices, raw); err != nil {
			return fmt.Errorf("failed to save devices: %w", err)
		}
	}

	return nil
}

// Clear forgets the role and the saved devices.
func (p *Preferences) Clear(ctx context.Context) error {
	for _, key := range []string{keyRole, keyDevices} {
		if err := p.store.Delete(ctx, p.namespace, key); err != nil {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}

	return nil
}
