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
	"fmt"
)

// Backend names accepted in Config.Backend.
const (
	BackendBolt   = "bolt"
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// Config selects and configures the preference store.
type Config struct {
	Backend      string `json:"backend"`
	Path         string `json:"path,omitempty"`
	NatsURL      string `json:"nats_url,omitempty"`
	BucketPrefix string `json:"bucket_prefix,omitempty"`
}

// Validate fills defaults and checks backend-specific fields.
func (c *Config) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}

	switch c.Backend {
	case BackendBolt:
		if c.Path == "" {
			return errPathRequired
		}
	case BackendNATS:
		if c.NatsURL == "" {
			return errNatsURLRequired
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, c.Backend)
	}

	return nil
}

// Open builds the store described by cfg.
func Open(cfg *Config) (KVStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendBolt:
		s, err := NewBoltStore(cfg.Path)
		if err != nil {
			return nil, err
		}

		return s, nil
	case BackendNATS:
		s, err := NewNatsStore(cfg.NatsURL, cfg.BucketPrefix)
		if err != nil {
			return nil, err
		}

		return s, nil
	default:
		return NewMemoryStore(), nil
	}
}
