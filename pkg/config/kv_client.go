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

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/carverauto/racegate/pkg/kv"
)

var errKVBackendRequired = errors.New("KV_BACKEND is required for CONFIG_SOURCE=kv")

// KVManager owns the store that backs CONFIG_SOURCE=kv.
type KVManager struct {
	store kv.KVStore
}

// NewKVManagerFromEnv opens the store named by KV_BACKEND ("bolt" or "nats") with
// KV_PATH, KV_ADDRESS and KV_BUCKET_PREFIX. It returns nil when CONFIG_SOURCE is not kv.
func NewKVManagerFromEnv() (*KVManager, error) {
	if !strings.EqualFold(os.Getenv("CONFIG_SOURCE"), configSourceKV) {
		return nil, nil
	}

	cfg := &kv.Config{
		Backend:      os.Getenv("KV_BACKEND"),
		Path:         os.Getenv("KV_PATH"),
		NatsURL:      os.Getenv("KV_ADDRESS"),
		BucketPrefix: os.Getenv("KV_BUCKET_PREFIX"),
	}

	if cfg.Backend == "" {
		return nil, errKVBackendRequired
	}

	store, err := kv.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open config store: %w", err)
	}

	return &KVManager{store: store}, nil
}

// SetupConfigLoader points cfgLoader at the managed store.
func (m *KVManager) SetupConfigLoader(cfgLoader *Config) {
	if m != nil && m.store != nil {
		cfgLoader.SetKVStore(m.store)
	}
}

// Close releases the store.
func (m *KVManager) Close() error {
	if m == nil || m.store == nil {
		return nil
	}

	return m.store.Close()
}
