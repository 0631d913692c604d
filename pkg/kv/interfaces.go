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

// Package kv stores a node's durable preferences. Keys are grouped in namespaces so
// one backing store can hold several independent preference sets.
package kv

import (
	"context"
)

// KVStore is a namespaced key-value store.
type KVStore interface {
	// Get returns the value, whether the key was found, and an error if the lookup failed.
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, namespace, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// Close releases the backing resources.
	Close() error
}
