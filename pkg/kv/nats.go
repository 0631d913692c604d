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
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucketPrefix prefixes the JetStream bucket created for each namespace.
const DefaultBucketPrefix = "racegate"

// NatsStore keeps each namespace in its own JetStream KeyValue bucket. Nodes running
// off-device (bench rigs, simulation) use it in place of local flash.
type NatsStore struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	owned  bool

	mu      sync.Mutex
	buckets map[string]jetstream.KeyValue
}

// NewNatsStore connects to natsURL. The connection is closed by Close.
func NewNatsStore(natsURL, prefix string, opts ...nats.Option) (*NatsStore, error) {
	if natsURL == "" {
		return nil, errNatsURLRequired
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	s, err := NewNatsStoreFromConn(nc, prefix)
	if err != nil {
		nc.Close()

		return nil, err
	}

	s.owned = true

	return s, nil
}

// NewNatsStoreFromConn uses an existing connection, which stays owned by the caller.
func NewNatsStoreFromConn(nc *nats.Conn, prefix string) (*NatsStore, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if prefix == "" {
		prefix = DefaultBucketPrefix
	}

	return &NatsStore{
		nc:      nc,
		js:      js,
		prefix:  prefix,
		buckets: make(map[string]jetstream.KeyValue),
	}, nil
}

func (n *NatsStore) bucketName(namespace string) string {
	return n.prefix + "_" + strings.ReplaceAll(namespace, ".", "_")
}

// bucket opens the namespace bucket, creating it on first use.
func (n *NatsStore) bucket(ctx context.Context, namespace string) (jetstream.KeyValue, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.buckets == nil {
		return nil, errStoreClosed
	}

	if kv, ok := n.buckets[namespace]; ok {
		return kv, nil
	}

	name := n.bucketName(namespace)

	kv, err := n.js.KeyValue(ctx, name)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = n.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: name, History: 1})
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open KV bucket %s: %w", name, err)
	}

	n.buckets[namespace] = kv

	return kv, nil
}

func (n *NatsStore) Get(ctx context.Context, namespace, key string) (value []byte, found bool, err error) {
	if err = validateKey(namespace, key); err != nil {
		return nil, false, err
	}

	kv, err := n.bucket(ctx, namespace)
	if err != nil {
		return nil, false, err
	}

	entry, err := kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %s/%s: %w", namespace, key, err)
	}

	return entry.Value(), true, nil
}

func (n *NatsStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	if err := validateKey(namespace, key); err != nil {
		return err
	}

	kv, err := n.bucket(ctx, namespace)
	if err != nil {
		return err
	}

	if _, err := kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put key %s/%s: %w", namespace, key, err)
	}

	return nil
}

func (n *NatsStore) Delete(ctx context.Context, namespace, key string) error {
	if err := validateKey(namespace, key); err != nil {
		return err
	}

	kv, err := n.bucket(ctx, namespace)
	if err != nil {
		return err
	}

	err = kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete key %s/%s: %w", namespace, key, err)
	}

	return nil
}

func (n *NatsStore) Close() error {
	n.mu.Lock()
	n.buckets = nil
	n.mu.Unlock()

	if n.owned {
		n.nc.Close()
	}

	return nil
}

var _ KVStore = (*NatsStore)(nil)
