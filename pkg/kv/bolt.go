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
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const boltOpenTimeout = time.Second

// BoltStore keeps preferences in a local bbolt file, one bucket per namespace.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, errPathRequired
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}

	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Get(_ context.Context, namespace, key string) (value []byte, found bool, err error) {
	if err = validateKey(namespace, key); err != nil {
		return nil, false, err
	}

	err = b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}

		v := bucket.Get([]byte(key))
		if v == nil {
			return nil
		}

		// bolt memory is only valid inside the transaction
		value = append([]byte(nil), v...)
		found = true

		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %s/%s: %w", namespace, key, err)
	}

	return value, found, nil
}

func (b *BoltStore) Put(_ context.Context, namespace, key string, value []byte) error {
	if err := validateKey(namespace, key); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}

		return bucket.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to put key %s/%s: %w", namespace, key, err)
	}

	return nil
}

func (b *BoltStore) Delete(_ context.Context, namespace, key string) error {
	if err := validateKey(namespace, key); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}

		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete key %s/%s: %w", namespace, key, err)
	}

	return nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

var _ KVStore = (*BoltStore)(nil)
