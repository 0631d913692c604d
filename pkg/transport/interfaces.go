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

//go:generate mockgen -destination=mock_transport.go -package=transport github.com/carverauto/racegate/pkg/transport Transport

// Package transport moves small datagrams between nodes. Delivery is best effort and
// unacknowledged; nothing in this package retries.
package transport

import (
	"context"

	"github.com/carverauto/racegate/pkg/models"
)

// Handler receives every inbound payload together with the sender's node address.
type Handler func(from models.Address, payload []byte)

// Transport sends datagrams to one peer or to every peer on the link.
type Transport interface {
	// Start begins delivering inbound datagrams to h until ctx is done or Close is called.
	Start(ctx context.Context, h Handler) error
	// SendTo sends payload to a single node.
	SendTo(dst models.Address, payload []byte) error
	// Broadcast sends payload to every node on the link.
	Broadcast(payload []byte) error
	// Close releases the underlying link.
	Close() error
}
