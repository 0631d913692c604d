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

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix roots every subject used by NATSTransport.
const DefaultSubjectPrefix = "racegate.link"

// NATSTransport emulates the broadcast link over core NATS subjects. It is used on the
// bench and in simulation, where nodes do not share a radio.
type NATSTransport struct {
	self   models.Address
	nc     *nats.Conn
	prefix string
	logger logger.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSTransport wraps an established connection. The connection stays owned by the caller.
func NewNATSTransport(self models.Address, nc *nats.Conn, prefix string, log logger.Logger) *NATSTransport {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return &NATSTransport{
		self:   self,
		nc:     nc,
		prefix: prefix,
		logger: log,
	}
}

func (t *NATSTransport) broadcastSubject() string {
	return t.prefix + ".bcast"
}

func (t *NATSTransport) nodeSubject(a models.Address) string {
	return fmt.Sprintf("%s.node.%s", t.prefix, a.Hex())
}

// Start subscribes to the broadcast subject and this node's own subject.
func (t *NATSTransport) Start(ctx context.Context, h Handler) error {
	if t.nc == nil || t.nc.IsClosed() {
		return ErrClosed
	}

	cb := func(msg *nats.Msg) {
		f, err := UnmarshalFrame(msg.Data)
		if err != nil {
			t.logger.Debug().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed frame")
			return
		}

		if !accepts(t.self, f) {
			return
		}

		h(f.Src, f.Payload)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, subject := range []string{t.broadcastSubject(), t.nodeSubject(t.self)} {
		sub, err := t.nc.Subscribe(subject, cb)
		if err != nil {
			t.unsubscribeLocked()

			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}

		t.subs = append(t.subs, sub)
	}

	go func() {
		<-ctx.Done()

		_ = t.Close()
	}()

	t.logger.Info().
		Str("addr", t.self.String()).
		Str("prefix", t.prefix).
		Msg("NATS transport started")

	return nil
}

func (t *NATSTransport) SendTo(dst models.Address, payload []byte) error {
	return t.publish(t.nodeSubject(dst), dst, payload)
}

func (t *NATSTransport) Broadcast(payload []byte) error {
	return t.publish(t.broadcastSubject(), models.Broadcast, payload)
}

func (t *NATSTransport) publish(subject string, dst models.Address, payload []byte) error {
	frame, err := MarshalFrame(t.self, dst, payload)
	if err != nil {
		return err
	}

	if err := t.nc.Publish(subject, frame); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	return nil
}

// Close drops the subscriptions. The NATS connection is left open.
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.unsubscribeLocked()

	return nil
}

func (t *NATSTransport) unsubscribeLocked() {
	for _, sub := range t.subs {
		if err := sub.Unsubscribe(); err != nil {
			t.logger.Debug().Err(err).Str("subject", sub.Subject).Msg("Failed to unsubscribe")
		}
	}

	t.subs = nil
}
