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

// Package status pushes node state changes to observers: browsers on a websocket, the
// log, or tests.
package status

import (
	"sync"

	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
)

// Sink receives status notifications. Publish must not block.
type Sink interface {
	Publish(msg models.StatusMessage)
}

// Fanout delivers to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(msg models.StatusMessage) {
	for _, s := range f {
		if s != nil {
			s.Publish(msg)
		}
	}
}

// LogSink writes notifications to a logger at debug level.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (l *LogSink) Publish(msg models.StatusMessage) {
	l.logger.Debug().Str("type", msg.Type).Interface("data", msg.Data).Msg("Status changed")
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []models.StatusMessage
}

func (r *Recorder) Publish(msg models.StatusMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

// Messages returns a copy of what was recorded.
func (r *Recorder) Messages() []models.StatusMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]models.StatusMessage(nil), r.msgs...)
}

// OfType returns the recorded messages with the given type.
func (r *Recorder) OfType(typ string) []models.StatusMessage {
	var out []models.StatusMessage

	for _, m := range r.Messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}

	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}
