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

// Package natsutil connects to NATS and publishes race results as CloudEvents to
// JetStream.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carverauto/racegate/pkg/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// DefaultStream holds race results.
	DefaultStream = "RACEGATE_EVENTS"
	// RaceFinishedSubject is where finished races are published.
	RaceFinishedSubject = "events.racegate.race.finished"
	// RaceFinishedType is the CloudEvent type of a finished race.
	RaceFinishedType = "com.carverauto.racegate.race.finished"

	cloudEventsVersion = "1.0"
	eventSourcePrefix  = "racegate/node/"
)

// jsPublisher is the part of jetstream.JetStream the publisher needs.
type jsPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher provides methods for publishing CloudEvents to NATS JetStream.
type EventPublisher struct {
	js     jsPublisher
	stream string
	source string
	now    func() time.Time
}

// NewEventPublisher creates a publisher for events originating at node.
func NewEventPublisher(js jsPublisher, streamName string, node models.Address) *EventPublisher {
	return &EventPublisher{
		js:     js,
		stream: streamName,
		source: eventSourcePrefix + node.Hex(),
		now:    time.Now,
	}
}

// PublishRaceFinished publishes one finished race.
func (p *EventPublisher) PublishRaceFinished(ctx context.Context, data models.RaceFinishedData) error {
	ts := p.now().UTC()

	event := models.CloudEvent{
		SpecVersion:     cloudEventsVersion,
		ID:              uuid.New().String(),
		Source:          p.source,
		Type:            RaceFinishedType,
		DataContentType: "application/json",
		Subject:         RaceFinishedSubject,
		Time:            &ts,
		Data:            data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal race finished event: %w", err)
	}

	if _, err := p.js.Publish(ctx, event.Subject, payload, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("failed to publish race finished event: %w", err)
	}

	return nil
}

// CreateEventPublisher ensures the stream exists and covers RaceFinishedSubject, then
// returns a publisher on it.
func CreateEventPublisher(ctx context.Context, nc *nats.Conn, streamName string, node models.Address) (*EventPublisher, error) {
	if streamName == "" {
		streamName = DefaultStream
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.Stream(ctx, streamName)

	switch {
	case err == nil:
		info, infoErr := stream.Info(ctx)
		if infoErr != nil {
			return nil, fmt.Errorf("failed to read stream %s: %w", streamName, infoErr)
		}

		subjects := ensureSubjectList(info.Config.Subjects, RaceFinishedSubject)
		if len(subjects) != len(info.Config.Subjects) {
			cfg := info.Config
			cfg.Subjects = subjects

			if _, err := js.UpdateStream(ctx, cfg); err != nil {
				return nil, fmt.Errorf("failed to add %s to stream %s: %w", RaceFinishedSubject, streamName, err)
			}
		}
	case isStreamMissingErr(err):
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{RaceFinishedSubject},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}
	default:
		return nil, fmt.Errorf("failed to look up stream %s: %w", streamName, err)
	}

	return NewEventPublisher(js, streamName, node), nil
}

// ensureSubjectList appends subject unless an existing pattern already covers it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether a NATS subject pattern (with * and >) matches subject.
func matchesSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}

		if i >= len(st) {
			return false
		}

		if tok != "*" && tok != st[i] {
			return false
		}
	}

	return len(pt) == len(st)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
