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

package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var errTestFixture = errors.New("fixture error")

type recordingJS struct {
	subject string
	payload []byte
	err     error
}

func (r *recordingJS) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if r.err != nil {
		return nil, r.err
	}

	r.subject = subject
	r.payload = append([]byte(nil), payload...)

	return &jetstream.PubAck{Stream: DefaultStream, Sequence: 1}, nil
}

func TestPublishRaceFinished(t *testing.T) {
	t.Parallel()

	js := &recordingJS{}
	node := models.Address{0x10, 0, 0, 0, 0, 0x01}
	pub := NewEventPublisher(js, DefaultStream, node)
	pub.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	data := models.RaceFinishedData{
		Master:       node.String(),
		StartDevice:  "10:00:00:00:00:02",
		FinishDevice: "10:00:00:00:00:03",
		StartTime:    1000,
		FinishTime:   4000,
		DurationMs:   2930,
	}

	if err := pub.PublishRaceFinished(context.Background(), data); err != nil {
		t.Fatalf("PublishRaceFinished: %v", err)
	}

	if js.subject != RaceFinishedSubject {
		t.Fatalf("subject = %q, want %q", js.subject, RaceFinishedSubject)
	}

	var got struct {
		models.CloudEvent
		Data models.RaceFinishedData `json:"data"`
	}

	if err := json.Unmarshal(js.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}

	if got.Type != RaceFinishedType || got.SpecVersion != "1.0" {
		t.Fatalf("unexpected envelope: type=%q specversion=%q", got.Type, got.SpecVersion)
	}

	if got.Source != "racegate/node/100000000001" {
		t.Fatalf("source = %q", got.Source)
	}

	if got.ID == "" {
		t.Fatal("event id is empty")
	}

	if got.Data.DurationMs != 2930 {
		t.Fatalf("duration = %d, want 2930", got.Data.DurationMs)
	}
}

func TestPublishRaceFinishedError(t *testing.T) {
	t.Parallel()

	pub := NewEventPublisher(&recordingJS{err: errTestFixture}, DefaultStream, models.Address{1, 2, 3, 4, 5, 6})

	err := pub.PublishRaceFinished(context.Background(), models.RaceFinishedData{})
	if !errors.Is(err, errTestFixture) {
		t.Fatalf("err = %v, want wrapped fixture error", err)
	}
}

func TestEnsureSubjectList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		subjects []string
		subject  string
		want     []string
	}{
		{
			name:     "adds subject when list empty",
			subjects: nil,
			subject:  RaceFinishedSubject,
			want:     []string{RaceFinishedSubject},
		},
		{
			name:     "keeps list when wildcard matches",
			subjects: []string{"events.racegate.race.*"},
			subject:  RaceFinishedSubject,
			want:     []string{"events.racegate.race.*"},
		},
		{
			name:     "keeps list when greater wildcard matches",
			subjects: []string{"events.>"},
			subject:  RaceFinishedSubject,
			want:     []string{"events.>"},
		},
		{
			name:     "appends when unmatched",
			subjects: []string{"logs.syslog.*"},
			subject:  RaceFinishedSubject,
			want:     []string{"logs.syslog.*", RaceFinishedSubject},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result := ensureSubjectList(append([]string(nil), tc.subjects...), tc.subject)

			if len(result) != len(tc.want) {
				t.Fatalf("expected %d subjects, got %d", len(tc.want), len(result))
			}

			for i := range tc.want {
				if tc.want[i] != result[i] {
					t.Fatalf("result[%d] = %q, want %q", i, result[i], tc.want[i])
				}
			}
		})
	}
}

func TestMatchesSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pattern  string
		subject  string
		expected bool
	}{
		{"exact match", "events.racegate.race.finished", "events.racegate.race.finished", true},
		{"single wildcard", "events.*.race.finished", "events.racegate.race.finished", true},
		{"greater wildcard", "events.>", "events.racegate.race.finished", true},
		{"greater wildcard needs a token", "events.racegate.race.finished.>", "events.racegate.race.finished", false},
		{"no match length", "events.*", "events.racegate.race.finished", false},
		{"no match tokens", "logs.syslog.*", "events.racegate.race.finished", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := matchesSubject(tc.pattern, tc.subject); got != tc.expected {
				t.Fatalf("matchesSubject(%q, %q) = %t, want %t", tc.pattern, tc.subject, got, tc.expected)
			}
		})
	}
}

func TestIsStreamMissingErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"jetstream no stream response", jetstream.ErrNoStreamResponse, true},
		{"jetstream stream not found", jetstream.ErrStreamNotFound, true},
		{"nats no stream response", nats.ErrNoStreamResponse, true},
		{"nats stream not found", nats.ErrStreamNotFound, true},
		{"nats no responders", nats.ErrNoResponders, true},
		{"other error", errTestFixture, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := isStreamMissingErr(tc.err); got != tc.expected {
				t.Fatalf("isStreamMissingErr(%v) = %t, want %t", tc.err, got, tc.expected)
			}
		})
	}
}

func TestConnectRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := Connect(&ConnConfig{}, logger.NewTestLogger()); !errors.Is(err, errURLRequired) {
		t.Fatalf("err = %v, want errURLRequired", err)
	}
}
