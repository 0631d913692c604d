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

package timesync

import (
	"fmt"

	"github.com/carverauto/racegate/pkg/models"
	"github.com/carverauto/racegate/pkg/wire"
)

// Requester tracks the single time sync request a slave has in flight. Only the most
// recent request is answered; a newer request supersedes an unanswered one.
type Requester struct {
	self        models.Address
	seq         uint32
	outstanding bool
	sentAt      models.Millis
}

func NewRequester(self models.Address) *Requester {
	return &Requester{self: self}
}

// Next builds a new request stamped now.
func (r *Requester) Next(now models.Millis) wire.TimeSyncRequest {
	r.seq++
	r.outstanding = true
	r.sentAt = now

	return wire.TimeSyncRequest{Requester: r.self, RequestTime: now, Sequence: r.seq}
}

// Complete matches resp against the outstanding request and returns the round trip
// estimate for the responding master.
func (r *Requester) Complete(resp wire.TimeSyncResponse, now models.Millis) (models.Offset, int64, error) {
	if !r.outstanding {
		return models.Offset{}, 0, ErrNoRequest
	}

	if resp.Sequence != r.seq || resp.OriginalRequestTime != r.sentAt {
		return models.Offset{}, 0, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedSequence, resp.Sequence, r.seq)
	}

	offset, rtt, err := RoundTrip(resp.MasterTime, resp.OriginalRequestTime, now)
	if err != nil {
		return models.Offset{}, rtt, err
	}

	r.outstanding = false

	return models.Offset{Millis: offset, Source: models.OffsetRoundTrip, UpdatedAt: now}, rtt, nil
}

// Reset forgets the outstanding request, e.g. after the master changed.
func (r *Requester) Reset() {
	r.outstanding = false
}

// Responder answers a request as master.
func Responder(self models.Address, req wire.TimeSyncRequest, now models.Millis) wire.TimeSyncResponse {
	return wire.TimeSyncResponse{
		Master:              self,
		MasterTime:          now,
		OriginalRequestTime: req.RequestTime,
		Sequence:            req.Sequence,
	}
}
