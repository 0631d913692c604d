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

// Package timesync estimates the offset between two node clocks.
//
// An offset o for a peer converts the peer's reading t into the local frame as t+o.
package timesync

import (
	"errors"
	"fmt"

	"github.com/carverauto/racegate/pkg/models"
)

var (
	// ErrNegativeRTT is returned when a response claims to answer a request sent in the future.
	ErrNegativeRTT = errors.New("negative round trip time")
	// ErrUnexpectedSequence is returned for a response that does not match the outstanding request.
	ErrUnexpectedSequence = errors.New("unexpected time sync sequence")
	// ErrNoRequest is returned for a response when nothing is outstanding.
	ErrNoRequest = errors.New("no outstanding time sync request")
)

// RoundTrip computes the midpoint estimate from a request/response exchange, assuming
// symmetric latency. originalRequest and now are local readings; masterTime is the
// master's reading when it answered, which is taken to coincide with the local midpoint
// now-rtt/2.
//
// Every offset in this package is added to a peer reading to get a local reading (see
// ToLocal and Coarse). The classic estimator masterTime-now+rtt/2 points the other way,
// from the local frame into the master's, so RoundTrip returns it negated.
func RoundTrip(masterTime, originalRequest, now models.Millis) (offset, rtt int64, err error) {
	rtt = int64(now - originalRequest)
	if rtt < 0 {
		return 0, rtt, fmt.Errorf("%w: %dms", ErrNegativeRTT, rtt)
	}

	return -(int64(masterTime-now) + rtt/2), rtt, nil
}

// Coarse estimates a peer's offset from one message: local receipt time minus the
// peer's reported send time. Transit time is ignored.
func Coarse(localReceipt, peerReported models.Millis) int64 {
	return int64(localReceipt - peerReported)
}

// ToLocal converts a peer's reading into the local frame.
func ToLocal(peerTime models.Millis, o models.Offset) models.Millis {
	return peerTime + models.Millis(o.Millis)
}

// Supersedes reports whether next should replace cur. A round trip estimate always
// wins. A coarse estimate does not replace a round trip estimate younger than freshness.
func Supersedes(cur, next models.Offset, now, freshness models.Millis) bool {
	if next.Source == models.OffsetNone {
		return false
	}

	if next.Source == models.OffsetRoundTrip || cur.Source != models.OffsetRoundTrip {
		return true
	}

	return now-cur.UpdatedAt >= freshness
}
