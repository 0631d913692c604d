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

package models

// Millis is a local monotonic clock reading in milliseconds since the node booted.
// Readings from different nodes are only comparable after offset correction.
type Millis int64

// OffsetSource records how a clock offset was estimated.
type OffsetSource uint8

const (
	// OffsetNone means no estimate exists and the offset reads as zero.
	OffsetNone OffsetSource = iota
	// OffsetCoarse is receive time minus the peer's reported send time (transit ignored).
	OffsetCoarse
	// OffsetRoundTrip is the midpoint estimate from a TimeSyncRequest/Response exchange.
	OffsetRoundTrip
)

func (s OffsetSource) String() string {
	switch s {
	case OffsetCoarse:
		return "coarse"
	case OffsetRoundTrip:
		return "round_trip"
	default:
		return "none"
	}
}

// Offset is a signed millisecond correction: adding Millis to the owning device's
// clock reading converts it into the frame of the node storing the offset.
type Offset struct {
	Millis    int64        `json:"offset_ms"`
	Source    OffsetSource `json:"source"`
	UpdatedAt Millis       `json:"updated_at"`
}

// Device is a peer as seen by the local registry.
type Device struct {
	Address  Address `json:"mac"`
	Role     Role    `json:"role"`
	IsOnline bool    `json:"online"`
	LastSeen Millis  `json:"last_seen"`
	Offset   Offset  `json:"offset"`
}

// SavedDevice is the durable part of a Device.
type SavedDevice struct {
	Address Address `json:"mac"`
	Role    Role    `json:"role"`
}
