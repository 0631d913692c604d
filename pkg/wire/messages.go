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

// Package wire defines the fixed-size binary messages exchanged between nodes.
//
// Every message kind has a constant encoded size. Kinds are told apart by length first
// and, only where two kinds share a length, by a leading tag byte.
package wire

import (
	"github.com/carverauto/racegate/pkg/models"
)

// Kind identifies a message type after classification.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindProbe
	KindIdentity
	KindSaveDevice
	KindHeartbeat
	KindTimeSyncRequest
	KindTimeSyncResponse
	KindRaceEvent
	KindFullSync
)

func (k Kind) String() string {
	switch k {
	case KindProbe:
		return "probe"
	case KindIdentity:
		return "identity"
	case KindSaveDevice:
		return "save_device"
	case KindHeartbeat:
		return "heartbeat"
	case KindTimeSyncRequest:
		return "time_sync_request"
	case KindTimeSyncResponse:
		return "time_sync_response"
	case KindRaceEvent:
		return "race_event"
	case KindFullSync:
		return "full_sync"
	default:
		return "unknown"
	}
}

// Type tags carried in the first byte of tagged kinds.
const (
	TagHeartbeat        byte = 1
	TagTimeSyncRequest  byte = 2
	TagTimeSyncResponse byte = 3
	TagFullSync         byte = 5
	TagSaveDevice       byte = 6
)

// MaxSyncEntries is the number of race entries a FullSync carries.
const MaxSyncEntries = 5

// NoFinished marks a FullSync whose master has not finished any race yet.
const NoFinished models.Millis = -1

// ProbePayload is the discovery probe ("who are you").
var ProbePayload = []byte("WHOAREYOU")

const (
	addrLen   = models.AddressLen
	timeLen   = 8
	seqLen    = 4
	roleLen   = 1
	tagLen    = 1
	countLen  = 1
	flagLen   = 1
	entrySize = timeLen + addrLen + timeLen + addrLen + flagLen + timeLen
)

// Encoded sizes per kind.
const (
	SizeProbe            = 9
	SizeIdentity         = addrLen + roleLen
	SizeSaveDevice       = tagLen + addrLen + roleLen + addrLen + roleLen
	SizeHeartbeat        = tagLen + addrLen + timeLen + seqLen
	SizeTimeSyncRequest  = tagLen + addrLen + timeLen + seqLen
	SizeRaceEvent        = roleLen + timeLen + timeLen + addrLen
	SizeTimeSyncResponse = tagLen + addrLen + timeLen + timeLen + seqLen
	SizeFullSync         = tagLen + addrLen + timeLen + countLen + MaxSyncEntries*entrySize + timeLen + timeLen
)

// Message is implemented by every wire message.
type Message interface {
	Kind() Kind
	MarshalBinary() ([]byte, error)
}

// Probe asks every receiver to answer with its Identity.
type Probe struct{}

// Identity announces a node and its role. Role Ignore from a saved peer is a goodbye.
type Identity struct {
	Address models.Address
	Role    models.Role
}

// SaveDeviceRequest asks Target to take TargetRole and to save Sender with SenderRole.
// TargetRole Ignore asks Target to forget Sender instead.
type SaveDeviceRequest struct {
	Target     models.Address
	TargetRole models.Role
	Sender     models.Address
	SenderRole models.Role
}

// MasterHeartbeat is the master's periodic proof of life.
type MasterHeartbeat struct {
	Master     models.Address
	MasterTime models.Millis
	Sequence   uint32
}

// TimeSyncRequest starts a round trip offset estimate.
type TimeSyncRequest struct {
	Requester   models.Address
	RequestTime models.Millis
	Sequence    uint32
}

// TimeSyncResponse answers a TimeSyncRequest.
type TimeSyncResponse struct {
	Master              models.Address
	MasterTime          models.Millis
	OriginalRequestTime models.Millis
	Sequence            uint32
}

// RaceEvent carries a local trigger from a gate to the master.
type RaceEvent struct {
	Role          models.Role
	RawTime       models.Millis
	LocalSendTime models.Millis
	Sender        models.Address
}

// FullSync replicates the master's race queue. At most MaxSyncEntries entries travel.
type FullSync struct {
	Master       models.Address
	MasterTime   models.Millis
	Entries      []models.RaceEntry
	LastFinished models.Millis
	Timestamp    models.Millis
}

func (Probe) Kind() Kind             { return KindProbe }
func (Identity) Kind() Kind          { return KindIdentity }
func (SaveDeviceRequest) Kind() Kind { return KindSaveDevice }
func (MasterHeartbeat) Kind() Kind   { return KindHeartbeat }
func (TimeSyncRequest) Kind() Kind   { return KindTimeSyncRequest }
func (TimeSyncResponse) Kind() Kind  { return KindTimeSyncResponse }
func (RaceEvent) Kind() Kind         { return KindRaceEvent }
func (FullSync) Kind() Kind          { return KindFullSync }
