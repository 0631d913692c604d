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

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/carverauto/racegate/pkg/models"
)

// kindsBySize lists, per encoded length, the kinds that have that length.
//
//nolint:gochecknoglobals // static lookup table
var kindsBySize = map[int][]Kind{
	SizeProbe:            {KindProbe},
	SizeIdentity:         {KindIdentity},
	SizeSaveDevice:       {KindSaveDevice},
	SizeHeartbeat:        {KindHeartbeat, KindTimeSyncRequest},
	SizeRaceEvent:        {KindRaceEvent},
	SizeTimeSyncResponse: {KindTimeSyncResponse},
	SizeFullSync:         {KindFullSync},
}

// tagOf is zero for untagged kinds.
func tagOf(k Kind) byte {
	switch k {
	case KindHeartbeat:
		return TagHeartbeat
	case KindTimeSyncRequest:
		return TagTimeSyncRequest
	case KindTimeSyncResponse:
		return TagTimeSyncResponse
	case KindFullSync:
		return TagFullSync
	case KindSaveDevice:
		return TagSaveDevice
	default:
		return 0
	}
}

// Classify determines the kind of an inbound payload from its length and, where the
// length is shared by several kinds, its tag byte.
func Classify(b []byte) (Kind, error) {
	if bytes.Equal(b, ProbePayload) {
		return KindProbe, nil
	}

	candidates := kindsBySize[len(b)]

	switch len(candidates) {
	case 0:
		return KindUnknown, fmt.Errorf("%w: len=%d", ErrUnknownKind, len(b))
	case 1:
		if candidates[0] == KindProbe {
			// right length, wrong bytes
			return KindUnknown, fmt.Errorf("%w: len=%d", ErrUnknownKind, len(b))
		}

		return candidates[0], nil
	}

	for _, k := range candidates {
		if tagOf(k) == b[0] {
			return k, nil
		}
	}

	return KindUnknown, fmt.Errorf("%w: len=%d tag=%d", ErrUnknownKind, len(b), b[0])
}

// Decode classifies and decodes a payload.
func Decode(b []byte) (Message, error) {
	kind, err := Classify(b)
	if err != nil {
		return nil, err
	}

	if tag := tagOf(kind); tag != 0 && b[0] != tag {
		return nil, fmt.Errorf("%w: %s expects %d, got %d", ErrTagMismatch, kind, tag, b[0])
	}

	r := &reader{buf: b}

	switch kind {
	case KindProbe:
		return Probe{}, nil
	case KindIdentity:
		return decodeIdentity(r)
	case KindSaveDevice:
		return decodeSaveDevice(r)
	case KindHeartbeat:
		return decodeHeartbeat(r)
	case KindTimeSyncRequest:
		return decodeTimeSyncRequest(r)
	case KindTimeSyncResponse:
		return decodeTimeSyncResponse(r)
	case KindRaceEvent:
		return decodeRaceEvent(r)
	case KindFullSync:
		return decodeFullSync(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// Encode is a convenience wrapper around MarshalBinary.
func Encode(m Message) ([]byte, error) {
	return m.MarshalBinary()
}

type writer struct {
	buf []byte
}

func newWriter(size int) *writer {
	return &writer{buf: make([]byte, 0, size)}
}

func (w *writer) byte(v byte) {
	w.buf = append(w.buf, v)
}

func (w *writer) addr(a models.Address) {
	w.buf = append(w.buf, a[:]...)
}

func (w *writer) role(r models.Role) {
	w.buf = append(w.buf, byte(r))
}

func (w *writer) millis(m models.Millis) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(m))
}

func (w *writer) uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *writer) bool(v bool) {
	if v {
		w.byte(1)
		return
	}

	w.byte(0)
}

func (w *writer) zero(n int) {
	w.buf = append(w.buf, make([]byte, n)...)
}

// reader assumes the caller validated the total length.
type reader struct {
	buf []byte
	off int
}

func (r *reader) byte() byte {
	v := r.buf[r.off]
	r.off++

	return v
}

func (r *reader) addr() models.Address {
	var a models.Address

	copy(a[:], r.buf[r.off:r.off+addrLen])
	r.off += addrLen

	return a
}

func (r *reader) role() (models.Role, error) {
	v := models.Role(r.byte())
	if !v.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrBadRole, v)
	}

	return v, nil
}

func (r *reader) millis() models.Millis {
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += timeLen

	return models.Millis(int64(v))
}

func (r *reader) uint32() uint32 {
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += seqLen

	return v
}

func (r *reader) bool() bool {
	return r.byte() != 0
}

func (r *reader) skip(n int) {
	r.off += n
}

func (Probe) MarshalBinary() ([]byte, error) {
	out := make([]byte, len(ProbePayload))
	copy(out, ProbePayload)

	return out, nil
}

func (m Identity) MarshalBinary() ([]byte, error) {
	if !m.Role.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrBadRole, m.Role)
	}

	w := newWriter(SizeIdentity)
	w.addr(m.Address)
	w.role(m.Role)

	return w.buf, nil
}

func decodeIdentity(r *reader) (Message, error) {
	var m Identity

	m.Address = r.addr()

	role, err := r.role()
	if err != nil {
		return nil, err
	}

	m.Role = role

	return m, nil
}

func (m SaveDeviceRequest) MarshalBinary() ([]byte, error) {
	if !m.TargetRole.Valid() || !m.SenderRole.Valid() {
		return nil, fmt.Errorf("%w: target=%d sender=%d", ErrBadRole, m.TargetRole, m.SenderRole)
	}

	w := newWriter(SizeSaveDevice)
	w.byte(TagSaveDevice)
	w.addr(m.Target)
	w.role(m.TargetRole)
	w.addr(m.Sender)
	w.role(m.SenderRole)

	return w.buf, nil
}

func decodeSaveDevice(r *reader) (Message, error) {
	var (
		m   SaveDeviceRequest
		err error
	)

	r.skip(tagLen)
	m.Target = r.addr()

	if m.TargetRole, err = r.role(); err != nil {
		return nil, err
	}

	m.Sender = r.addr()

	if m.SenderRole, err = r.role(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m MasterHeartbeat) MarshalBinary() ([]byte, error) {
	w := newWriter(SizeHeartbeat)
	w.byte(TagHeartbeat)
	w.addr(m.Master)
	w.millis(m.MasterTime)
	w.uint32(m.Sequence)

	return w.buf, nil
}

func decodeHeartbeat(r *reader) (Message, error) {
	r.skip(tagLen)

	return MasterHeartbeat{
		Master:     r.addr(),
		MasterTime: r.millis(),
		Sequence:   r.uint32(),
	}, nil
}

func (m TimeSyncRequest) MarshalBinary() ([]byte, error) {
	w := newWriter(SizeTimeSyncRequest)
	w.byte(TagTimeSyncRequest)
	w.addr(m.Requester)
	w.millis(m.RequestTime)
	w.uint32(m.Sequence)

	return w.buf, nil
}

func decodeTimeSyncRequest(r *reader) (Message, error) {
	r.skip(tagLen)

	return TimeSyncRequest{
		Requester:   r.addr(),
		RequestTime: r.millis(),
		Sequence:    r.uint32(),
	}, nil
}

func (m TimeSyncResponse) MarshalBinary() ([]byte, error) {
	w := newWriter(SizeTimeSyncResponse)
	w.byte(TagTimeSyncResponse)
	w.addr(m.Master)
	w.millis(m.MasterTime)
	w.millis(m.OriginalRequestTime)
	w.uint32(m.Sequence)

	return w.buf, nil
}

func decodeTimeSyncResponse(r *reader) (Message, error) {
	r.skip(tagLen)

	return TimeSyncResponse{
		Master:              r.addr(),
		MasterTime:          r.millis(),
		OriginalRequestTime: r.millis(),
		Sequence:            r.uint32(),
	}, nil
}

func (m RaceEvent) MarshalBinary() ([]byte, error) {
	if !m.Role.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrBadRole, m.Role)
	}

	w := newWriter(SizeRaceEvent)
	w.role(m.Role)
	w.millis(m.RawTime)
	w.millis(m.LocalSendTime)
	w.addr(m.Sender)

	return w.buf, nil
}

func decodeRaceEvent(r *reader) (Message, error) {
	role, err := r.role()
	if err != nil {
		return nil, err
	}

	return RaceEvent{
		Role:          role,
		RawTime:       r.millis(),
		LocalSendTime: r.millis(),
		Sender:        r.addr(),
	}, nil
}

func (m FullSync) MarshalBinary() ([]byte, error) {
	if len(m.Entries) > MaxSyncEntries {
		return nil, fmt.Errorf("%w: %d", ErrTooManyEntries, len(m.Entries))
	}

	w := newWriter(SizeFullSync)
	w.byte(TagFullSync)
	w.addr(m.Master)
	w.millis(m.MasterTime)
	w.byte(byte(len(m.Entries)))

	for i := range m.Entries {
		writeEntry(w, &m.Entries[i])
	}

	w.zero((MaxSyncEntries - len(m.Entries)) * entrySize)
	w.millis(m.LastFinished)
	w.millis(m.Timestamp)

	return w.buf, nil
}

func decodeFullSync(r *reader) (Message, error) {
	r.skip(tagLen)

	m := FullSync{
		Master:     r.addr(),
		MasterTime: r.millis(),
	}

	count := int(r.byte())
	if count > MaxSyncEntries {
		return nil, fmt.Errorf("%w: %d", ErrTooManyEntries, count)
	}

	m.Entries = make([]models.RaceEntry, 0, count)

	for i := 0; i < count; i++ {
		m.Entries = append(m.Entries, readEntry(r))
	}

	r.skip((MaxSyncEntries - count) * entrySize)
	m.LastFinished = r.millis()
	m.Timestamp = r.millis()

	return m, nil
}

func writeEntry(w *writer, e *models.RaceEntry) {
	w.millis(e.StartTime)
	w.addr(e.StartDevice)
	w.millis(e.FinishTime)
	w.addr(e.FinishDevice)
	w.bool(e.IsFinished)
	w.millis(e.Duration)
}

func readEntry(r *reader) models.RaceEntry {
	return models.RaceEntry{
		StartTime:    r.millis(),
		StartDevice:  r.addr(),
		FinishTime:   r.millis(),
		FinishDevice: r.addr(),
		IsFinished:   r.bool(),
		Duration:     r.millis(),
	}
}
