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
	"testing"

	"github.com/carverauto/racegate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = models.Address{0x24, 0x6F, 0x28, 0x00, 0x00, 0x01}
	addrB = models.Address{0x24, 0x6F, 0x28, 0x00, 0x00, 0x02}
)

func TestEncodedSizesAreFixed(t *testing.T) {
	msgs := []struct {
		msg  Message
		size int
	}{
		{Probe{}, SizeProbe},
		{Identity{Address: addrA, Role: models.RoleStart}, SizeIdentity},
		{SaveDeviceRequest{Target: addrB, TargetRole: models.RoleFinish, Sender: addrA, SenderRole: models.RoleStart}, SizeSaveDevice},
		{MasterHeartbeat{Master: addrA, MasterTime: 1, Sequence: 1}, SizeHeartbeat},
		{TimeSyncRequest{Requester: addrB, RequestTime: 1, Sequence: 1}, SizeTimeSyncRequest},
		{TimeSyncResponse{Master: addrA}, SizeTimeSyncResponse},
		{RaceEvent{Role: models.RoleFinish, Sender: addrB}, SizeRaceEvent},
		{FullSync{Master: addrA}, SizeFullSync},
		{FullSync{Master: addrA, Entries: make([]models.RaceEntry, MaxSyncEntries)}, SizeFullSync},
	}

	for _, m := range msgs {
		b, err := Encode(m.msg)
		require.NoError(t, err)
		assert.Len(t, b, m.size, m.msg.Kind().String())
	}
}

func TestHeartbeatAndTimeSyncRequestShareLength(t *testing.T) {
	require.Equal(t, SizeHeartbeat, SizeTimeSyncRequest)

	hb, err := Encode(MasterHeartbeat{Master: addrA, MasterTime: 5000, Sequence: 7})
	require.NoError(t, err)

	req, err := Encode(TimeSyncRequest{Requester: addrB, RequestTime: 42, Sequence: 3})
	require.NoError(t, err)

	kind, err := Classify(hb)
	require.NoError(t, err)
	assert.Equal(t, KindHeartbeat, kind)

	kind, err = Classify(req)
	require.NoError(t, err)
	assert.Equal(t, KindTimeSyncRequest, kind)

	decoded, err := Decode(req)
	require.NoError(t, err)
	assert.Equal(t, TimeSyncRequest{Requester: addrB, RequestTime: 42, Sequence: 3}, decoded)
}

func TestDecodeFullSync(t *testing.T) {
	in := FullSync{
		Master:     addrA,
		MasterTime: 123456,
		Entries: []models.RaceEntry{
			{StartTime: 1000, StartDevice: addrA, FinishTime: 4000, FinishDevice: addrB, IsFinished: true, Duration: 2930},
			{StartTime: 5000, StartDevice: addrA},
		},
		LastFinished: 2930,
		Timestamp:    123456,
	}

	b, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeNegativeMillis(t *testing.T) {
	in := FullSync{Master: addrA, Entries: []models.RaceEntry{}, LastFinished: NoFinished}

	b, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, NoFinished, out.(FullSync).LastFinished)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	hb, err := Encode(MasterHeartbeat{Master: addrA})
	require.NoError(t, err)

	badTag := append([]byte(nil), hb...)
	badTag[0] = 9

	fs, err := Encode(FullSync{Master: addrA})
	require.NoError(t, err)

	wrongTagUniqueLen := append([]byte(nil), fs...)
	wrongTagUniqueLen[0] = TagHeartbeat

	tooMany := append([]byte(nil), fs...)
	tooMany[1+6+8] = MaxSyncEntries + 1

	badRole, err := Encode(Identity{Address: addrA, Role: models.RoleStart})
	require.NoError(t, err)
	badRole[6] = 200

	tests := []struct {
		name string
		in   []byte
		err  error
	}{
		{name: "empty", in: nil, err: ErrUnknownKind},
		{name: "unknown length", in: make([]byte, 11), err: ErrUnknownKind},
		{name: "probe length but not probe", in: []byte("WHOAREYOX"), err: ErrUnknownKind},
		{name: "shared length unknown tag", in: badTag, err: ErrUnknownKind},
		{name: "unique length wrong tag", in: wrongTagUniqueLen, err: ErrTagMismatch},
		{name: "entry count overflow", in: tooMany, err: ErrTooManyEntries},
		{name: "role out of range", in: badRole, err: ErrBadRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(tt.in)
			require.ErrorIs(t, err, tt.err)
			assert.Nil(t, msg)
		})
	}
}

func TestProbeIsRecognisedFirst(t *testing.T) {
	msg, err := Decode([]byte("WHOAREYOU"))
	require.NoError(t, err)
	assert.Equal(t, Probe{}, msg)
}

func TestEncodeRejectsOversizedFullSync(t *testing.T) {
	_, err := Encode(FullSync{Entries: make([]models.RaceEntry, MaxSyncEntries+1)})
	require.ErrorIs(t, err, ErrTooManyEntries)
}
