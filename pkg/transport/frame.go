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
	"errors"
	"fmt"

	"github.com/carverauto/racegate/pkg/models"
)

// HeaderLen is the size of the link header: source address then destination address.
const HeaderLen = 2 * models.AddressLen

// MaxPayload bounds a single datagram payload.
const MaxPayload = 250

var (
	// ErrShortFrame is returned for frames that cannot hold a link header.
	ErrShortFrame = errors.New("frame shorter than link header")
	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayload.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport closed")
	// ErrNotStarted is returned when sending before Start.
	ErrNotStarted = errors.New("transport not started")
)

// Frame is a datagram with its link header split off.
type Frame struct {
	Src     models.Address
	Dst     models.Address
	Payload []byte
}

// MarshalFrame prepends the link header.
func MarshalFrame(src, dst models.Address, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	out := make([]byte, 0, HeaderLen+len(payload))
	out = append(out, src[:]...)
	out = append(out, dst[:]...)
	out = append(out, payload...)

	return out, nil
}

// UnmarshalFrame splits the link header. The payload aliases b.
func UnmarshalFrame(b []byte) (Frame, error) {
	var f Frame

	if len(b) < HeaderLen {
		return f, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}

	copy(f.Src[:], b[:models.AddressLen])
	copy(f.Dst[:], b[models.AddressLen:HeaderLen])
	f.Payload = b[HeaderLen:]

	return f, nil
}

// accepts reports whether a node with address self should hand f to its handler.
func accepts(self models.Address, f Frame) bool {
	if f.Src == self {
		return false
	}

	return f.Dst == self || f.Dst.IsBroadcast()
}
