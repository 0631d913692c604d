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

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
)

// AddressLen is the size of a link-layer node address.
const AddressLen = 6

var (
	errInvalidAddress = errors.New("invalid node address")
)

// Address is a 6-byte link-layer node identifier. Addresses are totally ordered
// byte-wise, which is what leader election relies on.
type Address [AddressLen]byte

// Broadcast addresses every node on the link.
var Broadcast = Address{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ParseAddress accepts "AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff" or twelve hex digits.
func ParseAddress(s string) (Address, error) {
	var a Address

	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != AddressLen*2 {
		return a, fmt.Errorf("%w: %q", errInvalidAddress, s)
	}

	b, err := hex.DecodeString(clean)
	if err != nil {
		return a, fmt.Errorf("%w: %q: %w", errInvalidAddress, s, err)
	}

	copy(a[:], b)

	if a.IsZero() {
		return a, fmt.Errorf("%w: %q", errInvalidAddress, s)
	}

	return a, nil
}

// AddressFromHardware converts an interface hardware address.
func AddressFromHardware(hw net.HardwareAddr) (Address, error) {
	var a Address

	if len(hw) != AddressLen {
		return a, fmt.Errorf("%w: %s", errInvalidAddress, hw)
	}

	copy(a[:], hw)

	return a, nil
}

// Compare returns -1, 0 or +1.
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

// Less reports whether a sorts before b.
func (a Address) Less(b Address) bool {
	return a.Compare(b) < 0
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) IsBroadcast() bool {
	return a == Broadcast
}

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Short is the last three octets, used by the UI to identify a device.
func (a Address) Short() string {
	return fmt.Sprintf("%02X:%02X:%02X", a[3], a[4], a[5])
}

// Hex is the lowercase hex form without separators, safe for NATS subjects and KV keys.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}
