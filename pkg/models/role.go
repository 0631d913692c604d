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
	"fmt"
	"strings"
)

// Role is the job a node performs in a race setup.
type Role uint8

const (
	RoleIgnore Role = iota
	RoleStart
	RoleFinish
	RoleDisplay
)

const (
	roleNameIgnore  = "Ignore"
	roleNameStart   = "Start"
	roleNameFinish  = "Finish"
	roleNameDisplay = "Display"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r <= RoleDisplay
}

// IsGate reports whether the node carries a trigger sensor that matters to a race.
func (r Role) IsGate() bool {
	return r == RoleStart || r == RoleFinish
}

func (r Role) String() string {
	switch r {
	case RoleIgnore:
		return roleNameIgnore
	case RoleStart:
		return roleNameStart
	case RoleFinish:
		return roleNameFinish
	case RoleDisplay:
		return roleNameDisplay
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// ParseRole maps a role name to a Role. Unknown names map to RoleIgnore, matching how
// persisted device lists written by older builds ("Ziel", "Ignorieren") are read back.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return RoleStart
	case "finish", "ziel":
		return RoleFinish
	case "display", "anzeige":
		return RoleDisplay
	default:
		return RoleIgnore
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	*r = ParseRole(string(text))

	return nil
}
