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

// Package election picks the master among the nodes a registry knows to be online:
// the lowest address wins. There is no challenge phase; conflicting claims are settled
// by Resolve when heartbeats cross.
package election

import (
	"github.com/carverauto/racegate/pkg/models"
)

// Status is implemented by Unknown, Slave and Master only.
type Status interface {
	isStatus()
	String() string
}

// Unknown is the state before the first election.
type Unknown struct{}

// Slave follows Master.
type Slave struct {
	Master models.Address
}

// Master is the local node leading the race queue.
type Master struct{}

func (Unknown) isStatus() {}
func (Slave) isStatus()   {}
func (Master) isStatus()  {}

func (Unknown) String() string { return "unknown" }
func (Slave) String() string   { return "slave" }
func (Master) String() string  { return "master" }

// State is a node's view of leadership.
type State struct {
	Status Status
	// LastMasterSeen is the local time of the last transition or proof of life from the master.
	LastMasterSeen models.Millis
}

// NewState returns the boot state.
func NewState() State {
	return State{Status: Unknown{}}
}

// IsMaster reports whether the local node leads.
func (s State) IsMaster() bool {
	_, ok := s.Status.(Master)

	return ok
}

// MasterAddress returns the current master's address; self when leading. ok is false
// while the status is Unknown.
func (s State) MasterAddress(self models.Address) (models.Address, bool) {
	switch st := s.Status.(type) {
	case Master:
		return self, true
	case Slave:
		return st.Master, true
	default:
		return models.Address{}, false
	}
}

// FollowsMaster reports whether the node is a slave of addr.
func (s State) FollowsMaster(addr models.Address) bool {
	st, ok := s.Status.(Slave)

	return ok && st.Master == addr
}
