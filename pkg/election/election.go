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

package election

import (
	"time"

	"github.com/carverauto/racegate/pkg/models"
)

// Elect returns the status the lowest-address rule assigns to self given the online peers.
func Elect(self models.Address, online []models.Address) Status {
	lowest := self

	for _, a := range online {
		if a == self || a.IsZero() || a.IsBroadcast() {
			continue
		}

		if a.Less(lowest) {
			lowest = a
		}
	}

	if lowest == self {
		return Master{}
	}

	return Slave{Master: lowest}
}

// Transition is the outcome of applying a new status to a State.
type Transition struct {
	From, To Status
	// Changed is false when the status (including the followed master) is unchanged.
	Changed bool
	// BecameMaster asks the caller to announce the new leadership.
	BecameMaster bool
}

// Apply moves s to next, stamping LastMasterSeen on every change.
func (s *State) Apply(next Status, now models.Millis) Transition {
	tr := Transition{From: s.Status, To: next}

	if sameStatus(s.Status, next) {
		return tr
	}

	_, wasMaster := s.Status.(Master)
	_, isMaster := next.(Master)

	s.Status = next
	s.LastMasterSeen = now

	tr.Changed = true
	tr.BecameMaster = isMaster && !wasMaster

	return tr
}

func sameStatus(a, b Status) bool {
	switch av := a.(type) {
	case Master:
		_, ok := b.(Master)
		return ok
	case Slave:
		bv, ok := b.(Slave)
		return ok && av.Master == bv.Master
	default:
		_, ok := b.(Unknown)
		return ok || b == nil
	}
}

// Decision is what a node does about a heartbeat or sync from a claimed master.
type Decision uint8

const (
	// KeepSelf leaves the current status alone.
	KeepSelf Decision = iota
	// AdoptOther demotes the node to Slave of the claimant.
	AdoptOther
	// Reelect runs Elect against the registry.
	Reelect
)

func (d Decision) String() string {
	switch d {
	case AdoptOther:
		return "adopt_other"
	case Reelect:
		return "reelect"
	default:
		return "keep_self"
	}
}

// Resolve settles a master claim from incoming against the local view. It is the only
// place address comparison between competing masters happens.
//
// A claimant below the local address wins unless the node already follows an even
// lower master. A claimant above the local address is ignored by a master; any other
// node re-runs the election, since its view may be stale.
func Resolve(local models.Address, state State, incoming models.Address) Decision {
	switch cmp := incoming.Compare(local); {
	case cmp == 0:
		return KeepSelf
	case cmp > 0:
		if state.IsMaster() {
			return KeepSelf
		}

		return Reelect
	default:
		if st, ok := state.Status.(Slave); ok && st.Master.Compare(incoming) <= 0 {
			return KeepSelf
		}

		return AdoptOther
	}
}

// BootJitter spreads first elections of nodes powered on together. The delay is
// derived from the address so it is stable across restarts.
func BootJitter(addr models.Address, step time.Duration) time.Duration {
	sum := int(addr[2]) + int(addr[3]) + int(addr[4]) + int(addr[5])

	return time.Duration(sum%3) * step
}
