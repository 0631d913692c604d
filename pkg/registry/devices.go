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

// Package registry tracks the peers a node knows about: the saved devices an operator
// configured, and the devices discovered from traffic. It also holds the node's own role
// and the clock offset of every peer.
//
// A Registry is not safe for concurrent use. The node serialises access to it together
// with the election and race state.
package registry

import (
	"sort"

	"github.com/carverauto/racegate/pkg/models"
)

// Collection selects one of the two device sets.
type Collection uint8

const (
	Saved Collection = iota
	Discovered
)

func (c Collection) String() string {
	if c == Saved {
		return "saved"
	}

	return "discovered"
}

// Changes is what must be written to durable storage after a batch of mutations.
type Changes struct {
	Role         models.Role
	RoleDirty    bool
	Devices      []models.SavedDevice
	DevicesDirty bool
}

// Registry holds both device collections. Own address is never stored in either.
type Registry struct {
	self models.Address
	role models.Role

	saved      map[models.Address]*models.Device
	discovered map[models.Address]*models.Device
	offsets    map[models.Address]models.Offset

	roleDirty    bool
	devicesDirty bool
}

// New returns an empty registry for the node with address self.
func New(self models.Address) *Registry {
	return &Registry{
		self:       self,
		saved:      make(map[models.Address]*models.Device),
		discovered: make(map[models.Address]*models.Device),
		offsets:    make(map[models.Address]models.Offset),
	}
}

// Self returns the node's own address.
func (r *Registry) Self() models.Address {
	return r.self
}

// Restore loads persisted state. Restored devices start offline.
func (r *Registry) Restore(role models.Role, devices []models.SavedDevice) {
	r.role = role

	for _, d := range devices {
		if d.Address == r.self || d.Address.IsZero() || d.Address.IsBroadcast() {
			continue
		}

		r.saved[d.Address] = &models.Device{Address: d.Address, Role: d.Role}
	}
}

func (r *Registry) collection(c Collection) map[models.Address]*models.Device {
	if c == Saved {
		return r.saved
	}

	return r.discovered
}

func (r *Registry) rejects(addr models.Address) bool {
	return addr == r.self || addr.IsZero() || addr.IsBroadcast()
}

// IsKnown reports whether addr is in collection c.
func (r *Registry) IsKnown(addr models.Address, c Collection) bool {
	_, ok := r.collection(c)[addr]

	return ok
}

// Role returns the node's own role.
func (r *Registry) Role() models.Role {
	return r.role
}

// SetRole changes the node's own role. It reports whether the role changed.
func (r *Registry) SetRole(role models.Role) bool {
	if r.role == role {
		return false
	}

	r.role = role
	r.roleDirty = true

	return true
}

// UpsertDiscovered records traffic-derived knowledge of a peer: it inserts or updates
// the role, marks the device online and stamps lastSeen. The result reports whether
// membership, role or online status changed; refreshing lastSeen alone is not a change.
func (r *Registry) UpsertDiscovered(addr models.Address, role models.Role, now models.Millis) bool {
	if r.rejects(addr) {
		return false
	}

	return upsert(r.discovered, addr, role, now)
}

// UpsertSaved is UpsertDiscovered for the saved collection, used when a peer saves us
// and so is known to be online. A role change is queued for persistence.
func (r *Registry) UpsertSaved(addr models.Address, role models.Role, now models.Millis) bool {
	if r.rejects(addr) {
		return false
	}

	d, existed := r.saved[addr]
	roleChanged := !existed || d.Role != role

	changed := upsert(r.saved, addr, role, now)
	if roleChanged {
		r.devicesDirty = true
	}

	return changed
}

// Configure saves a peer on operator request. The online flag is taken from the
// discovered collection, never assumed.
func (r *Registry) Configure(addr models.Address, role models.Role) bool {
	if r.rejects(addr) {
		return false
	}

	d, ok := r.saved[addr]
	if ok && d.Role == role {
		return false
	}

	if !ok {
		d = &models.Device{Address: addr}
		if seen, found := r.discovered[addr]; found {
			d.IsOnline = seen.IsOnline
			d.LastSeen = seen.LastSeen
		}

		r.saved[addr] = d
	}

	d.Role = role
	r.devicesDirty = true

	return true
}

// UpdateSavedRole changes the role of an already saved peer. Unknown peers are ignored.
func (r *Registry) UpdateSavedRole(addr models.Address, role models.Role) bool {
	d, ok := r.saved[addr]
	if !ok || d.Role == role {
		return false
	}

	d.Role = role
	r.devicesDirty = true

	return true
}

func upsert(set map[models.Address]*models.Device, addr models.Address, role models.Role, now models.Millis) bool {
	d, ok := set[addr]
	if !ok {
		set[addr] = &models.Device{Address: addr, Role: role, IsOnline: true, LastSeen: now}

		return true
	}

	changed := d.Role != role || !d.IsOnline

	d.Role = role
	d.IsOnline = true
	d.LastSeen = now

	return changed
}

// Remove deletes addr from the saved collection. A discovered copy is marked offline
// so it cannot keep winning elections until it is heard from again.
func (r *Registry) Remove(addr models.Address) bool {
	_, ok := r.saved[addr]
	if !ok {
		return false
	}

	delete(r.saved, addr)
	r.devicesDirty = true

	if d, found := r.discovered[addr]; found {
		d.IsOnline = false
	}

	return true
}

// MarkOffline clears the online flag of addr in both collections.
func (r *Registry) MarkOffline(addr models.Address) bool {
	changed := false

	for _, set := range []map[models.Address]*models.Device{r.saved, r.discovered} {
		if d, ok := set[addr]; ok && d.IsOnline {
			d.IsOnline = false
			changed = true
		}
	}

	return changed
}

// Touch records inbound traffic from a known peer. It reports whether the peer came
// back online.
func (r *Registry) Touch(addr models.Address, now models.Millis) bool {
	changed := false

	for _, set := range []map[models.Address]*models.Device{r.saved, r.discovered} {
		d, ok := set[addr]
		if !ok {
			continue
		}

		if !d.IsOnline {
			d.IsOnline = true
			changed = true
		}

		d.LastSeen = now
	}

	return changed
}

// ClearDiscovered empties the discovered collection ahead of a fresh scan.
func (r *Registry) ClearDiscovered() bool {
	if len(r.discovered) == 0 {
		return false
	}

	clear(r.discovered)

	return true
}

// OnlineAddresses returns every peer currently online in either collection.
func (r *Registry) OnlineAddresses() []models.Address {
	n := len(r.saved) + len(r.discovered)
	seen := make(map[models.Address]struct{}, n)
	out := make([]models.Address, 0, n)

	for _, set := range []map[models.Address]*models.Device{r.saved, r.discovered} {
		for addr, d := range set {
			if !d.IsOnline {
				continue
			}

			if _, dup := seen[addr]; dup {
				continue
			}

			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}

	sortAddresses(out)

	return out
}

// SavedAddresses returns the saved peers in address order.
func (r *Registry) SavedAddresses() []models.Address {
	out := make([]models.Address, 0, len(r.saved))
	for addr := range r.saved {
		out = append(out, addr)
	}

	sortAddresses(out)

	return out
}

// KnownAddresses returns every peer in either collection in address order.
func (r *Registry) KnownAddresses() []models.Address {
	out := make([]models.Address, 0, len(r.saved)+len(r.discovered))

	for addr := range r.saved {
		out = append(out, addr)
	}

	for addr := range r.discovered {
		if _, ok := r.saved[addr]; !ok {
			out = append(out, addr)
		}
	}

	sortAddresses(out)

	return out
}

// List returns copies of the devices in c with offsets filled in, in address order.
func (r *Registry) List(c Collection) []models.Device {
	set := r.collection(c)
	out := make([]models.Device, 0, len(set))

	for _, d := range set {
		cp := *d
		cp.Offset = r.offsets[d.Address]
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Address.Less(out[j].Address) })

	return out
}

// Lookup returns a copy of addr's entry, preferring the saved collection.
func (r *Registry) Lookup(addr models.Address) (models.Device, bool) {
	d, ok := r.saved[addr]
	if !ok {
		d, ok = r.discovered[addr]
	}

	if !ok {
		return models.Device{}, false
	}

	cp := *d
	cp.Offset = r.offsets[addr]

	return cp, true
}

// Offset returns the stored estimate for addr. The offset to self is always zero.
func (r *Registry) Offset(addr models.Address) models.Offset {
	if addr == r.self {
		return models.Offset{}
	}

	return r.offsets[addr]
}

// SetOffset stores an estimate for addr. Self is ignored.
func (r *Registry) SetOffset(addr models.Address, o models.Offset) {
	if r.rejects(addr) {
		return
	}

	r.offsets[addr] = o
}

// TakeChanges returns the state to persist since the last call and clears the dirty flags.
func (r *Registry) TakeChanges() (Changes, bool) {
	ch := Changes{
		Role:         r.role,
		RoleDirty:    r.roleDirty,
		DevicesDirty: r.devicesDirty,
	}

	if r.devicesDirty {
		addrs := r.SavedAddresses()
		ch.Devices = make([]models.SavedDevice, 0, len(addrs))

		for _, addr := range addrs {
			ch.Devices = append(ch.Devices, models.SavedDevice{Address: addr, Role: r.saved[addr].Role})
		}
	}

	r.roleDirty = false
	r.devicesDirty = false

	return ch, ch.RoleDirty || ch.DevicesDirty
}

func sortAddresses(a []models.Address) {
	sort.Slice(a, func(i, j int) bool { return a[i].Less(a[j]) })
}
