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

package node

import (
	"errors"
	"fmt"

	"github.com/carverauto/racegate/pkg/models"
	"github.com/carverauto/racegate/pkg/wire"
)

var errInvalidRole = errors.New("invalid role")

// Scan forgets every discovered peer and probes for them again. Replies repopulate the
// discovered set and elections follow those changes.
func (n *Node) Scan() {
	n.apply(n.locked(func(_ models.Millis, fx *effects) {
		if n.reg.ClearDiscovered() {
			fx.devices = true
		}

		fx.broadcast(probe)
	}))
}

// AssignRole asks peer to take role and saves it locally. RoleIgnore removes the peer
// here and asks it to forget this node.
func (n *Node) AssignRole(peer models.Address, role models.Role) error {
	if peer == n.self || peer.IsZero() || peer.IsBroadcast() {
		return ErrInvalidPeer
	}

	if !role.Valid() {
		return fmt.Errorf("%w: %d", errInvalidRole, role)
	}

	n.apply(n.locked(func(now models.Millis, fx *effects) {
		fx.send(peer, wire.SaveDeviceRequest{
			Target:     peer,
			TargetRole: role,
			Sender:     n.self,
			SenderRole: n.reg.Role(),
		})

		if role == models.RoleIgnore {
			n.reg.Remove(peer)
		} else {
			n.reg.Configure(peer, role)
		}

		n.reelectLocked(now, fx, "operator")
	}))

	return nil
}

// SetOwnRole changes this node's role, persists it and announces it to saved peers.
func (n *Node) SetOwnRole(role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %d", errInvalidRole, role)
	}

	n.apply(n.locked(func(_ models.Millis, fx *effects) {
		if n.reg.SetRole(role) {
			fx.role = true

			n.announceLocked(fx)
		}
	}))

	return nil
}
