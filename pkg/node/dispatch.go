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
	"context"

	"github.com/carverauto/racegate/pkg/election"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/carverauto/racegate/pkg/registry"
	"github.com/carverauto/racegate/pkg/timesync"
	"github.com/carverauto/racegate/pkg/wire"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// receive is the transport handler. Every inbound datagram passes through here.
func (n *Node) receive(from models.Address, payload []byte) {
	msg, err := wire.Decode(payload)
	if err != nil {
		n.logger.Debug().
			Err(err).
			Str("peer", from.String()).
			Int("len", len(payload)).
			Msg("Dropping undecodable message")
		n.metrics.MessageDropped(context.Background(), reasonDecode)

		return
	}

	_, span := n.tracer.Start(context.Background(), "node.receive", trace.WithAttributes(
		attribute.String("kind", msg.Kind().String()),
		attribute.String("peer", from.String()),
	))
	defer span.End()

	n.apply(n.locked(func(now models.Millis, fx *effects) {
		n.dispatchLocked(now, fx, from, msg)
	}))
}

func (n *Node) dispatchLocked(now models.Millis, fx *effects, from models.Address, msg wire.Message) {
	if n.reg.Touch(from, now) {
		fx.devices = true

		n.reelectLocked(now, fx, "peer_online")
	}

	switch m := msg.(type) {
	case wire.Probe:
		fx.send(from, n.identityLocked())
	case wire.Identity:
		n.handleIdentityLocked(now, fx, from, m)
	case wire.SaveDeviceRequest:
		n.handleSaveDeviceLocked(now, fx, from, m)
	case wire.MasterHeartbeat:
		n.handleHeartbeatLocked(now, fx, from, m)
	case wire.TimeSyncRequest:
		n.handleTimeSyncRequestLocked(now, fx, from, m)
	case wire.TimeSyncResponse:
		n.handleTimeSyncResponseLocked(now, fx, from, m)
	case wire.RaceEvent:
		n.handleRaceEventLocked(now, fx, from, m)
	case wire.FullSync:
		n.handleFullSyncLocked(now, fx, from, m)
	}
}

func (n *Node) dropLocked(fx *effects, reason string, from models.Address, kind wire.Kind) {
	n.logger.Debug().
		Str("reason", reason).
		Str("peer", from.String()).
		Str("kind", kind.String()).
		Msg("Dropping message")
	n.metrics.MessageDropped(fx.ctx, reason)
}

func (n *Node) identityLocked() wire.Identity {
	return wire.Identity{Address: n.self, Role: n.reg.Role()}
}

// announceLocked sends the node's identity to every saved peer.
func (n *Node) announceLocked(fx *effects) {
	id := n.identityLocked()

	for _, addr := range n.reg.SavedAddresses() {
		fx.send(addr, id)
	}
}

func (n *Node) handleIdentityLocked(now models.Millis, fx *effects, from models.Address, m wire.Identity) {
	if m.Address != from {
		n.dropLocked(fx, reasonAddressMismatch, from, m.Kind())
		return
	}

	if m.Role == models.RoleIgnore && n.reg.IsKnown(from, registry.Saved) {
		n.logger.Info().Str("peer", from.String()).Msg("Saved peer said goodbye")

		n.reg.Remove(from)
		n.reg.MarkOffline(from)

		fx.devices = true

		n.reelectLocked(now, fx, "goodbye")

		return
	}

	known := n.reg.IsKnown(from, registry.Discovered)

	if n.reg.UpdateSavedRole(from, m.Role) {
		fx.devices = true
	}

	if n.reg.UpsertDiscovered(from, m.Role, now) {
		fx.devices = true

		n.reelectLocked(now, fx, "identity")
	}

	if !known {
		fx.send(from, n.identityLocked())
	}
}

func (n *Node) handleSaveDeviceLocked(now models.Millis, fx *effects, from models.Address, m wire.SaveDeviceRequest) {
	if m.Target != n.self {
		n.dropLocked(fx, reasonNotTarget, from, m.Kind())
		return
	}

	if m.Sender != from {
		n.dropLocked(fx, reasonAddressMismatch, from, m.Kind())
		return
	}

	if m.TargetRole == models.RoleIgnore {
		n.logger.Info().Str("peer", from.String()).Msg("Peer asked to be forgotten")

		n.reg.Remove(from)
		n.reelectLocked(now, fx, "forgotten")

		return
	}

	n.logger.Info().
		Str("peer", from.String()).
		Str("role", m.TargetRole.String()).
		Str("peer_role", m.SenderRole.String()).
		Msg("Peer assigned our role")

	n.reg.UpsertSaved(from, m.SenderRole, now)

	if n.reg.SetRole(m.TargetRole) {
		fx.role = true

		n.announceLocked(fx)
	}

	n.reelectLocked(now, fx, "saved")
}

func (n *Node) handleHeartbeatLocked(now models.Millis, fx *effects, from models.Address, m wire.MasterHeartbeat) {
	if m.Master != from {
		n.dropLocked(fx, reasonAddressMismatch, from, m.Kind())
		return
	}

	if !n.reg.IsKnown(from, registry.Saved) && !n.reg.IsKnown(from, registry.Discovered) {
		fx.send(from, probe)
	}

	switch election.Resolve(n.self, n.master, from) {
	case election.KeepSelf:
		if n.master.FollowsMaster(from) {
			n.master.LastMasterSeen = now
			n.observeCoarseLocked(now, from, m.MasterTime)
		}
	case election.AdoptOther:
		n.transitionLocked(now, fx, election.Slave{Master: from}, "lower_master")
		n.observeCoarseLocked(now, from, m.MasterTime)
	case election.Reelect:
		n.reelectLocked(now, fx, "foreign_heartbeat")
	}
}

func (n *Node) handleTimeSyncRequestLocked(now models.Millis, fx *effects, from models.Address, m wire.TimeSyncRequest) {
	if m.Requester != from {
		n.dropLocked(fx, reasonAddressMismatch, from, m.Kind())
		return
	}

	if !n.master.IsMaster() {
		n.dropLocked(fx, reasonNotMaster, from, m.Kind())
		return
	}

	n.observeCoarseLocked(now, from, m.RequestTime)
	fx.send(from, timesync.Responder(n.self, m, now))
}

func (n *Node) handleTimeSyncResponseLocked(now models.Millis, fx *effects, from models.Address, m wire.TimeSyncResponse) {
	if m.Master != from || !n.master.FollowsMaster(from) {
		n.dropLocked(fx, reasonForeignMaster, from, m.Kind())
		return
	}

	off, rtt, err := n.requester.Complete(m, now)
	if err != nil {
		n.logger.Debug().Err(err).Str("peer", from.String()).Msg("Ignoring time sync response")
		n.metrics.MessageDropped(fx.ctx, reasonStaleSync)

		return
	}

	n.reg.SetOffset(from, off)
	n.master.LastMasterSeen = now

	n.logger.Debug().
		Str("peer", from.String()).
		Int64("offset_ms", off.Millis).
		Int64("rtt_ms", rtt).
		Msg("Clock offset updated")

	fx.devices = true
}

func (n *Node) handleRaceEventLocked(now models.Millis, fx *effects, from models.Address, m wire.RaceEvent) {
	if m.Sender != from {
		n.dropLocked(fx, reasonAddressMismatch, from, m.Kind())
		return
	}

	if !n.master.IsMaster() {
		n.logger.Warn().
			Str("peer", from.String()).
			Str("role", m.Role.String()).
			Msg("Race event reached a non-master")
		n.metrics.MessageDropped(fx.ctx, reasonNotMaster)

		return
	}

	n.observeCoarseLocked(now, from, m.LocalSendTime)

	if err := n.recordLocked(now, fx, m.Role, m.RawTime, from); err != nil {
		n.logger.Debug().Err(err).Str("peer", from.String()).Msg("Race event not recorded")
	}
}

func (n *Node) handleFullSyncLocked(now models.Millis, fx *effects, from models.Address, m wire.FullSync) {
	if m.Master != from || !n.master.FollowsMaster(from) {
		n.dropLocked(fx, reasonForeignMaster, from, m.Kind())
		return
	}

	n.races.Replace(m.Entries, m.LastFinished, m.LastFinished != wire.NoFinished, now)
	n.master.LastMasterSeen = now
	n.observeCoarseLocked(now, from, m.MasterTime)

	fx.race = true
}

// observeCoarseLocked stores a single-message offset estimate unless a fresher round
// trip estimate exists.
func (n *Node) observeCoarseLocked(now models.Millis, peer models.Address, peerTime models.Millis) {
	next := models.Offset{
		Millis:    timesync.Coarse(now, peerTime),
		Source:    models.OffsetCoarse,
		UpdatedAt: now,
	}

	if timesync.Supersedes(n.reg.Offset(peer), next, now, millisOf(n.cfg.OffsetFreshness)) {
		n.reg.SetOffset(peer, next)
	}
}
