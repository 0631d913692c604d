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
	"github.com/carverauto/racegate/pkg/election"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/carverauto/racegate/pkg/wire"
)

// reelectLocked applies the lowest-address rule to the online set. It is a no-op until
// the boot jitter has passed.
func (n *Node) reelectLocked(now models.Millis, fx *effects, reason string) {
	if !n.electionReady {
		return
	}

	n.transitionLocked(now, fx, election.Elect(n.self, n.reg.OnlineAddresses()), reason)
}

func (n *Node) transitionLocked(now models.Millis, fx *effects, next election.Status, reason string) {
	tr := n.master.Apply(next, now)
	if !tr.Changed {
		return
	}

	n.races.SetAuthoritative(n.master.IsMaster())
	n.requester.Reset()

	fx.master = true

	n.metrics.ElectionHeld(fx.ctx, next.String())

	ev := n.logger.Info().
		Str("from", tr.From.String()).
		Str("to", tr.To.String()).
		Str("reason", reason)
	if addr, ok := n.master.MasterAddress(n.self); ok {
		ev = ev.Str("master", addr.String())
	}

	ev.Msg("Master status changed")

	if tr.BecameMaster {
		n.lastCleanup = now

		n.heartbeatLocked(now, fx)
		n.replicateLocked(now, fx)

		return
	}

	if st, ok := next.(election.Slave); ok {
		fx.send(st.Master, n.requester.Next(now))
		n.lastResync = now
	}
}

func (n *Node) heartbeatLocked(now models.Millis, fx *effects) {
	n.heartbeatSeq++
	n.lastHeartbeat = now

	fx.broadcast(wire.MasterHeartbeat{
		Master:     n.self,
		MasterTime: now,
		Sequence:   n.heartbeatSeq,
	})
}

// replicateLocked sends the newest queue entries to every known peer.
func (n *Node) replicateLocked(now models.Millis, fx *effects) {
	last, ok := n.races.LastFinished()
	if !ok {
		last = wire.NoFinished
	}

	msg := wire.FullSync{
		Master:       n.self,
		MasterTime:   now,
		Entries:      n.races.Snapshot(),
		LastFinished: last,
		Timestamp:    now,
	}

	for _, addr := range n.reg.KnownAddresses() {
		fx.send(addr, msg)
	}

	n.lastFullSync = now
}

// Tick runs one maintenance pass: heartbeats, replication and queue cleanup on the
// master; master liveness and periodic time sync on a slave.
func (n *Node) Tick() {
	n.apply(n.locked(n.tickLocked))
}

func (n *Node) tickLocked(now models.Millis, fx *effects) {
	if !n.electionReady {
		return
	}

	switch st := n.master.Status.(type) {
	case election.Master:
		if now-n.lastHeartbeat >= millisOf(n.cfg.HeartbeatInterval) {
			n.heartbeatLocked(now, fx)
		}

		if now-n.lastFullSync >= millisOf(n.cfg.FullSyncInterval) {
			n.replicateLocked(now, fx)
		}

		if now-n.lastCleanup >= millisOf(n.cfg.CleanupInterval) {
			n.lastCleanup = now

			if removed := n.races.Cleanup(now); removed > 0 {
				n.logger.Debug().Int("removed", removed).Msg("Expired finished races")

				fx.race = true
			}
		}
	case election.Slave:
		if now-n.master.LastMasterSeen > millisOf(n.cfg.MasterTimeout) {
			n.logger.Warn().
				Str("master", st.Master.String()).
				Int64("silent_ms", int64(now-n.master.LastMasterSeen)).
				Msg("Master timed out")

			if n.reg.MarkOffline(st.Master) {
				fx.devices = true
			}

			n.reelectLocked(now, fx, "master_timeout")

			return
		}

		if now-n.lastResync >= millisOf(n.cfg.ResyncInterval) {
			fx.send(st.Master, n.requester.Next(now))
			n.lastResync = now
		}
	}
}
