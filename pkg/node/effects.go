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

	"github.com/carverauto/racegate/pkg/models"
	"github.com/carverauto/racegate/pkg/registry"
	"github.com/carverauto/racegate/pkg/wire"
)

//nolint:gochecknoglobals // immutable zero-size message
var probe = wire.Probe{}

type outbound struct {
	to        models.Address
	broadcast bool
	msg       wire.Message
}

// effects collects what a locked section wants done once the lock is released.
type effects struct {
	ctx context.Context
	out []outbound

	changes registry.Changes
	persist bool

	// status kinds to push
	master  bool
	devices bool
	race    bool
	role    bool

	statuses []models.StatusMessage
	results  []models.RaceFinishedData
}

func (fx *effects) send(to models.Address, msg wire.Message) {
	fx.out = append(fx.out, outbound{to: to, msg: msg})
}

func (fx *effects) broadcast(msg wire.Message) {
	fx.out = append(fx.out, outbound{broadcast: true, msg: msg})
}

// MasterView is the master status pushed to sinks.
type MasterView struct {
	Status   string        `json:"status"`
	Master   string        `json:"master,omitempty"`
	IsSelf   bool          `json:"is_self"`
	LastSeen models.Millis `json:"last_seen"`
}

// DevicesView is the device list pushed to sinks.
type DevicesView struct {
	Saved      []models.Device `json:"saved"`
	Discovered []models.Device `json:"discovered"`
}

// RaceView is the race queue pushed to sinks.
type RaceView struct {
	models.RaceSummary
	Entries []models.RaceEntry `json:"entries"`
}

// locked runs fn under the node lock and returns the effects it queued together with
// the persistence and status updates its mutations imply.
func (n *Node) locked(fn func(now models.Millis, fx *effects)) *effects {
	n.mu.Lock()
	defer n.mu.Unlock()

	fx := &effects{ctx: n.ctx}

	fn(n.Millis(), fx)

	fx.changes, fx.persist = n.reg.TakeChanges()
	if fx.changes.DevicesDirty {
		fx.devices = true
	}

	n.collectStatusLocked(fx)

	return fx
}

func (n *Node) collectStatusLocked(fx *effects) {
	if fx.role {
		fx.statuses = append(fx.statuses, models.StatusMessage{Type: models.StatusTypeRole, Data: n.reg.Role()})
	}

	if fx.master {
		fx.statuses = append(fx.statuses, models.StatusMessage{Type: models.StatusTypeMaster, Data: n.masterViewLocked()})
	}

	if fx.devices {
		fx.statuses = append(fx.statuses, models.StatusMessage{Type: models.StatusTypeDevices, Data: n.devicesViewLocked()})
	}

	if fx.race {
		fx.statuses = append(fx.statuses, models.StatusMessage{Type: models.StatusTypeRace, Data: n.raceViewLocked()})
	}
}

func (n *Node) masterViewLocked() MasterView {
	v := MasterView{
		Status:   n.master.Status.String(),
		IsSelf:   n.master.IsMaster(),
		LastSeen: n.master.LastMasterSeen,
	}

	if addr, ok := n.master.MasterAddress(n.self); ok {
		v.Master = addr.String()
	}

	return v
}

func (n *Node) devicesViewLocked() DevicesView {
	return DevicesView{
		Saved:      n.reg.List(registry.Saved),
		Discovered: n.reg.List(registry.Discovered),
	}
}

func (n *Node) raceViewLocked() RaceView {
	return RaceView{
		RaceSummary: n.races.Summary(),
		Entries:     n.races.Entries(),
	}
}

// apply performs queued effects. It must be called without the lock held.
func (n *Node) apply(fx *effects) {
	for _, o := range fx.out {
		n.transmit(fx.ctx, o)
	}

	if fx.persist {
		if err := n.prefs.Save(context.WithoutCancel(fx.ctx), fx.changes); err != nil {
			n.logger.Error().Err(err).Msg("Failed to persist preferences")
		}
	}

	for _, msg := range fx.statuses {
		n.sink.Publish(msg)
	}

	for _, r := range fx.results {
		select {
		case n.resultCh <- r:
		default:
			n.logger.Warn().Int64("duration_ms", int64(r.DurationMs)).Msg("Result queue full, dropping race result")
		}
	}
}

func (n *Node) transmit(ctx context.Context, o outbound) {
	payload, err := wire.Encode(o.msg)
	if err != nil {
		n.logger.Error().Err(err).Str("kind", o.msg.Kind().String()).Msg("Failed to encode message")
		return
	}

	if o.broadcast {
		err = n.tr.Broadcast(payload)
	} else {
		err = n.tr.SendTo(o.to, payload)
	}

	if err != nil {
		n.logger.Warn().
			Err(err).
			Str("kind", o.msg.Kind().String()).
			Str("peer", o.to.String()).
			Msg("Failed to send message")
		n.metrics.MessageDropped(ctx, reasonSendFailed)
	}
}
