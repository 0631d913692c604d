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

// Package sensor turns raw gate readings into crossings. A debounce state machine makes
// sure one physical crossing yields exactly one trigger.
package sensor

import (
	"time"

	"github.com/carverauto/racegate/pkg/models"
)

const (
	DefaultCooldown = 3000 * time.Millisecond
	// DefaultHoldLimit is how long a beam may stay broken before it counts as an obstruction.
	DefaultHoldLimit = 500 * time.Millisecond
)

// State is the debounce state of a gate.
type State uint8

const (
	StateNormal State = iota
	StateTriggered
	StateCooldown
	StateTriggeredInCooldown
)

func (s State) String() string {
	switch s {
	case StateTriggered:
		return "triggered"
	case StateCooldown:
		return "cooldown"
	case StateTriggeredInCooldown:
		return "triggered_in_cooldown"
	default:
		return "normal"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MeasureResult is one poll of the gate.
type MeasureResult struct {
	Time      models.Millis
	Triggered bool
}

// Step reports what one observation did.
type Step struct {
	State State
	// Crossing is set only on the Normal to Triggered edge.
	Crossing bool
	Changed  bool
}

// Debouncer is the gate state machine. It is not safe for concurrent use.
type Debouncer struct {
	cooldown models.Millis
	hold     models.Millis

	state         State
	lastTrigger   models.Millis
	cooldownUntil models.Millis
}

// NewDebouncer returns a debouncer in StateNormal. Non-positive durations take defaults.
func NewDebouncer(cooldown, hold time.Duration) *Debouncer {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	if hold <= 0 {
		hold = DefaultHoldLimit
	}

	return &Debouncer{
		cooldown: models.Millis(cooldown.Milliseconds()),
		hold:     models.Millis(hold.Milliseconds()),
	}
}

func (d *Debouncer) State() State {
	return d.state
}

// Observe advances the state machine by one reading.
func (d *Debouncer) Observe(res MeasureResult) Step {
	prev := d.state
	crossing := false

	switch {
	case res.Triggered && d.state == StateNormal:
		if res.Time >= d.cooldownUntil {
			crossing = true
			d.lastTrigger = res.Time
			d.state = StateTriggered
		}
	case res.Triggered:
		switch d.state {
		case StateCooldown, StateTriggeredInCooldown:
			d.state = StateTriggeredInCooldown
			d.cooldownUntil = res.Time + d.cooldown
		case StateTriggered:
			if res.Time-d.lastTrigger > d.hold {
				d.state = StateCooldown
				d.cooldownUntil = res.Time + d.cooldown
			}
		}
	default:
		switch d.state {
		case StateTriggered, StateTriggeredInCooldown:
			d.state = StateCooldown
			d.cooldownUntil = res.Time + d.cooldown
		case StateCooldown:
			if res.Time >= d.cooldownUntil {
				d.state = StateNormal
			}
		}
	}

	return Step{State: d.state, Crossing: crossing, Changed: d.state != prev}
}
