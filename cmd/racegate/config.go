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

package main

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/carverauto/racegate/pkg/kv"
	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/carverauto/racegate/pkg/natsutil"
	"github.com/carverauto/racegate/pkg/node"
	"github.com/carverauto/racegate/pkg/sensor"
	"github.com/carverauto/racegate/pkg/status"
	"github.com/carverauto/racegate/pkg/transport"
)

const (
	transportUDP  = "udp"
	transportNATS = "nats"

	sensorNone  = "none"
	sensorStdin = "stdin"

	defaultListenAddr = ":43278"
	defaultStream     = "racegate-events"
)

var (
	errUnknownTransport = errors.New("unknown transport")
	errNATSRequired     = errors.New("transport nats requires transport.nats.url")
	errEventsURL        = errors.New("events requires nats.url")
	errUnknownSensor    = errors.New("unknown sensor source")
	errNoHardwareAddr   = errors.New("no interface with a 6-byte hardware address")
)

// Config is the racegate binary configuration.
type Config struct {
	// Address overrides the node address. Empty derives it from Interface.
	Address string `json:"address,omitempty"`
	// Interface names the NIC whose hardware address becomes the node address. Empty
	// picks the first up, non-loopback interface.
	Interface string `json:"interface,omitempty"`
	// Role is applied and persisted at startup. nil keeps the persisted role.
	Role      *models.Role     `json:"role,omitempty"`
	Transport TransportConfig  `json:"transport"`
	Store     kv.Config        `json:"store"`
	Status    status.HubConfig `json:"status"`
	Events    *EventsConfig    `json:"events,omitempty"`
	Sensor    SensorConfig     `json:"sensor"`
	Node      node.Config      `json:"node"`
	Logging   *logger.Config   `json:"logging,omitempty"`
}

// TransportConfig selects the link between nodes.
type TransportConfig struct {
	Kind          string               `json:"kind"`
	UDP           transport.UDPConfig  `json:"udp"`
	NATS          *natsutil.ConnConfig `json:"nats,omitempty"`
	SubjectPrefix string               `json:"subject_prefix,omitempty"`
}

// EventsConfig enables publishing finished races to JetStream.
type EventsConfig struct {
	NATS   natsutil.ConnConfig `json:"nats"`
	Stream string              `json:"stream,omitempty"`
}

// SensorConfig selects the trigger source of a gate.
type SensorConfig struct {
	Source    string          `json:"source"`
	Cooldown  models.Duration `json:"cooldown,omitempty"`
	HoldLimit models.Duration `json:"hold_limit,omitempty"`
}

// Validate fills defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "":
		c.Transport.Kind = transportUDP

		fallthrough
	case transportUDP:
		if c.Transport.UDP.ListenAddr == "" {
			c.Transport.UDP.ListenAddr = defaultListenAddr
		}
	case transportNATS:
		if c.Transport.NATS == nil || c.Transport.NATS.URL == "" {
			return errNATSRequired
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownTransport, c.Transport.Kind)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}

	if c.Events != nil {
		if c.Events.NATS.URL == "" {
			return errEventsURL
		}

		if c.Events.Stream == "" {
			c.Events.Stream = defaultStream
		}
	}

	switch c.Sensor.Source {
	case "":
		c.Sensor.Source = sensorNone
	case sensorNone, sensorStdin:
	default:
		return fmt.Errorf("%w: %q", errUnknownSensor, c.Sensor.Source)
	}

	if c.Address != "" {
		if _, err := models.ParseAddress(c.Address); err != nil {
			return err
		}
	}

	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}

	return c.Node.Validate()
}

func (s SensorConfig) cooldown() time.Duration {
	return s.Cooldown.OrDefault(sensor.DefaultCooldown)
}

func (s SensorConfig) holdLimit() time.Duration {
	return s.HoldLimit.OrDefault(sensor.DefaultHoldLimit)
}

// nodeAddress resolves the configured or hardware-derived node address.
func (c *Config) nodeAddress() (models.Address, error) {
	if c.Address != "" {
		return models.ParseAddress(c.Address)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return models.Address{}, fmt.Errorf("failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if c.Interface != "" && iface.Name != c.Interface {
			continue
		}

		if c.Interface == "" && (iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0) {
			continue
		}

		if a, err := models.AddressFromHardware(iface.HardwareAddr); err == nil {
			return a, nil
		}
	}

	return models.Address{}, errNoHardwareAddr
}
