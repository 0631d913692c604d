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

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
)

const udpBufferSize = 1 << 16

// UDPConfig configures a UDPTransport.
type UDPConfig struct {
	// ListenAddr is the local "host:port" to bind, e.g. ":43278".
	ListenAddr string `json:"listen_addr"`
	// BroadcastAddrs receive broadcasts and frames for peers whose endpoint is unknown.
	// When empty, the broadcast address of every up, non-loopback IPv4 interface is used.
	BroadcastAddrs []string `json:"broadcast_addrs,omitempty"`
}

// UDPTransport carries frames over UDP broadcast on a LAN. Unicast endpoints are
// learned from inbound frames.
type UDPTransport struct {
	self   models.Address
	cfg    UDPConfig
	logger logger.Logger

	conn  *net.UDPConn
	bcast []*net.UDPAddr

	mu    sync.RWMutex
	peers map[models.Address]*net.UDPAddr

	closeOnce sync.Once
	done      chan struct{}
}

// NewUDPTransport binds the socket. Start must be called to receive.
func NewUDPTransport(self models.Address, cfg UDPConfig, log logger.Logger) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp4", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen address %q: %w", cfg.ListenAddr, err)
	}

	bcast, err := resolveBroadcast(cfg.BroadcastAddrs, laddr.Port)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", laddr, err)
	}

	if err := conn.SetReadBuffer(udpBufferSize); err != nil {
		log.Warn().Err(err).Msg("Failed to set UDP read buffer")
	}

	return &UDPTransport{
		self:   self,
		cfg:    cfg,
		logger: log,
		conn:   conn,
		bcast:  bcast,
		peers:  make(map[models.Address]*net.UDPAddr),
		done:   make(chan struct{}),
	}, nil
}

func resolveBroadcast(addrs []string, port int) ([]*net.UDPAddr, error) {
	if len(addrs) == 0 {
		return interfaceBroadcastAddrs(port)
	}

	out := make([]*net.UDPAddr, 0, len(addrs))

	for _, a := range addrs {
		ua, err := net.ResolveUDPAddr("udp4", a)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve broadcast address %q: %w", a, err)
		}

		out = append(out, ua)
	}

	return out, nil
}

func interfaceBroadcastAddrs(port int) ([]*net.UDPAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var out []*net.UDPAddr

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range ifaceAddrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}

			ip := ipNet.IP.To4()
			if ip == nil || len(ipNet.Mask) != net.IPv4len {
				continue
			}

			bc := net.IPv4(ip[0]|^ipNet.Mask[0], ip[1]|^ipNet.Mask[1], ip[2]|^ipNet.Mask[2], ip[3]|^ipNet.Mask[3])
			out = append(out, &net.UDPAddr{IP: bc, Port: port})
		}
	}

	if len(out) == 0 {
		out = append(out, &net.UDPAddr{IP: net.IPv4bcast, Port: port})
	}

	return out, nil
}

// Start launches the receive loop.
func (t *UDPTransport) Start(ctx context.Context, h Handler) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = t.Close()
		case <-t.done:
		}
	}()

	go t.listenLoop(h)

	t.logger.Info().
		Str("addr", t.self.String()).
		Str("listen", t.conn.LocalAddr().String()).
		Int("broadcast_targets", len(t.bcast)).
		Msg("UDP transport started")

	return nil
}

func (t *UDPTransport) listenLoop(h Handler) {
	buf := make([]byte, udpBufferSize)

	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}

			t.logger.Debug().Err(err).Msg("UDP read failed")

			continue
		}

		f, err := UnmarshalFrame(buf[:n])
		if err != nil {
			t.logger.Debug().Err(err).Str("from", from.String()).Msg("Dropping malformed frame")
			continue
		}

		if !accepts(t.self, f) {
			continue
		}

		t.learn(f.Src, from)

		payload := make([]byte, len(f.Payload))
		copy(payload, f.Payload)

		h(f.Src, payload)
	}
}

func (t *UDPTransport) learn(addr models.Address, ep *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.peers[addr]; ok && cur.String() == ep.String() {
		return
	}

	t.peers[addr] = &net.UDPAddr{IP: append(net.IP(nil), ep.IP...), Port: ep.Port}
}

// SendTo unicasts to a learned endpoint, or falls back to broadcast with dst in the header.
func (t *UDPTransport) SendTo(dst models.Address, payload []byte) error {
	frame, err := MarshalFrame(t.self, dst, payload)
	if err != nil {
		return err
	}

	t.mu.RLock()
	ep, ok := t.peers[dst]
	t.mu.RUnlock()

	if ok {
		if _, err := t.conn.WriteToUDP(frame, ep); err != nil {
			return fmt.Errorf("failed to send to %s: %w", dst, err)
		}

		return nil
	}

	return t.writeBroadcast(frame)
}

// Broadcast sends to every broadcast target.
func (t *UDPTransport) Broadcast(payload []byte) error {
	frame, err := MarshalFrame(t.self, models.Broadcast, payload)
	if err != nil {
		return err
	}

	return t.writeBroadcast(frame)
}

func (t *UDPTransport) writeBroadcast(frame []byte) error {
	var errs []error

	for _, ep := range t.bcast {
		if _, err := t.conn.WriteToUDP(frame, ep); err != nil {
			errs = append(errs, fmt.Errorf("broadcast to %s: %w", ep, err))
		}
	}

	return errors.Join(errs...)
}

// Close stops the receive loop and closes the socket.
func (t *UDPTransport) Close() error {
	var err error

	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})

	return err
}
