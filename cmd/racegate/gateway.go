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
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/carverauto/racegate/pkg/kv"
	"github.com/carverauto/racegate/pkg/lifecycle"
	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/carverauto/racegate/pkg/natsutil"
	"github.com/carverauto/racegate/pkg/node"
	"github.com/carverauto/racegate/pkg/sensor"
	"github.com/carverauto/racegate/pkg/status"
	"github.com/carverauto/racegate/pkg/transport"
	"github.com/carverauto/racegate/pkg/version"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
)

const serviceName = "racegate"

// gateway owns every component of one node process.
type gateway struct {
	cfg    *Config
	logger logger.Logger
	clock  clockwork.Clock

	conns  map[string]*nats.Conn
	store  kv.KVStore
	node   *node.Node
	server *status.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newGateway(cfg *Config, log logger.Logger) *gateway {
	return &gateway{
		cfg:    cfg,
		logger: log,
		clock:  clockwork.NewRealClock(),
		conns:  make(map[string]*nats.Conn),
	}
}

// Start builds the node and its collaborators and brings them up. Anything started
// before a failure is released again.
func (g *gateway) Start(ctx context.Context) error {
	if err := g.start(ctx); err != nil {
		if stopErr := g.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			g.logger.Warn().Err(stopErr).Msg("Cleanup after failed start")
		}

		return err
	}

	return nil
}

func (g *gateway) start(ctx context.Context) error {
	self, err := g.cfg.nodeAddress()
	if err != nil {
		return err
	}

	g.initTelemetry(ctx)

	g.store, err = kv.Open(&g.cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	tr, err := g.buildTransport(self)
	if err != nil {
		return err
	}

	results, err := g.buildPublisher(ctx, self)
	if err != nil {
		return err
	}

	var hub *status.Hub

	sinks := status.Fanout{status.NewLogSink(lifecycle.Sub(g.logger, "status"))}

	if g.cfg.Status.ListenAddr != "" {
		hub = status.NewHub(g.cfg.Status, lifecycle.Sub(g.logger, "status"))
		sinks = append(sinks, hub)
	}

	opts := node.Options{
		Self:      self,
		Config:    &g.cfg.Node,
		Transport: tr,
		Store:     g.store,
		Clock:     g.clock,
		Status:    sinks,
		Metrics:   node.NewMetrics(nil),
		Logger:    lifecycle.Sub(g.logger, "node"),
	}

	// A nil *EventPublisher must not become a non-nil interface.
	if results != nil {
		opts.Results = results
	}

	g.node, err = node.New(opts)
	if err != nil {
		return err
	}

	if g.cfg.Role != nil {
		if err := g.node.SetOwnRole(*g.cfg.Role); err != nil {
			return err
		}
	}

	if hub != nil {
		hub.SetSnapshot(g.node.Snapshot)
		g.server = status.NewServer(hub, lifecycle.Sub(g.logger, "status"))

		if err := g.server.Start(ctx); err != nil {
			return err
		}
	}

	if err := g.node.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.startSensor(runCtx)

	g.logger.Info().
		Str("addr", self.String()).
		Str("role", g.node.Role().String()).
		Str("transport", g.cfg.Transport.Kind).
		Str("store", g.cfg.Store.Backend).
		Str("version", version.GetVersion()).
		Msg("racegate node running")

	return nil
}

func (g *gateway) initTelemetry(ctx context.Context) {
	otelCfg := &g.cfg.Logging.OTel

	_, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		OTel:           otelCfg,
	})
	if err != nil && !errors.Is(err, logger.ErrOTelMetricsDisabled) {
		g.logger.Warn().Err(err).Msg("Metrics exporter unavailable")
	}

	_, err = logger.InitializeTracing(ctx, logger.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		OTel:           otelCfg,
		Logger:         g.logger,
	})
	if err != nil && !errors.Is(err, logger.ErrOTelTracingDisabled) {
		g.logger.Warn().Err(err).Msg("Trace exporter unavailable")
	}
}

// dial shares one NATS connection per URL between the link and the publisher.
func (g *gateway) dial(cfg *natsutil.ConnConfig) (*nats.Conn, error) {
	if nc, ok := g.conns[cfg.URL]; ok {
		return nc, nil
	}

	if cfg.Name == "" {
		cfg.Name = serviceName
	}

	nc, err := natsutil.Connect(cfg, lifecycle.Sub(g.logger, "nats"))
	if err != nil {
		return nil, err
	}

	g.conns[cfg.URL] = nc

	return nc, nil
}

func (g *gateway) buildTransport(self models.Address) (transport.Transport, error) {
	log := lifecycle.Sub(g.logger, "transport")

	if g.cfg.Transport.Kind == transportNATS {
		nc, err := g.dial(g.cfg.Transport.NATS)
		if err != nil {
			return nil, err
		}

		return transport.NewNATSTransport(self, nc, g.cfg.Transport.SubjectPrefix, log), nil
	}

	tr, err := transport.NewUDPTransport(self, g.cfg.Transport.UDP, log)
	if err != nil {
		return nil, err
	}

	return tr, nil
}

func (g *gateway) buildPublisher(ctx context.Context, self models.Address) (*natsutil.EventPublisher, error) {
	if g.cfg.Events == nil {
		return nil, nil
	}

	nc, err := g.dial(&g.cfg.Events.NATS)
	if err != nil {
		return nil, err
	}

	return natsutil.CreateEventPublisher(ctx, nc, g.cfg.Events.Stream, self)
}

func (g *gateway) startSensor(ctx context.Context) {
	if g.cfg.Sensor.Source != sensorStdin {
		return
	}

	log := lifecycle.Sub(g.logger, "sensor")

	loop := sensor.NewLoop(
		sensor.NewLineMeasurer(os.Stdin),
		sensor.NewDebouncer(g.cfg.Sensor.cooldown(), g.cfg.Sensor.holdLimit()),
		g.clock,
		g.node.Millis,
		func(ts models.Millis) {
			if err := g.node.HandleTrigger(ts); err != nil {
				log.Warn().Err(err).Int64("ts", int64(ts)).Msg("Crossing not recorded")
			}
		},
		func(s sensor.State) {
			g.node.ReportGateState(s.String())
		},
		log,
	)

	g.wg.Add(1)

	go func() {
		defer g.wg.Done()

		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Sensor loop stopped")
		}
	}()
}

// Stop releases components in reverse start order.
func (g *gateway) Stop(ctx context.Context) error {
	var errs []error

	if g.cancel != nil {
		g.cancel()
	}

	g.wg.Wait()

	if g.node != nil {
		if err := g.node.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if g.server != nil {
		if err := g.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop status server: %w", err))
		}
	}

	if g.store != nil {
		if err := g.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}

	for url, nc := range g.conns {
		if err := nc.Drain(); err != nil {
			g.logger.Debug().Err(err).Str("url", url).Msg("NATS drain failed")
		}
	}

	return errors.Join(errs...)
}
