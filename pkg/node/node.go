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

// Package node ties the registry, election, time sync and race queue together behind
// one lock. Inbound datagrams, sensor triggers, operator actions and scheduler ticks
// all mutate state under that lock and queue their side effects; the effects run after
// the lock is released.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/racegate/pkg/election"
	"github.com/carverauto/racegate/pkg/kv"
	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/carverauto/racegate/pkg/race"
	"github.com/carverauto/racegate/pkg/registry"
	"github.com/carverauto/racegate/pkg/status"
	"github.com/carverauto/racegate/pkg/timesync"
	"github.com/carverauto/racegate/pkg/transport"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "racegate.node"
	resultQueueSize  = 16
	publishTimeout   = 5 * time.Second
	stopWaitFallback = 10 * time.Second
)

var (
	errSelfRequired      = errors.New("node address is required")
	errTransportRequired = errors.New("transport is required")
	// ErrNotGate is returned for a trigger on a node whose role is not Start or Finish.
	ErrNotGate = errors.New("node role does not time crossings")
	// ErrNoMaster is returned for a trigger before any master is known.
	ErrNoMaster = errors.New("no master elected")
	// ErrInvalidPeer is returned for operator actions naming self, zero or broadcast.
	ErrInvalidPeer = errors.New("invalid peer address")
)

// ResultPublisher receives every finished race. natsutil.EventPublisher implements it.
type ResultPublisher interface {
	PublishRaceFinished(ctx context.Context, data models.RaceFinishedData) error
}

// Options wires a Node. Self and Transport are required.
type Options struct {
	Self      models.Address
	Config    *Config
	Transport transport.Transport
	// Store persists role and saved devices. nil keeps them in memory only.
	Store   kv.KVStore
	Clock   clockwork.Clock
	Status  status.Sink
	Results ResultPublisher
	Metrics *Metrics
	Logger  logger.Logger
}

// Node is one participant of the race network.
type Node struct {
	self    models.Address
	cfg     *Config
	clock   clockwork.Clock
	epoch   time.Time
	tr      transport.Transport
	prefs   *registry.Preferences
	sink    status.Sink
	results ResultPublisher
	metrics *Metrics
	logger  logger.Logger
	tracer  trace.Tracer

	scheduler *Scheduler

	mu            sync.Mutex
	ctx           context.Context
	reg           *registry.Registry
	master        election.State
	races         *race.Coordinator
	requester     *timesync.Requester
	electionReady bool
	heartbeatSeq  uint32
	lastHeartbeat models.Millis
	lastFullSync  models.Millis
	lastResync    models.Millis
	lastCleanup   models.Millis

	resultCh  chan models.RaceFinishedData
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New validates opts and returns a node that has not booted yet.
func New(opts Options) (*Node, error) {
	if opts.Self.IsZero() || opts.Self.IsBroadcast() {
		return nil, errSelfRequired
	}

	if opts.Transport == nil {
		return nil, errTransportRequired
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = &Config{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid node config: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	store := opts.Store
	if store == nil {
		store = kv.NewMemoryStore()
	}

	prefs, err := registry.NewPreferences(store, cfg.Namespace, log)
	if err != nil {
		return nil, err
	}

	sink := opts.Status
	if sink == nil {
		sink = status.NewLogSink(log)
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	n := &Node{
		self:    opts.Self,
		cfg:     cfg,
		clock:   clock,
		epoch:   clock.Now(),
		tr:      opts.Transport,
		prefs:   prefs,
		sink:    sink,
		results: opts.Results,
		metrics: metrics,
		logger:  log,
		tracer:  logger.GetTracer(tracerName),
		ctx:     context.Background(),
		reg:     registry.New(opts.Self),
		master:  election.NewState(),
		races: race.NewCoordinator(race.Config{
			Capacity:          cfg.QueueCapacity,
			FinishedGrace:     time.Duration(cfg.FinishedGrace),
			ZeroDurationGrace: time.Duration(cfg.ZeroDurationGrace),
		}, log),
		requester: timesync.NewRequester(opts.Self),
		resultCh:  make(chan models.RaceFinishedData, resultQueueSize),
		done:      make(chan struct{}),
	}

	n.scheduler = NewScheduler(clock, time.Duration(cfg.TickInterval), n.Tick, log)

	return n, nil
}

// Self returns the node's address.
func (n *Node) Self() models.Address {
	return n.self
}

// Millis is the node's local clock: milliseconds since the node was created.
func (n *Node) Millis() models.Millis {
	return models.Millis(n.clock.Since(n.epoch).Milliseconds())
}

// Start boots the node, then completes the election after the boot jitter and runs the
// scheduler until ctx is cancelled or Stop is called.
func (n *Node) Start(ctx context.Context) error {
	if err := n.Boot(ctx); err != nil {
		return err
	}

	jitter := election.BootJitter(n.self, time.Duration(n.cfg.BootJitterStep))

	n.logger.Info().
		Str("addr", n.self.String()).
		Dur("boot_jitter", jitter).
		Msg("Node booted, waiting before first election")

	n.wg.Add(1)

	go func() {
		defer n.wg.Done()

		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case <-n.clock.After(jitter):
		}

		n.CompleteBoot()

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		go func() {
			select {
			case <-n.done:
				cancel()
			case <-runCtx.Done():
			}
		}()

		if err := n.scheduler.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			n.logger.Error().Err(err).Msg("Scheduler stopped")
		}
	}()

	return nil
}

// Boot restores persisted state, starts the transport and announces the node. The
// first election waits for CompleteBoot.
func (n *Node) Boot(ctx context.Context) error {
	role, devices, err := n.prefs.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}

	n.mu.Lock()
	n.ctx = ctx
	n.reg.Restore(role, devices)
	n.mu.Unlock()

	n.wg.Add(1)

	go n.publishResults(ctx)

	if err := n.tr.Start(ctx, n.receive); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	n.logger.Info().
		Str("addr", n.self.String()).
		Str("role", role.String()).
		Int("saved_devices", len(devices)).
		Msg("Restored node state")

	n.apply(n.locked(func(_ models.Millis, fx *effects) {
		fx.broadcast(probe)
		n.announceLocked(fx)

		fx.role = true
		fx.devices = true
	}))

	return nil
}

// CompleteBoot runs the first election. Until then election triggers are ignored.
func (n *Node) CompleteBoot() {
	n.apply(n.locked(func(now models.Millis, fx *effects) {
		n.electionReady = true
		n.lastCleanup = now
		n.lastResync = now

		n.reelectLocked(now, fx, "boot")
	}))
}

// Stop halts the scheduler and result publishing and closes the transport.
func (n *Node) Stop(ctx context.Context) error {
	n.closeOnce.Do(func() {
		close(n.done)
	})

	waitCh := make(chan struct{})

	go func() {
		n.wg.Wait()
		close(waitCh)
	}()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, stopWaitFallback)
		defer cancel()
	}

	select {
	case <-waitCh:
	case <-ctx.Done():
		n.logger.Warn().Msg("Timed out waiting for node goroutines")
	}

	if err := n.tr.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}

	return nil
}

// Pause suspends maintenance ticks, e.g. while a firmware update is written.
func (n *Node) Pause() {
	n.scheduler.Pause()
}

func (n *Node) Resume() {
	n.scheduler.Resume()
}

// Status returns the current election status.
func (n *Node) Status() election.Status {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.master.Status
}

// IsMaster reports whether this node leads.
func (n *Node) IsMaster() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.master.IsMaster()
}

// MasterAddress returns the master's address, self when leading.
func (n *Node) MasterAddress() (models.Address, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.master.MasterAddress(n.self)
}

// Devices lists collection c with offsets.
func (n *Node) Devices(c registry.Collection) []models.Device {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.reg.List(c)
}

// Device returns one peer, preferring its saved entry.
func (n *Node) Device(addr models.Address) (models.Device, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.reg.Lookup(addr)
}

func (n *Node) Summary() models.RaceSummary {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.races.Summary()
}

// Entries returns the race queue, oldest first.
func (n *Node) Entries() []models.RaceEntry {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.races.Entries()
}

func (n *Node) Role() models.Role {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.reg.Role()
}

// Snapshot returns the current status of every kind, for clients that just connected.
func (n *Node) Snapshot() []models.StatusMessage {
	n.mu.Lock()
	defer n.mu.Unlock()

	return []models.StatusMessage{
		{Type: models.StatusTypeRole, Data: n.reg.Role()},
		{Type: models.StatusTypeMaster, Data: n.masterViewLocked()},
		{Type: models.StatusTypeDevices, Data: n.devicesViewLocked()},
		{Type: models.StatusTypeRace, Data: n.raceViewLocked()},
	}
}

// ReportGateState forwards a sensor state change to the status sink.
func (n *Node) ReportGateState(state string) {
	n.sink.Publish(models.StatusMessage{Type: models.StatusTypeSensor, Data: state})
}

func (n *Node) publishResults(ctx context.Context) {
	defer n.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case data := <-n.resultCh:
			if n.results == nil {
				continue
			}

			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := n.results.PublishRaceFinished(pubCtx, data)

			cancel()

			if err != nil {
				n.logger.Error().Err(err).Int64("duration_ms", int64(data.DurationMs)).Msg("Failed to publish race result")
			}
		}
	}
}
