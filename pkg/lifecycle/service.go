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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/racegate/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

// Service is a long-running component with an explicit start and stop.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ServiceOptions configures RunService.
type ServiceOptions struct {
	ServiceName     string
	Service         Service
	Logger          logger.Logger
	ShutdownTimeout time.Duration
	// Signals default to SIGINT and SIGTERM.
	Signals []os.Signal
}

// RunService starts the service and blocks until ctx is done or a shutdown signal
// arrives, then stops it within the shutdown timeout.
func RunService(ctx context.Context, opts *ServiceOptions) error {
	if opts.Service == nil {
		return errors.New("lifecycle: service is nil")
	}

	signals := opts.Signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	runCtx, stop := signal.NotifyContext(ctx, signals...)
	defer stop()

	if err := opts.Service.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start %s: %w", opts.ServiceName, err)
	}

	if opts.Logger != nil {
		opts.Logger.Info().Str("service", opts.ServiceName).Msg("Service started")
	}

	<-runCtx.Done()

	if opts.Logger != nil {
		opts.Logger.Info().Str("service", opts.ServiceName).Msg("Shutting down")
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := opts.Service.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop %s: %w", opts.ServiceName, err)
	}

	return nil
}
