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
	"flag"
	"fmt"
	"log"

	"github.com/carverauto/racegate/pkg/config"
	"github.com/carverauto/racegate/pkg/lifecycle"
	"github.com/carverauto/racegate/pkg/version"
)

var errFailedToLoadConfig = errors.New("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/racegate/racegate.json", "Path to racegate config file")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String(serviceName))

		return nil
	}

	ctx := context.Background()

	var cfg Config

	kvMgr, err := config.NewKVManagerFromEnv()
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	cfgLoader := config.NewConfig(nil)
	kvMgr.SetupConfigLoader(cfgLoader)

	err = cfgLoader.LoadAndValidate(ctx, *configPath, &cfg)

	if closeErr := kvMgr.Close(); closeErr != nil {
		log.Printf("Failed to close config store: %v", closeErr)
	}

	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	mainLogger, err := lifecycle.CreateComponentLogger(ctx, serviceName, cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			log.Printf("Failed to shutdown logger: %v", err)
		}
	}()

	svc := newGateway(&cfg, mainLogger)

	return lifecycle.RunService(ctx, &lifecycle.ServiceOptions{
		ServiceName: serviceName,
		Service:     svc,
		Logger:      mainLogger,
	})
}
