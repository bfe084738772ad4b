/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/server"
)

func main() {
	os.Exit(run())
}

// run owns the process lifetime so deferred logger and signal cleanup
// happen before main picks the exit code.
func run() int {
	loaded, err := config.LoadEnvFiles(config.DefaultEnvFiles...)
	if err != nil {
		log.Printf("Failed to load env files: %v", err)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	if err := logging.InitializeWithConfig(logging.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		log.Printf("Failed to initialize logging: %v", err)
		return 1
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		logging.LogError(err, "Failed to create server")
		return 1
	}

	logging.Sugar.Infow("🚀 loqa-speech starting",
		"http_port", cfg.Server.Port,
		"grpc_port", cfg.Server.GRPCPort,
		"db_path", cfg.Server.DBPath,
		"env_files", loaded,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	code := 0
	select {
	case err := <-errCh:
		if err != nil {
			logging.LogError(err, "Server failed")
			code = 1
		}
	case <-ctx.Done():
	}

	if err := srv.Stop(); err != nil {
		logging.LogError(err, "Shutdown incomplete")
		return 1
	}
	return code
}
