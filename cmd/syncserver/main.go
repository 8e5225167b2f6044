// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command syncserver starts the task sync HTTP and websocket server.
//
// It reads configuration from environment variables and runs until
// SIGINT or SIGTERM, then shuts down gracefully.
//
// # Environment Variables
//
//   - SYNC_PORT: HTTP server port (default: 12310)
//   - SYNC_DATA_DIR: badger database directory (default: ./data)
//   - SYNC_IN_MEMORY: "true" to skip persistence
//   - SYNC_SESSION_BUFFER: outbound frames queued per session (default: 256)
//   - SYNC_PING_INTERVAL: websocket keepalive period (default: 30s)
//   - SYNC_UPGRADE_RATE: websocket upgrades admitted per second (default: 50)
//   - SYNC_UPGRADE_BURST: upgrade burst size (default: 100)
//   - SYNC_LOG_LEVEL: debug, info, warn, error (default: info)
//   - SYNC_LOG_DIR: optional directory for daily JSON log files
//   - OTEL_TRACES_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, none (default: prometheus)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP collector (default: localhost:4317)
//   - GIN_MODE: debug or release (default: release)
//
// # Usage
//
//	go build -o syncserver ./cmd/syncserver
//	SYNC_DATA_DIR=/var/lib/tasksync ./syncserver
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianSync/pkg/logging"
	"github.com/AleutianAI/AleutianSync/pkg/telemetry"
	"github.com/AleutianAI/AleutianSync/services/syncserver"
)

func main() {
	level, err := logging.ParseLevel(getEnvString("SYNC_LOG_LEVEL", "info"))
	if err != nil {
		log.Printf("invalid SYNC_LOG_LEVEL, using info: %v", err)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "syncserver",
		JSON:    true,
		LogDir:  os.Getenv("SYNC_LOG_DIR"),
	})
	defer logger.Close()

	cfg := syncserver.Config{
		Port:          getEnvInt("SYNC_PORT", 12310),
		DataDir:       getEnvString("SYNC_DATA_DIR", "./data"),
		InMemory:      getEnvBool("SYNC_IN_MEMORY", false),
		SessionBuffer: getEnvInt("SYNC_SESSION_BUFFER", 256),
		PingInterval:  getEnvDuration("SYNC_PING_INTERVAL", 30*time.Second),
		UpgradeRate:   getEnvFloat("SYNC_UPGRADE_RATE", 50),
		UpgradeBurst:  getEnvInt("SYNC_UPGRADE_BURST", 100),
		Telemetry:     telemetry.DefaultConfig(),
		GinMode:       getEnvString("GIN_MODE", "release"),
		Logger:        logger.Slog(),
	}

	logger.Info("Starting syncserver",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"in_memory", cfg.InMemory,
		"trace_exporter", cfg.Telemetry.TraceExporter,
		"metric_exporter", cfg.Telemetry.MetricExporter,
	)

	svc, err := syncserver.New(cfg)
	if err != nil {
		logger.Error("Failed to create syncserver", "error", err)
		logger.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		logger.Error("Syncserver error", "error", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Info("Syncserver stopped")
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
