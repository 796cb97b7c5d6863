// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/distort-io/distort/internal/config"
	"github.com/distort-io/distort/internal/logging"
	"github.com/distort-io/distort/internal/registry"
)

func main() {
	configPath := flag.String("config", "/etc/distort/registry.conf", "path to registry config file")
	flag.Parse()

	cfg, err := config.LoadRegistryConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer logCloser.Close()

	overrides, err := config.LoadExtensionOverrides(cfg.ExtensionsFile)
	if err != nil {
		logger.Error("loading extension overrides", "error", err)
		os.Exit(1)
	}

	reg, err := registry.New(cfg, registry.NewExtensionTable(overrides), logger)
	if err != nil {
		logger.Error("building registry", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := reg.Run(ctx); err != nil {
		logger.Error("registry error", "error", err)
		os.Exit(1)
	}
}
