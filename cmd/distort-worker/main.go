// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/distort-io/distort/internal/config"
	"github.com/distort-io/distort/internal/logging"
	"github.com/distort-io/distort/internal/worker"
)

func main() {
	// distort-worker health <address> dials a running worker's job port and
	// prints its PING reply, bypassing the normal config/daemon startup.
	if len(os.Args) >= 3 && os.Args[1] == "health" {
		if err := runHealthCheck(os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "/etc/distort/worker.conf", "path to worker config file")
	flag.Parse()

	cfg, err := config.LoadWorkerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer logCloser.Close()

	w, err := worker.New(cfg, logger)
	if err != nil {
		logger.Error("building worker", "error", err)
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

	if err := w.Run(ctx); err != nil {
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}
}

// runHealthCheck dials address, sends the raw PING health dialogue, and
// prints the worker's reported status and free disk space.
func runHealthCheck(address string) error {
	conn, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", address, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("PING")); err != nil {
		return fmt.Errorf("sending ping: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	reply := make([]byte, 9)
	total := 0
	for total < len(reply) {
		n, err := conn.Read(reply[total:])
		total += n
		if err != nil {
			return fmt.Errorf("reading reply: %w", err)
		}
	}

	status := reply[0]
	diskFree := binary.BigEndian.Uint64(reply[1:])
	if status != 0 {
		fmt.Printf("unhealthy (status=%d), disk_free=%d bytes\n", status, diskFree)
		os.Exit(1)
	}
	fmt.Printf("healthy, disk_free=%d bytes\n", diskFree)
	return nil
}
