// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/distort-io/distort/internal/auditlog"
	"github.com/distort-io/distort/internal/cli"
	"github.com/distort-io/distort/internal/client"
	"github.com/distort-io/distort/internal/config"
	"github.com/distort-io/distort/internal/logging"
	"github.com/distort-io/distort/internal/protocol"
)

// mediaExtensions mirrors the Registry's builtin extension table. The client
// needs to know a file's class before it ever talks to the Registry, since
// REQ_DISTORT/REQ_RECONNECT carry the class as part of the request.
var mediaExtensions = map[string]bool{
	"wav": true, "png": true, "jpg": true, "jpeg": true, "bmp": true, "tga": true,
}

func classify(filename string) protocol.Class {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if mediaExtensions[ext] {
		return protocol.ClassMedia
	}
	return protocol.ClassText
}

func main() {
	configPath := flag.String("config", "/etc/distort/client.conf", "path to client config file")
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer logCloser.Close()

	audit, err := auditlog.Open(filepath.Join(cfg.FolderPath, "jobs.log"))
	if err != nil {
		logger.Error("opening audit log", "error", err)
		os.Exit(1)
	}
	defer audit.Close()

	c, err := client.New(cfg, logger)
	if err != nil {
		logger.Error("connecting to registry", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	runShell(ctx, c, audit, logger)
}

// runShell reads one command per line from stdin until "exit", ctx
// cancellation, or EOF.
func runShell(ctx context.Context, c *client.Client, audit *auditlog.Writer, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("distort-client ready. Commands: distort <file> <factor>, list, clear, exit")

	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}

		cmd, err := cli.Parse(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			continue
		}

		switch v := cmd.(type) {
		case cli.ExitCommand:
			return
		case cli.ListCommand, cli.ClearCommand:
			fmt.Fprintf(os.Stderr, "%s: not implemented\n", v.Name())
		case cli.DistortCommand:
			class := classify(v.Filename)
			audit.Append("job_started", fmt.Sprintf("%s factor=%d class=%s", v.Filename, v.Factor, class))
			if err := c.SubmitJob(ctx, class, v.Filename, v.Factor); err != nil {
				audit.Append("job_failed", fmt.Sprintf("%s: %v", v.Filename, err))
				fmt.Fprintf(os.Stderr, "distort %s failed: %v\n", v.Filename, err)
				continue
			}
			audit.Append("job_finished", v.Filename)
			fmt.Printf("distorted_%s is ready\n", v.Filename)
		}

		if c.RegistryDead() {
			logger.Error("registry connection lost, exiting")
			return
		}
	}
}
