// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

// Package client implements the distortion client: one long-lived Registry
// connection, and one job state machine per submitted file (RequestPrimary
// through VerifyAndBye).
package client

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/distort-io/distort/internal/config"
	"github.com/distort-io/distort/internal/protocol"
)

// Client is one distortion client process: one Registry link shared by
// every job it submits, and a per-class lock enforcing that at most one job
// per media class runs at a time.
type Client struct {
	cfg    *config.ClientConfig
	logger *slog.Logger
	link   *registryLink

	classLocks [2]sync.Mutex
}

// New connects to the Registry and performs the CONN_CLIENT handshake.
func New(cfg *config.ClientConfig, logger *slog.Logger) (*Client, error) {
	link, err := dialRegistryLink(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to registry", "username", cfg.Username)
	return &Client{cfg: cfg, logger: logger, link: link}, nil
}

// Close releases the Registry connection.
func (c *Client) Close() error {
	return c.link.Close()
}

// RegistryDead reports whether the liveness link has observed the Registry
// connection fail.
func (c *Client) RegistryDead() bool {
	return c.link.Dead()
}

// SubmitJob distorts one file already present under the client's working
// directory, blocking until the job finishes, fails permanently, or ctx is
// canceled. factor is the 1-9 distortion strength the Registry's chosen
// worker applies.
func (c *Client) SubmitJob(ctx context.Context, class protocol.Class, filename string, factor int) error {
	lock := &c.classLocks[class]
	lock.Lock()
	defer lock.Unlock()

	job := &Job{
		client:    c,
		class:     class,
		filename:  filename,
		localPath: filepath.Join(c.cfg.FolderPath, filename),
		factor:    factor,
	}
	if err := job.Run(ctx); err != nil {
		c.logger.Error("job failed", "filename", filename, "error", err)
		return fmt.Errorf("submitting %s: %w", filename, err)
	}
	c.logger.Info("job finished", "filename", filename)
	return nil
}
