// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

// Package worker implements the distortion worker: it registers with the
// Registry, records when the Registry assigns it primary, and runs one job
// state machine per accepted Client connection (RecvMeta through Bye). Jobs
// are accepted whether or not the worker is primary.
package worker

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/distort-io/distort/internal/checkpoint"
	"github.com/distort-io/distort/internal/config"
	"github.com/distort-io/distort/internal/protocol"
)

// Worker is one worker process: one class membership, one Registry
// connection, one listen socket for Client jobs.
type Worker struct {
	cfg      *config.WorkerConfig
	logger   *slog.Logger
	checks   *checkpoint.Store
	health   *HealthSampler
	classReg *ClassRegistration

	mu        sync.Mutex
	regConn   net.Conn
	isPrimary bool
	regDead   atomic.Bool

	wg       sync.WaitGroup
	inFlight atomic.Int32
}

// New builds a Worker from its loaded config. It registers class membership
// immediately so a concurrent worker's shutdown decision sees it.
func New(cfg *config.WorkerConfig, logger *slog.Logger) (*Worker, error) {
	store, err := checkpoint.NewStore(cfg.FolderPath + "/.checkpoints")
	if err != nil {
		return nil, err
	}
	classReg, err := NewClassRegistration(cfg.ParkingDir, cfg.Class, xid.New().String())
	if err != nil {
		return nil, fmt.Errorf("registering class membership: %w", err)
	}
	return &Worker{
		cfg:      cfg,
		logger:   logger,
		checks:   store,
		health:   NewHealthSampler(cfg.FolderPath, logger),
		classReg: classReg,
	}, nil
}

// Run connects to the Registry, starts serving Client job connections, and
// blocks until ctx is canceled. On cancellation it stops accepting new jobs
// and waits for in-flight ones to park or discard before returning.
func (w *Worker) Run(ctx context.Context) error {
	w.health.Start(30 * time.Second)
	defer w.health.Stop()
	defer w.classReg.Close()

	if err := w.connectRegistry(ctx); err != nil {
		return err
	}
	defer w.regConn.Close()

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", w.cfg.ListenIP, w.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", w.cfg.ListenIP, w.cfg.ListenPort, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	w.logger.Info("worker listening", "address", ln.Addr().String(), "class", w.cfg.Class)

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				w.Drain()
				return nil
			default:
				consecutiveErrors++
				w.logger.Error("accepting job connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}
		consecutiveErrors = 0
		w.inFlight.Add(1)
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.inFlight.Add(-1)
			w.handleConn(ctx, conn)
		}()
	}
}

// Drain is the worker's shutdown path once the listener has stopped
// accepting: original_source's Worker/Modules/Exit took a different path
// depending on whether a job was mid-flight when the exit signal landed
// (park-or-discard the working file) versus idle (nothing to reconcile).
// Drain preserves that split — an idle worker returns immediately, a
// mid-job worker logs and waits for every handleConn goroutine to reach
// its own park-vs-discard outcome (see onInterrupted) before returning.
func (w *Worker) Drain() {
	if n := w.inFlight.Load(); n == 0 {
		w.logger.Info("draining worker: idle, nothing in flight")
	} else {
		w.logger.Info("draining worker: waiting for in-flight jobs to park or finish", "in_flight", n)
	}
	w.wg.Wait()
}

// handleConn dispatches one accepted connection to either the raw PING
// health dialogue or the REQ_DISTORT job state machine, by peeking the
// first four bytes without consuming them from a job connection's stream.
func (w *Worker) handleConn(ctx context.Context, conn net.Conn) {
	pc := &peekedConn{Conn: conn, r: bufio.NewReader(conn)}
	prefix, err := pc.r.Peek(len(pingRequest))
	if err == nil && string(prefix) == pingRequest {
		if err := w.health.ServeHealthCheck(pc); err != nil {
			w.logger.Warn("serving health check", "error", err)
		}
		return
	}
	w.handleJob(ctx, pc)
}

// peekedConn replays bytes already buffered by a bufio.Reader ahead of the
// underlying connection, so a connection dispatch decision doesn't lose the
// bytes it inspected to make it.
type peekedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *peekedConn) Read(b []byte) (int, error) { return c.r.Read(b) }

// connectRegistry performs the CONN_WORKER handshake and starts the
// background reader that watches for ASSIGN_PRIMARY and registry loss.
func (w *Worker) connectRegistry(ctx context.Context) error {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", w.cfg.RegistryIP, w.cfg.RegistryPort))
	if err != nil {
		return fmt.Errorf("connecting to registry: %w", err)
	}

	req := protocol.EncodeConnWorker(w.cfg.Class, w.cfg.ListenIP, w.cfg.ListenPort)
	if err := protocol.WriteFrame(conn, protocol.New(protocol.ConnWorker, req)); err != nil {
		conn.Close()
		return fmt.Errorf("sending CONN_WORKER: %w", err)
	}

	ack, outcome, err := protocol.ReadFrame(conn)
	if outcome != protocol.Ok {
		conn.Close()
		return fmt.Errorf("awaiting CONN_WORKER ack: outcome=%v err=%w", outcome, err)
	}
	if ack.Text() == protocol.PayloadConnKO {
		conn.Close()
		return fmt.Errorf("registry rejected CONN_WORKER")
	}

	w.regConn = conn
	w.logger.Info("registered with registry", "class", w.cfg.Class)

	go w.watchRegistry(ctx)
	return nil
}

// watchRegistry is the worker's passive liveness-monitor task: it owns the
// only read path on the Registry connection, applying ASSIGN_PRIMARY as it
// arrives and flipping regDead the moment the connection is lost.
func (w *Worker) watchRegistry(ctx context.Context) {
	for {
		f, outcome, err := protocol.ReadFrame(w.regConn)
		if outcome != protocol.Ok {
			if outcome != protocol.Interrupted {
				w.logger.Warn("lost registry connection", "outcome", outcome, "error", err)
			}
			w.regDead.Store(true)
			return
		}
		switch f.Type {
		case protocol.AssignPrimary:
			w.mu.Lock()
			w.isPrimary = true
			w.mu.Unlock()
			w.logger.Info("assigned primary", "class", w.cfg.Class)
		default:
			w.logger.Warn("unexpected frame from registry", "type", f.Type.String())
		}
	}
}

// IsPrimary reports whether the Registry has assigned this worker primary
// for its class.
func (w *Worker) IsPrimary() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isPrimary
}

// RegistryDead reports whether the liveness monitor has observed the
// Registry connection fail.
func (w *Worker) RegistryDead() bool {
	return w.regDead.Load()
}
