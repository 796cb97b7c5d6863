// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/xid"

	"github.com/distort-io/distort/internal/checkpoint"
	"github.com/distort-io/distort/internal/config"
	"github.com/distort-io/distort/internal/protocol"
)

// connRole distinguishes which listener accepted a connection, since the
// same frame type space is interpreted differently depending on the peer.
type connRole int

const (
	roleClient connRole = iota
	roleWorker
)

// event is what a per-connection reader goroutine hands to the single event
// loop: one decoded frame, or a close/error condition, from one connection.
type event struct {
	conn    net.Conn
	role    connRole
	frame   *protocol.Frame
	outcome protocol.Outcome
	corr    string
}

// Registry is the central coordinator process.
type Registry struct {
	cfg     *config.RegistryConfig
	logger  *slog.Logger
	rosters *Rosters
	exts    *ExtensionTable
	metrics *Metrics
	checks  *checkpoint.Store

	events chan event
	rng    *rand.Rand
}

// New builds a Registry ready to Run.
func New(cfg *config.RegistryConfig, exts *ExtensionTable, logger *slog.Logger) (*Registry, error) {
	store, err := checkpoint.NewStore(cfg.CheckpointRoot)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store: %w", err)
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		rosters: NewRosters(),
		exts:    exts,
		metrics: NewMetrics(),
		checks:  store,
		events:  make(chan event, 64),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run listens for both clients and workers and processes events until ctx is
// canceled. It blocks until every accept loop and the event loop have
// stopped.
func (reg *Registry) Run(ctx context.Context) error {
	clientLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", reg.cfg.ClientListenIP, reg.cfg.ClientListenPort))
	if err != nil {
		return fmt.Errorf("listening for clients: %w", err)
	}
	defer clientLn.Close()

	workerLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", reg.cfg.WorkerListenIP, reg.cfg.WorkerListenPort))
	if err != nil {
		return fmt.Errorf("listening for workers: %w", err)
	}
	defer workerLn.Close()

	reg.logger.Info("registry listening", "clients", clientLn.Addr(), "workers", workerLn.Addr())

	sweeper, err := reg.startSweeper(ctx)
	if err != nil {
		reg.logger.Warn("checkpoint sweeper disabled", "error", err)
	} else {
		defer sweeper.Stop()
	}

	go func() {
		<-ctx.Done()
		clientLn.Close()
		workerLn.Close()
	}()

	go reg.metrics.Serve(ctx, reg.cfg.MetricsListen, reg.logger)
	go reg.acceptLoop(ctx, clientLn, roleClient)
	go reg.acceptLoop(ctx, workerLn, roleWorker)

	reg.loop(ctx)
	return nil
}

func (reg *Registry) acceptLoop(ctx context.Context, ln net.Listener, role connRole) {
	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				consecutiveErrors++
				reg.logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
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
		go reg.readConn(conn, role)
	}
}

// readConn funnels every frame a connection produces into the single event
// channel, so roster mutation always happens on the loop goroutine. It exits
// (and the connection is considered gone) on the first non-Ok outcome.
func (reg *Registry) readConn(conn net.Conn, role connRole) {
	corr := xid.New().String()
	for {
		f, outcome, _ := protocol.ReadFrame(conn)
		reg.events <- event{conn: conn, role: role, frame: f, outcome: outcome, corr: corr}
		if outcome != protocol.Ok {
			return
		}
	}
}

// loop is the single consumer of reg.events; every roster read and mutation
// in this file happens only from here, so Rosters needs no locking.
func (reg *Registry) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-reg.events:
			reg.handle(ev)
		}
	}
}

func (reg *Registry) handle(ev event) {
	log := reg.logger.With("corr", ev.corr)

	if ev.outcome != protocol.Ok {
		reg.handleDisconnect(ev.conn, log)
		return
	}

	switch ev.frame.Type {
	case protocol.ConnClient:
		reg.handleConnClient(ev, log)
	case protocol.ConnWorker:
		reg.handleConnWorker(ev, log)
	case protocol.RegDistort, protocol.RegReconnect:
		reg.handleDistortRequest(ev, log)
	case protocol.Disconnect:
		reg.handleDisconnect(ev.conn, log)
		ev.conn.Close()
	case protocol.Err:
		// Peer rejected our last frame; it will resend or abort on its own.
	default:
		log.Warn("unexpected frame type from peer", "type", ev.frame.Type.String())
		protocol.WriteErr(ev.conn)
	}
}

func (reg *Registry) handleConnClient(ev event, log *slog.Logger) {
	req, err := protocol.DecodeConnClient(ev.frame.Data)
	if err != nil {
		log.Warn("malformed CONN_CLIENT", "error", err)
		protocol.WriteFrame(ev.conn, protocol.NewString(protocol.ConnClient, protocol.PayloadConnKO))
		return
	}
	reg.rosters.AddClient(&ClientEntry{Username: req.Username, IP: req.IP, Port: req.Port, Conn: ev.conn})
	reg.metrics.ClientsConnected.Inc()
	log.Info("client connected", "username", req.Username, "ip", req.IP, "port", req.Port)
	protocol.WriteFrame(ev.conn, protocol.New(protocol.ConnClient, nil))
}

func (reg *Registry) handleConnWorker(ev event, log *slog.Logger) {
	req, err := protocol.DecodeConnWorker(ev.frame.Data)
	if err != nil {
		log.Warn("malformed CONN_WORKER", "error", err)
		protocol.WriteFrame(ev.conn, protocol.NewString(protocol.ConnWorker, protocol.PayloadConnKO))
		return
	}
	entry := &WorkerEntry{Class: req.Class, IP: req.IP, Port: req.Port, Conn: ev.conn}
	becamePrimary := reg.rosters.AddWorker(entry)
	reg.metrics.WorkersConnected.WithLabelValues(req.Class.String()).Inc()
	log.Info("worker connected", "class", req.Class, "ip", req.IP, "port", req.Port, "primary", becamePrimary)

	protocol.WriteFrame(ev.conn, protocol.New(protocol.ConnWorker, nil))
	if becamePrimary {
		protocol.WriteFrame(ev.conn, protocol.New(protocol.AssignPrimary, nil))
		reg.metrics.Elections.WithLabelValues(req.Class.String()).Inc()
	}
}

func (reg *Registry) handleDistortRequest(ev event, log *slog.Logger) {
	req, err := protocol.DecodeRegistryDistortRequest(ev.frame.Data)
	if err != nil {
		log.Warn("malformed distort request", "error", err)
		protocol.WriteErr(ev.conn)
		return
	}

	class, known := reg.exts.ClassOf(req.Filename)
	if !known {
		protocol.WriteFrame(ev.conn, protocol.NewString(ev.frame.Type, protocol.PayloadMediaKO))
		return
	}
	if class != req.Class {
		protocol.WriteFrame(ev.conn, protocol.NewString(ev.frame.Type, protocol.PayloadMediaKO))
		return
	}

	primary, ok := reg.rosters.Primary(class)
	if !ok {
		protocol.WriteFrame(ev.conn, protocol.NewString(ev.frame.Type, protocol.PayloadDistortKO))
		return
	}

	reply := protocol.EncodeRegistryDistortReply(primary.IP, primary.Port)
	protocol.WriteFrame(ev.conn, protocol.New(ev.frame.Type, reply))
	log.Info("advertised primary", "class", class, "filename", req.Filename, "worker_ip", primary.IP, "worker_port", primary.Port)
}

// handleDisconnect removes conn from whichever roster owns it and, if it was
// a class's primary, runs an election for that class and notifies the
// winner — matching the frame-handling table's DISCONNECT/PeerClosed row.
func (reg *Registry) handleDisconnect(conn net.Conn, log *slog.Logger) {
	if reg.rosters.RemoveClient(conn) {
		reg.metrics.ClientsConnected.Dec()
		log.Info("client disconnected")
		return
	}

	wasPrimary, class, found := reg.rosters.RemoveWorker(conn)
	if !found {
		return
	}
	reg.metrics.WorkersConnected.WithLabelValues(class.String()).Dec()
	log.Info("worker disconnected", "class", class, "was_primary", wasPrimary)

	if !wasPrimary {
		return
	}
	winner, ok := reg.rosters.electPrimary(class, reg.rng)
	if !ok {
		log.Info("primary lost, no surviving worker to elect", "class", class)
		return
	}
	reg.metrics.Elections.WithLabelValues(class.String()).Inc()
	log.Info("elected new primary", "class", class, "worker_ip", winner.IP, "worker_port", winner.Port)
	protocol.WriteFrame(winner.Conn, protocol.New(protocol.AssignPrimary, nil))
}

// startSweeper schedules the orphaned-checkpoint sweep: every checkpoint
// whose stage is Finished belongs to a job that completed but was never
// cleaned up, and is deleted. Checkpoints in any other stage are kept; the
// sweep does not compare checkpoints against live client connections.
func (reg *Registry) startSweeper(ctx context.Context) (*cron.Cron, error) {
	if reg.cfg.SweepSchedule == "" {
		return nil, fmt.Errorf("no sweep schedule configured")
	}
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(reg.logger.Handler(), slog.LevelDebug))))
	_, err := c.AddFunc(reg.cfg.SweepSchedule, func() { reg.sweepOrphanedCheckpoints() })
	if err != nil {
		return nil, fmt.Errorf("scheduling checkpoint sweep %q: %w", reg.cfg.SweepSchedule, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c, nil
}

func (reg *Registry) sweepOrphanedCheckpoints() {
	records, err := reg.checks.List()
	if err != nil {
		reg.logger.Error("sweeping checkpoints", "error", err)
		return
	}
	swept := 0
	for _, rec := range records {
		if rec.Stage == checkpoint.StageFinished {
			if err := reg.checks.Delete(rec.Username, rec.Filename); err == nil {
				swept++
			}
		}
	}
	if swept > 0 {
		reg.logger.Info("swept orphaned checkpoints", "count", swept)
	}
}
