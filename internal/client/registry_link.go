// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/distort-io/distort/internal/config"
	"github.com/distort-io/distort/internal/protocol"
)

// errNoWorker marks a RequestPrimary/Reconnect failure as job-ending rather
// than recoverable: the Registry itself answered, just with "nobody can run
// this job", so no amount of reconnecting helps.
var errNoWorker = errors.New("client: no worker available")

// registryLink owns the one TCP connection a Client keeps open to the
// Registry for its whole lifetime. REQ_DISTORT/REQ_RECONNECT round trips are
// serialized behind a mutex so the at-most-one-job-per-class concurrency
// the Client allows never produces interleaved reads on this shared socket.
// A failed write or read marks the link dead, which is this Client's
// passive liveness signal — every in-flight job checks it at each
// suspension point and aborts rather than keep retrying a registry that is
// gone.
type registryLink struct {
	mu   sync.Mutex
	conn net.Conn
	dead atomic.Bool
}

// dialRegistryLink performs the CONN_CLIENT handshake and returns a ready
// link.
func dialRegistryLink(cfg *config.ClientConfig) (*registryLink, error) {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", cfg.RegistryIP, cfg.RegistryPort))
	if err != nil {
		return nil, fmt.Errorf("connecting to registry: %w", err)
	}

	localIP, _, _ := net.SplitHostPort(conn.LocalAddr().String())
	req := protocol.EncodeConnClient(cfg.Username, localIP, 0)
	if err := protocol.WriteFrame(conn, protocol.New(protocol.ConnClient, req)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending CONN_CLIENT: %w", err)
	}

	ack, outcome, err := protocol.ReadFrame(conn)
	if outcome != protocol.Ok {
		conn.Close()
		return nil, fmt.Errorf("awaiting CONN_CLIENT ack: outcome=%v: %w", outcome, err)
	}
	if ack.Text() == protocol.PayloadConnKO {
		conn.Close()
		return nil, fmt.Errorf("registry rejected CONN_CLIENT")
	}

	return &registryLink{conn: conn}, nil
}

// Dead reports whether this link has observed a transport failure.
func (l *registryLink) Dead() bool {
	return l.dead.Load()
}

// Close releases the underlying connection on an orderly client shutdown.
func (l *registryLink) Close() error {
	return l.conn.Close()
}

// request performs one REQ_DISTORT or REQ_RECONNECT round trip.
func (l *registryLink) request(frameType protocol.Type, class protocol.Class, filename string) (ip string, port int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	payload := protocol.EncodeRegistryDistortRequest(class, filename)
	if err := protocol.WriteFrame(l.conn, protocol.New(frameType, payload)); err != nil {
		l.dead.Store(true)
		return "", 0, fmt.Errorf("sending %s: %w", frameType, err)
	}

	f, outcome, err := protocol.ReadFrame(l.conn)
	if outcome != protocol.Ok {
		l.dead.Store(true)
		return "", 0, fmt.Errorf("awaiting %s reply: outcome=%v: %w", frameType, outcome, err)
	}

	switch f.Text() {
	case protocol.PayloadDistortKO:
		return "", 0, fmt.Errorf("%w: no worker of class %s is connected", errNoWorker, class)
	case protocol.PayloadMediaKO:
		return "", 0, fmt.Errorf("%w: %s is not a supported file type for class %s", errNoWorker, filename, class)
	}

	reply, err := protocol.DecodeRegistryDistortReply(f.Data)
	if err != nil {
		return "", 0, fmt.Errorf("decoding %s reply: %w", frameType, err)
	}
	return reply.IP, reply.Port, nil
}
