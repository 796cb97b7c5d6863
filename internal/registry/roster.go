// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

// Package registry implements the central coordinator: it tracks connected
// clients and workers, elects and advertises one primary worker per media
// class, and routes clients to their class's primary.
//
// All roster state is owned exclusively by the single goroutine running
// Registry.Run's event loop (see registry.go) — every accepted connection's
// reads happen on their own goroutine, but the frames they produce are
// funneled through one channel and processed one at a time, so the roster
// types here need no locking of their own.
package registry

import (
	"net"

	"github.com/distort-io/distort/internal/protocol"
)

// WorkerEntry is one worker roster slot.
type WorkerEntry struct {
	Class     protocol.Class
	IP        string
	Port      int
	Conn      net.Conn
	IsPrimary bool
}

// ClientEntry is one client roster slot.
type ClientEntry struct {
	Username string
	IP       string
	Port     int
	Conn     net.Conn
}

// Rosters holds every class's worker roster and the single client roster.
type Rosters struct {
	workers map[protocol.Class][]*WorkerEntry
	clients map[net.Conn]*ClientEntry
}

// NewRosters returns an empty Rosters.
func NewRosters() *Rosters {
	return &Rosters{
		workers: map[protocol.Class][]*WorkerEntry{
			protocol.ClassText:  {},
			protocol.ClassMedia: {},
		},
		clients: map[net.Conn]*ClientEntry{},
	}
}

// AddWorker appends a new worker to its class roster. If the roster was
// empty, the new entry becomes primary and the caller is told so via the
// returned bool, so it can send ASSIGN_PRIMARY.
func (r *Rosters) AddWorker(e *WorkerEntry) (becamePrimary bool) {
	roster := r.workers[e.Class]
	if len(roster) == 0 {
		e.IsPrimary = true
		becamePrimary = true
	}
	r.workers[e.Class] = append(roster, e)
	return becamePrimary
}

// RemoveWorker deletes the entry owning conn, if any, and reports whether it
// was the primary of its class plus that class, so the caller can trigger an
// election.
func (r *Rosters) RemoveWorker(conn net.Conn) (wasPrimary bool, class protocol.Class, found bool) {
	for cls, roster := range r.workers {
		for i, e := range roster {
			if e.Conn == conn {
				r.workers[cls] = append(roster[:i], roster[i+1:]...)
				return e.IsPrimary, cls, true
			}
		}
	}
	return false, 0, false
}

// Primary returns the current primary of a class, if any.
func (r *Rosters) Primary(class protocol.Class) (*WorkerEntry, bool) {
	for _, e := range r.workers[class] {
		if e.IsPrimary {
			return e, true
		}
	}
	return nil, false
}

// WorkersOf returns the live roster slice for a class (not a copy — callers
// in this package only, never mutate in place from outside the event loop).
func (r *Rosters) WorkersOf(class protocol.Class) []*WorkerEntry {
	return r.workers[class]
}

// AddClient registers a client connection.
func (r *Rosters) AddClient(e *ClientEntry) {
	r.clients[e.Conn] = e
}

// RemoveClient deletes the client entry owning conn, if any.
func (r *Rosters) RemoveClient(conn net.Conn) (found bool) {
	if _, ok := r.clients[conn]; ok {
		delete(r.clients, conn)
		return true
	}
	return false
}
