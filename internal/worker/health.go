// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package worker

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
)

// HostStats is this worker's last-sampled host health. DiskFreeBytes is
// reported in the PING health reply; LoadAverage1 is sampled but not
// reported anywhere. It never feeds into election — the Registry picks uniformly at random
// regardless of load.
type HostStats struct {
	DiskFreeBytes uint64
	LoadAverage1  float64
}

// HealthSampler periodically refreshes HostStats in the background.
type HealthSampler struct {
	logger *slog.Logger
	path   string

	mu    sync.RWMutex
	stats HostStats
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewHealthSampler builds a sampler reporting free space on the filesystem
// holding path (the worker's folder_path).
func NewHealthSampler(path string, logger *slog.Logger) *HealthSampler {
	return &HealthSampler{
		logger: logger.With("component", "health"),
		path:   path,
		stop:   make(chan struct{}),
	}
}

// Start begins periodic sampling every interval.
func (h *HealthSampler) Start(interval time.Duration) {
	h.collect()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				h.collect()
			}
		}
	}()
}

// Stop halts sampling.
func (h *HealthSampler) Stop() {
	close(h.stop)
	h.wg.Wait()
}

// Stats returns the most recently sampled host stats.
func (h *HealthSampler) Stats() HostStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

func (h *HealthSampler) collect() {
	var stats HostStats

	if d, err := disk.Usage(h.path); err == nil {
		stats.DiskFreeBytes = d.Free
	} else {
		h.logger.Debug("sampling disk usage", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		stats.LoadAverage1 = l.Load1
	} else {
		h.logger.Debug("sampling load average", "error", err)
	}

	h.mu.Lock()
	h.stats = stats
	h.mu.Unlock()
}

// pingRequest is the raw health-check dialogue's request marker: no frame
// envelope, just four literal bytes, for an operator tool that does not
// want to construct a full 256-byte frame just to ask "are you alive".
const pingRequest = "PING"

// ServeHealthCheck answers one raw PING dialogue on conn: a 1-byte status
// (0 = healthy) followed by the worker's current free-disk-space reading as
// 8 bytes big-endian.
func (h *HealthSampler) ServeHealthCheck(conn net.Conn) error {
	defer conn.Close()

	r := bufio.NewReader(conn)
	buf := make([]byte, len(pingRequest))
	if _, err := r.Read(buf); err != nil {
		return fmt.Errorf("reading ping: %w", err)
	}
	if string(buf) != pingRequest {
		return fmt.Errorf("unexpected health-check request %q", buf)
	}

	reply := make([]byte, 9)
	reply[0] = 0
	binary.BigEndian.PutUint64(reply[1:], h.Stats().DiskFreeBytes)
	_, err := conn.Write(reply)
	return err
}
