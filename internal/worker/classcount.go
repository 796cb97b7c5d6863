// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package worker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/distort-io/distort/internal/protocol"
)

// ClassRegistration answers "am I the last worker of my class on this host"
// for the SIGINT park-vs-discard decision. Every worker process of a class
// registers a marker file under a directory shared by all workers of that
// class, rather than coordinating through a named, host-shared mutex or
// semaphore. A directory listing gives the same answer without requiring
// every worker process to agree on a lock's name in advance.
type ClassRegistration struct {
	dir string
	id  string
}

// NewClassRegistration registers id as an active worker of class under
// parkingDir, the directory already shared by every worker of that class.
func NewClassRegistration(parkingDir string, class protocol.Class, id string) (*ClassRegistration, error) {
	dir := filepath.Join(parkingDir, ".active-workers", class.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating class registration directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, id)
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return nil, fmt.Errorf("registering worker %s: %w", path, err)
	}
	return &ClassRegistration{dir: dir, id: id}, nil
}

// IsLast reports whether this worker is the only registered member of its
// class left on the host. A listing failure is treated as "yes" — if the
// registration directory itself is gone, there is nothing left to share
// parked jobs with.
func (c *ClassRegistration) IsLast() bool {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return true
	}
	return len(entries) <= 1
}

// Close deregisters this worker.
func (c *ClassRegistration) Close() error {
	if err := os.Remove(filepath.Join(c.dir, c.id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deregistering worker %s: %w", c.id, err)
	}
	return nil
}
