// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

// Package auditlog defines the append-only job-event trail each role can
// write to, independent of its structured (slog) logging: one line per
// significant job event, without standing up a separate audit-log process.
package auditlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Writer appends one tab-separated line per event: timestamp, event name,
// free-form detail.
type Writer struct {
	mu sync.Mutex
	f  *os.File
}

// Open appends to (creating if necessary) the audit log at path.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &Writer{f: f}, nil
}

// Append records one event. Safe for concurrent use.
func (w *Writer) Append(event, detail string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	line := fmt.Sprintf("%s\t%s\t%s\n", time.Now().UTC().Format(time.RFC3339), event, detail)
	if _, err := w.f.WriteString(line); err != nil {
		return fmt.Errorf("appending audit event %s: %w", event, err)
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}
