// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

// Package config loads the per-role configuration files read by
// distort-client, distort-worker and distort-registry. The wire-compatible
// contract is intentionally plain: one value per line, fixed order per role
// — not YAML — because fixtures and test harnesses pin the exact line order.
// Field validation is deliberately narrow: a username containing '&' is
// stripped of it silently rather than rejected, since '&' is the wire
// payload field separator.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// lineReader reads successive non-empty-file lines from a config file in a
// fixed order, one field per line.
type lineReader struct {
	scanner *bufio.Scanner
	path    string
	n       int
}

func newLineReader(path string) (*lineReader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening config %s: %w", path, err)
	}
	return &lineReader{scanner: bufio.NewScanner(f), path: path}, f.Close, nil
}

func (r *lineReader) next(field string) (string, error) {
	r.n++
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", fmt.Errorf("reading %s line %d (%s): %w", r.path, r.n, field, err)
		}
		return "", fmt.Errorf("reading %s line %d (%s): unexpected end of file", r.path, r.n, field)
	}
	return strings.TrimRight(r.scanner.Text(), "\r"), nil
}

func (r *lineReader) nextInt(field string) (int, error) {
	s, err := r.next(field)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s line %d (%s): %q is not an integer", r.path, r.n, field, s)
	}
	return v, nil
}

// stripAmpersand removes '&' from a field silently, since '&' is the wire
// payload field separator.
func stripAmpersand(s string) string {
	return strings.ReplaceAll(s, "&", "")
}
