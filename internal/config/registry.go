// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RegistryConfig is read by distort-registry. Line order on disk:
//
//	1. client_listen_ip
//	2. client_listen_port
//	3. worker_listen_ip
//	4. worker_listen_port
//
// Everything below this point (metrics, the checkpoint sweep schedule, and
// the optional extension-table override) is registry-local operational
// tuning that LoadRegistryConfig does not read from the file: it sets
// SweepSchedule and CheckpointRoot to fixed defaults and leaves
// MetricsListen and ExtensionsFile empty. ExtensionsFile, when set, is
// parsed as YAML.
type RegistryConfig struct {
	ClientListenIP   string
	ClientListenPort int
	WorkerListenIP   string
	WorkerListenPort int

	MetricsListen  string // empty disables the /metrics endpoint
	SweepSchedule  string // cron expression for the orphaned-checkpoint sweep
	CheckpointRoot string // checkpoint directory the registry's sweep scans
	ExtensionsFile string // optional YAML override of the extension→class table
	Logging        LoggingInfo
}

// LoadRegistryConfig reads and validates a distort-registry configuration file.
func LoadRegistryConfig(path string) (*RegistryConfig, error) {
	r, closeFn, err := newLineReader(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	clientIP, err := r.next("client_listen_ip")
	if err != nil {
		return nil, err
	}
	clientPort, err := r.nextInt("client_listen_port")
	if err != nil {
		return nil, err
	}
	workerIP, err := r.next("worker_listen_ip")
	if err != nil {
		return nil, err
	}
	workerPort, err := r.nextInt("worker_listen_port")
	if err != nil {
		return nil, err
	}

	cfg := &RegistryConfig{
		ClientListenIP:   clientIP,
		ClientListenPort: clientPort,
		WorkerListenIP:   workerIP,
		WorkerListenPort: workerPort,
		SweepSchedule:    "@every 10m",
		CheckpointRoot:   "/var/lib/distort-registry/checkpoints",
		Logging:          LoggingInfo{Level: "info", Format: "json"},
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating registry config: %w", err)
	}
	return cfg, nil
}

func (c *RegistryConfig) validate() error {
	if c.ClientListenIP == "" {
		return fmt.Errorf("client_listen_ip is required")
	}
	if c.ClientListenPort <= 0 || c.ClientListenPort > 65535 {
		return fmt.Errorf("client_listen_port must be between 1 and 65535, got %d", c.ClientListenPort)
	}
	if c.WorkerListenIP == "" {
		return fmt.Errorf("worker_listen_ip is required")
	}
	if c.WorkerListenPort <= 0 || c.WorkerListenPort > 65535 {
		return fmt.Errorf("worker_listen_port must be between 1 and 65535, got %d", c.WorkerListenPort)
	}
	return nil
}

// ExtensionOverrides is the shape of the optional YAML file named by
// RegistryConfig.ExtensionsFile, letting operators add extensions to the
// built-in class table without a code change.
type ExtensionOverrides struct {
	Text  []string `yaml:"text"`
	Media []string `yaml:"media"`
}

// LoadExtensionOverrides reads the optional extensions override file. A
// missing path is not an error: it simply means no overrides apply.
func LoadExtensionOverrides(path string) (*ExtensionOverrides, error) {
	if path == "" {
		return &ExtensionOverrides{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ExtensionOverrides{}, nil
		}
		return nil, fmt.Errorf("reading extensions override %s: %w", path, err)
	}
	var out ExtensionOverrides
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing extensions override %s: %w", path, err)
	}
	for i, ext := range out.Text {
		out.Text[i] = strings.ToLower(ext)
	}
	for i, ext := range out.Media {
		out.Media[i] = strings.ToLower(ext)
	}
	return &out, nil
}

// LoggingInfo is the shared logging configuration block for every role.
type LoggingInfo struct {
	Level  string
	Format string
}
