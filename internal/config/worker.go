// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package config

import (
	"fmt"

	"github.com/distort-io/distort/internal/protocol"
)

// WorkerConfig is read by distort-worker. Line order on disk:
//
//	1. registry_ip
//	2. registry_port
//	3. listen_ip     (address this worker advertises to the Registry)
//	4. listen_port
//	5. folder_path   (working directory for in-flight jobs)
//	6. class         ("Text" or "Media")
type WorkerConfig struct {
	RegistryIP   string
	RegistryPort int
	ListenIP     string
	ListenPort   int
	FolderPath   string
	Class        protocol.Class
	Logging      LoggingInfo

	// ParkingDir is where a parked job's working file lives so any worker of
	// the same class on the same host can attach to it later. The job's
	// checkpoint stays under FolderPath/.checkpoints. Derived from FolderPath
	// by the loader.
	ParkingDir string
}

// LoadWorkerConfig reads and validates a distort-worker configuration file.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	r, closeFn, err := newLineReader(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	registryIP, err := r.next("registry_ip")
	if err != nil {
		return nil, err
	}
	registryPort, err := r.nextInt("registry_port")
	if err != nil {
		return nil, err
	}
	listenIP, err := r.next("listen_ip")
	if err != nil {
		return nil, err
	}
	listenPort, err := r.nextInt("listen_port")
	if err != nil {
		return nil, err
	}
	folderPath, err := r.next("folder_path")
	if err != nil {
		return nil, err
	}
	classStr, err := r.next("class")
	if err != nil {
		return nil, err
	}
	class, err := protocol.ParseClass(classStr)
	if err != nil {
		return nil, fmt.Errorf("parsing class: %w", err)
	}

	cfg := &WorkerConfig{
		RegistryIP:   registryIP,
		RegistryPort: registryPort,
		ListenIP:     listenIP,
		ListenPort:   listenPort,
		FolderPath:   folderPath,
		Class:        class,
		Logging:      LoggingInfo{Level: "info", Format: "json"},
		ParkingDir:   folderPath + "/.parked",
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating worker config: %w", err)
	}
	return cfg, nil
}

func (c *WorkerConfig) validate() error {
	if c.RegistryIP == "" {
		return fmt.Errorf("registry_ip is required")
	}
	if c.RegistryPort <= 0 || c.RegistryPort > 65535 {
		return fmt.Errorf("registry_port must be between 1 and 65535, got %d", c.RegistryPort)
	}
	if c.ListenIP == "" {
		return fmt.Errorf("listen_ip is required")
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port must be between 1 and 65535, got %d", c.ListenPort)
	}
	if c.FolderPath == "" {
		return fmt.Errorf("folder_path is required")
	}
	return nil
}
