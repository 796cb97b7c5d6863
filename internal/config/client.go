// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package config

import "fmt"

// ClientConfig is read by distort-client. Line order on disk:
//
//	1. username
//	2. folder_path (local working directory for original/distorted files)
//	3. registry_ip
//	4. registry_port
type ClientConfig struct {
	Username     string
	FolderPath   string
	RegistryIP   string
	RegistryPort int
	Logging      LoggingInfo
}

// LoadClientConfig reads and validates a distort-client configuration file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	r, closeFn, err := newLineReader(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	username, err := r.next("username")
	if err != nil {
		return nil, err
	}
	folderPath, err := r.next("folder_path")
	if err != nil {
		return nil, err
	}
	registryIP, err := r.next("registry_ip")
	if err != nil {
		return nil, err
	}
	registryPort, err := r.nextInt("registry_port")
	if err != nil {
		return nil, err
	}

	cfg := &ClientConfig{
		Username:     stripAmpersand(username),
		FolderPath:   folderPath,
		RegistryIP:   registryIP,
		RegistryPort: registryPort,
		Logging:      LoggingInfo{Level: "info", Format: "json"},
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}
	return cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.FolderPath == "" {
		return fmt.Errorf("folder_path is required")
	}
	if c.RegistryIP == "" {
		return fmt.Errorf("registry_ip is required")
	}
	if c.RegistryPort <= 0 || c.RegistryPort > 65535 {
		return fmt.Errorf("registry_port must be between 1 and 65535, got %d", c.RegistryPort)
	}
	return nil
}
