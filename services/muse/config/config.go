// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates repository configuration.
//
// Configuration lives at .muse/config.yaml inside each repository. A
// missing file is not an error; defaults apply and the file is written
// on first Save.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileName is the config file name under the .muse directory.
const FileName = "config.yaml"

// Author identifies who commits are attributed to.
type Author struct {
	Name  string `yaml:"name" validate:"required"`
	Email string `yaml:"email" validate:"omitempty,email"`
}

// String renders the conventional "Name <email>" form.
func (a Author) String() string {
	if a.Email == "" {
		return a.Name
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// LogConfig configures repository logging.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, or error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Dir overrides the log directory. Empty logs beside the repo
	// under .muse/logs.
	Dir string `yaml:"dir"`
}

// Config is the repository configuration.
type Config struct {
	Author Author `yaml:"author" validate:"required"`

	// DefaultBranch is the branch created by init.
	DefaultBranch string `yaml:"default_branch" validate:"required"`

	Log LogConfig `yaml:"log"`
}

// Default returns the configuration applied when no file exists.
func Default() *Config {
	return &Config{
		Author:        Author{Name: "Unknown"},
		DefaultBranch: "main",
		Log:           LogConfig{Level: "info"},
	}
}

// Validate checks the configuration's declared constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Load reads the configuration from a .muse directory.
//
// Description:
//
//	Absent file yields Default(). Fields absent from the file keep
//	their defaults, so partial configs stay valid.
//
// Inputs:
//
//	museDir - The repository's .muse directory.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil on unreadable, unparsable, or invalid config.
func Load(museDir string) (*Config, error) {
	path := filepath.Join(museDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a .muse directory.
func Save(museDir string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(museDir, FileName)
	if err := os.MkdirAll(museDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
