// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for a Store.
type Config struct {
	// Path is the directory for the database files.
	// Required unless InMemory is true.
	Path string `yaml:"path"`

	// InMemory keeps everything in RAM, no disk persistence.
	// Useful for tests.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `yaml:"sync_writes"`

	// CacheMemoryEntries sizes the in-memory LRU tier of the
	// reachability cache. Default: 1024.
	CacheMemoryEntries int `yaml:"cache_memory_entries"`

	// GCInterval is how often to run badger value log garbage
	// collection. Zero disables it.
	GCInterval time.Duration `yaml:"gc_interval"`

	// GCDiscardRatio is the minimum ratio of discardable data before GC
	// rewrites a value log file. Default: 0.5.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`

	// Logger is used for store and badger events. Defaults to
	// slog.Default(). Not loadable from YAML.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns production defaults: durable writes, periodic GC,
// a 1024-entry memory cache tier.
func DefaultConfig() Config {
	return Config{
		SyncWrites:         true,
		CacheMemoryEntries: 1024,
		GCInterval:         5 * time.Minute,
		GCDiscardRatio:     0.5,
	}
}

// InMemoryConfig returns a configuration for tests: in-memory database,
// no sync, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:           true,
		CacheMemoryEntries: 128,
	}
}

// LoadConfig reads a Config from a YAML file, applied on top of
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return fmt.Errorf("path is required for a persistent store")
	}
	if c.GCDiscardRatio < 0 || c.GCDiscardRatio > 1 {
		return fmt.Errorf("gc_discard_ratio must be in [0,1], got %v", c.GCDiscardRatio)
	}
	if c.CacheMemoryEntries < 0 {
		return fmt.Errorf("cache_memory_entries must not be negative, got %d", c.CacheMemoryEntries)
	}
	return nil
}

// withDefaults fills unset fields so the rest of the package never
// branches on zero values.
func (c Config) withDefaults() Config {
	if c.CacheMemoryEntries == 0 {
		c.CacheMemoryEntries = 1024
	}
	if c.GCDiscardRatio == 0 {
		c.GCDiscardRatio = 0.5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
