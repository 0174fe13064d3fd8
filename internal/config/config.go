/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads vdiskd's process configuration: environment variables via envconfig for the
// values every node needs, plus an optional YAML cluster-topology file for local/dev bring-up.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration loaded from the environment at startup.
type Config struct {
	// ClusterId identifies the cluster this node participates in.
	ClusterId string `envconfig:"CLUSTER_ID" required:"true"`
	// NodeId identifies this node within the cluster.
	NodeId string `envconfig:"NODE_ID" required:"true"`
	// DatabaseURL is the Postgres connection string backing the Key-Value Coordinator.
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	// FdCachePath is the local directory the Extent Cache keeps materialized extent files under.
	// It is cleared on startup, and an evicted extent's file is deleted from it.
	FdCachePath string `envconfig:"FD_CACHE_PATH" default:"/var/lib/vdiskd/cache"`
	// FdNamespace is the backend namespace this node's Container Manager stores extents under.
	FdNamespace string `envconfig:"FD_NAMESPACE" required:"true"`
	// FdExtentCacheCapacity bounds the number of extents the Extent Cache keeps resident.
	FdExtentCacheCapacity int `envconfig:"FD_EXTENT_CACHE_CAPACITY" default:"1024"`
	// CachedRegistryCapacity bounds the number of entries the Cached Object Registry's LRU keeps.
	CachedRegistryCapacity int `envconfig:"CACHED_REGISTRY_CAPACITY" default:"4096"`
	// ScrubPeriod is the interval between Scrub Manager passes.
	ScrubPeriod time.Duration `envconfig:"SCRUB_PERIOD" default:"30s"`
	// LogLevel is the slog level name (debug/info/warn/error).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// LogFile is "stdout", "stderr", or a file path.
	LogFile string `envconfig:"LOG_FILE" default:"stdout"`
}

// Load reads Config from the process environment, applying defaults for unset optional fields.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("vdiskd", &cfg); err != nil {
		return Config{}, fmt.Errorf("loading configuration from environment: %w", err)
	}
	return cfg, nil
}

// Topology is the optional static cluster-topology file used for local/dev bring-up: the set of
// known nodes and the backend endpoint they share, in lieu of a discovery service.
type Topology struct {
	Nodes []TopologyNode `yaml:"nodes"`
	// BackendEndpoint is the address of the shared blob backend every node's Container Manager
	// writes extents to.
	BackendEndpoint string `yaml:"backendEndpoint"`
}

// TopologyNode describes one cluster member in a Topology file.
type TopologyNode struct {
	Id      string `yaml:"id"`
	Address string `yaml:"address"`
}

// LoadTopology reads and parses a YAML cluster-topology file from path.
func LoadTopology(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("reading topology file %q: %w", path, err)
	}
	var top Topology
	if err := yaml.Unmarshal(data, &top); err != nil {
		return Topology{}, fmt.Errorf("parsing topology file %q: %w", path, err)
	}
	return top, nil
}
