package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the full configuration for a Heartwood machine: store
// location, coordination-service addresses, and the behavioral options
// from the distilled spec's persisted-state/configuration section.
type Config struct {
	// MachineID uniquely and permanently identifies this store once it
	// has joined a cluster. 0 means "not yet initialized".
	MachineID uint64 `yaml:"machine_id"`

	// DataDir is the root directory for store files, the logical log,
	// and the token database.
	DataDir string `yaml:"data_dir"`

	// CoordinationServers are the addresses of the externalized
	// coordination service (the raft-backed replication broker group)
	// this machine participates in or connects to.
	CoordinationServers []string `yaml:"coordination_servers"`

	// HAServer is the bind address this machine advertises for the
	// primary RPC server (when primary) or accepts snapshot/replication
	// traffic on (when follower).
	HAServer string `yaml:"ha_server"`

	ClusterName string `yaml:"cluster_name"`

	// PullInterval is how often a follower polls the primary for new
	// committed transactions when not otherwise pushed to.
	PullIntervalSeconds int `yaml:"pull_interval_seconds"`

	// AllowInitCluster permits this machine to bootstrap a brand new
	// cluster (single-member coordination group) rather than requiring
	// it to join an existing one.
	AllowInitCluster bool `yaml:"allow_init_cluster"`

	UseMemoryMappedBuffers bool `yaml:"use_memory_mapped_buffers"`

	// KeepLogicalLogs retains rotated-out logical log segments
	// (zstd-compressed) instead of deleting them, so slow followers can
	// catch up from archived history.
	KeepLogicalLogs bool `yaml:"keep_logical_logs"`

	ReadOnly bool `yaml:"read_only"`

	// BackupSlave marks this follower as ineligible for primary
	// election; it only ever replicates.
	BackupSlave bool `yaml:"backup_slave"`

	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
	TLSCAFile   string `yaml:"tls_ca_file"`
}

// Default returns a Config with the distilled spec's documented
// defaults for optional fields.
func Default() *Config {
	return &Config{
		PullIntervalSeconds: 5,
		UseMemoryMappedBuffers: false,
		KeepLogicalLogs:        false,
	}
}

// Load reads and parses a YAML configuration file, applying defaults
// for unset fields and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the invariants the rest of the system depends on:
// a machine identity, a data directory, and HA mode forcing logical
// log retention (a backup slave or coordination-group member that
// can't keep its log around can never be promoted safely).
func (c *Config) Validate() error {
	if c.MachineID == 0 {
		return fmt.Errorf("config: machine_id must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must be set")
	}
	if c.isHA() {
		c.KeepLogicalLogs = true
	}
	return nil
}

func (c *Config) isHA() bool {
	return len(c.CoordinationServers) > 0 || c.BackupSlave
}
