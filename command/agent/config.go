package agent

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	sockaddr "github.com/hashicorp/go-sockaddr/template"
	"github.com/mitchellh/mapstructure"
)

// Config is the configuration for a kvrepld Agent. Most of these map
// directly onto repl.Config and command/agent's own IPC/logging surface; it
// is a plain mapstructure-tagged struct merged from JSON config files and
// CLI flags the way serf's Config is (command/agent/config.go).
type Config struct {
	// NodeName identifies this process in log lines and the info table; it
	// has no protocol meaning (spec.md has no node identity concept beyond
	// RunID).
	NodeName string `mapstructure:"node_name"`

	// BindAddr is a go-sockaddr/template expression resolved to a concrete
	// host, e.g. "{{ GetPrivateIP }}" — the replacement for Serf's gossip
	// BindAddr now that there is no gossip layer, repurposed to the single
	// replication listener's address. AdvertiseAddr/AdvertisePort are
	// decoded and merged like the other fields, but the agent never reads
	// them: nothing is advertised to followers.
	BindAddr      string `mapstructure:"bind_addr"`
	BindPort      int    `mapstructure:"bind_port"`
	AdvertiseAddr string `mapstructure:"advertise_addr"`
	AdvertisePort int    `mapstructure:"advertise_port"`

	// IPCAddr is the control-plane listener address (SPEC_FULL.md §6).
	IPCAddr string `mapstructure:"ipc_addr"`

	// DataDir / DBFilename locate the canonical snapshot file.
	DataDir    string `mapstructure:"data_dir"`
	DBFilename string `mapstructure:"db_filename"`

	// ReplicaOfHost / ReplicaOfPort start this node as a follower of the
	// given leader instead of waiting for a SLAVEOF control-plane command.
	ReplicaOfHost string `mapstructure:"replica_of_host"`
	ReplicaOfPort string `mapstructure:"replica_of_port"`

	// LeaderAuth, if set, is required of connecting followers and is sent
	// by this node's own FollowerController when acting as a replica
	// (spec.md §6).
	LeaderAuth string `mapstructure:"leader_auth"`

	// LogLevel is one of the levels in log_levels.go's levelFilter.
	LogLevel string `mapstructure:"log_level"`
	// Syslog, if true, additionally writes log output to syslog
	// (command/agent/syslog_writer.go).
	Syslog bool `mapstructure:"syslog"`

	// Timeouts mirror repl.Config; zero values fall back to
	// repl.DefaultConfig's values.
	TransferTimeout time.Duration `mapstructure:"transfer_timeout"`
	LinkTimeout     time.Duration `mapstructure:"link_timeout"`
}

// DefaultConfig returns the configuration `kvrepld agent` runs with when no
// config file is given.
func DefaultConfig() *Config {
	return &Config{
		NodeName:   "kvrepld",
		BindAddr:   "0.0.0.0",
		BindPort:   7300,
		IPCAddr:    "127.0.0.1:7400",
		DataDir:    ".",
		DBFilename: "dump.kv",
		LogLevel:   "INFO",
	}
}

// DecodeConfig reads a JSON config file, the same format
// command/agent/config.go's callers use for Serf.
func DecodeConfig(data []byte) (*Config, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("agent: decode config: %w", err)
	}
	var c Config
	if err := mapstructure.Decode(raw, &c); err != nil {
		return nil, fmt.Errorf("agent: decode config: %w", err)
	}
	return &c, nil
}

// DecodeConfigFile reads and decodes a config file from disk.
func DecodeConfigFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeConfig(data)
}

// MergeConfig overlays non-zero fields of other onto a copy of c, the same
// layered-merge approach serf's multiple -config-file flags use.
func MergeConfig(c, other *Config) *Config {
	result := *c
	if other.NodeName != "" {
		result.NodeName = other.NodeName
	}
	if other.BindAddr != "" {
		result.BindAddr = other.BindAddr
	}
	if other.BindPort != 0 {
		result.BindPort = other.BindPort
	}
	if other.AdvertiseAddr != "" {
		result.AdvertiseAddr = other.AdvertiseAddr
	}
	if other.AdvertisePort != 0 {
		result.AdvertisePort = other.AdvertisePort
	}
	if other.IPCAddr != "" {
		result.IPCAddr = other.IPCAddr
	}
	if other.DataDir != "" {
		result.DataDir = other.DataDir
	}
	if other.DBFilename != "" {
		result.DBFilename = other.DBFilename
	}
	if other.ReplicaOfHost != "" {
		result.ReplicaOfHost = other.ReplicaOfHost
	}
	if other.ReplicaOfPort != "" {
		result.ReplicaOfPort = other.ReplicaOfPort
	}
	if other.LeaderAuth != "" {
		result.LeaderAuth = other.LeaderAuth
	}
	if other.LogLevel != "" {
		result.LogLevel = other.LogLevel
	}
	if other.Syslog {
		result.Syslog = true
	}
	if other.TransferTimeout != 0 {
		result.TransferTimeout = other.TransferTimeout
	}
	if other.LinkTimeout != 0 {
		result.LinkTimeout = other.LinkTimeout
	}
	return &result
}

// resolveBindAddr resolves BindAddr as a go-sockaddr/template expression,
// falling back to the literal string for plain addresses (the common case),
// the same pattern consul/nomad use go-sockaddr/template for.
func resolveBindAddr(tpl string) (string, error) {
	if tpl == "" {
		return "", nil
	}
	return sockaddr.Parse(tpl)
}
