package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/wardsync/internal/flagx"
	"github.com/dmitrijs2005/wardsync/internal/timex"
)

// FileConfig is the on-disk shape of Config. Durations use timex.Duration,
// so "720h" and integer nanoseconds are both accepted.
type FileConfig struct {
	EndpointAddrGRPC      string         `json:"endpoint_addr_grpc" yaml:"endpoint_addr_grpc"`
	DatabaseDSN           string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey             string         `json:"secret_key" yaml:"secret_key"`
	TokenValidityDuration timex.Duration `json:"token_validity_duration" yaml:"token_validity_duration"`
	MaxPayloadBytes       int            `json:"max_payload_bytes" yaml:"max_payload_bytes"`
	MaxPullLimit          int            `json:"max_pull_limit" yaml:"max_pull_limit"`
	AllowedEntityTypes    []string       `json:"allowed_entity_types" yaml:"allowed_entity_types"`
	LogLevel              string         `json:"log_level" yaml:"log_level"`
}

// parseFile loads the file named by -c/-config, if any, and overlays its
// non-zero values onto config. YAML is chosen by a .yaml/.yml extension.
// Unreadable or malformed files panic.
func parseFile(config *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		panic(err)
	}

	if c.EndpointAddrGRPC != "" {
		config.EndpointAddrGRPC = c.EndpointAddrGRPC
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.TokenValidityDuration.Duration != 0 {
		config.TokenValidityDuration = c.TokenValidityDuration.Duration
	}
	if c.MaxPayloadBytes != 0 {
		config.MaxPayloadBytes = c.MaxPayloadBytes
	}
	if c.MaxPullLimit != 0 {
		config.MaxPullLimit = c.MaxPullLimit
	}
	if c.AllowedEntityTypes != nil {
		config.AllowedEntityTypes = c.AllowedEntityTypes
	}
	if c.LogLevel != "" {
		config.LogLevel = c.LogLevel
	}
}
