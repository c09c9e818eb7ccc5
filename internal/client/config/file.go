package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/wardsync/internal/flagx"
	"github.com/dmitrijs2005/wardsync/internal/timex"
)

// FileConfig is a DTO used exclusively for config file unmarshalling.
// Durations use timex.Duration so files may write "3s" or nanoseconds.
// Zero values leave the corresponding setting untouched.
type FileConfig struct {
	DataFile           string `json:"data_file" yaml:"data_file"`
	Remote             string `json:"remote" yaml:"remote"`
	ServerEndpointAddr string `json:"server_endpoint_addr" yaml:"server_endpoint_addr"`
	AccessToken        string `json:"access_token" yaml:"access_token"`
	DeviceID           string `json:"device_id" yaml:"device_id"`

	S3 struct {
		Bucket          string `json:"bucket" yaml:"bucket"`
		Region          string `json:"region" yaml:"region"`
		Endpoint        string `json:"endpoint" yaml:"endpoint"`
		AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
		SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
		Prefix          string `json:"prefix" yaml:"prefix"`
		UsePathStyle    *bool  `json:"use_path_style" yaml:"use_path_style"`
	} `json:"s3" yaml:"s3"`

	OnlineCheckInterval timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`
	SyncInterval        timex.Duration `json:"sync_interval" yaml:"sync_interval"`
	FanOut              int            `json:"fan_out" yaml:"fan_out"`
	BatchSize           int            `json:"batch_size" yaml:"batch_size"`
	PullLimit           int            `json:"pull_limit" yaml:"pull_limit"`
	TombstoneRetention  timex.Duration `json:"tombstone_retention" yaml:"tombstone_retention"`

	RetryBaseDelay timex.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay  timex.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`
	MaxAttempts    int            `json:"max_attempts" yaml:"max_attempts"`

	ConflictPolicy string              `json:"conflict_policy" yaml:"conflict_policy"`
	EntityTypes    []string            `json:"entity_types" yaml:"entity_types"`
	Indexes        map[string][]string `json:"indexes" yaml:"indexes"`
	Encrypt        *bool               `json:"encrypt" yaml:"encrypt"`
	LogLevel       string              `json:"log_level" yaml:"log_level"`
}

// parseFile overlays cfg with values from the file named by -c/-config.
// Files ending in .yaml or .yml are read as YAML, anything else as JSON.
// Read or decode errors panic; the caller decides whether to recover.
func parseFile(cfg *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		panic(err)
	}

	fc.apply(cfg)
}

func (fc *FileConfig) apply(cfg *Config) {
	setString(&cfg.DataFile, fc.DataFile)
	setString(&cfg.Remote, fc.Remote)
	setString(&cfg.ServerEndpointAddr, fc.ServerEndpointAddr)
	setString(&cfg.AccessToken, fc.AccessToken)
	setString(&cfg.DeviceID, fc.DeviceID)

	setString(&cfg.S3.Bucket, fc.S3.Bucket)
	setString(&cfg.S3.Region, fc.S3.Region)
	setString(&cfg.S3.Endpoint, fc.S3.Endpoint)
	setString(&cfg.S3.AccessKeyID, fc.S3.AccessKeyID)
	setString(&cfg.S3.SecretAccessKey, fc.S3.SecretAccessKey)
	setString(&cfg.S3.Prefix, fc.S3.Prefix)
	if fc.S3.UsePathStyle != nil {
		cfg.S3.UsePathStyle = *fc.S3.UsePathStyle
	}

	setDuration(&cfg.OnlineCheckInterval, fc.OnlineCheckInterval)
	setDuration(&cfg.SyncInterval, fc.SyncInterval)
	setInt(&cfg.FanOut, fc.FanOut)
	setInt(&cfg.BatchSize, fc.BatchSize)
	setInt(&cfg.PullLimit, fc.PullLimit)
	setDuration(&cfg.TombstoneRetention, fc.TombstoneRetention)

	setDuration(&cfg.RetryBaseDelay, fc.RetryBaseDelay)
	setDuration(&cfg.RetryMaxDelay, fc.RetryMaxDelay)
	setInt(&cfg.MaxAttempts, fc.MaxAttempts)

	setString(&cfg.ConflictPolicy, fc.ConflictPolicy)
	if fc.EntityTypes != nil {
		cfg.EntityTypes = fc.EntityTypes
	}
	if fc.Indexes != nil {
		cfg.Indexes = fc.Indexes
	}
	if fc.Encrypt != nil {
		cfg.Encrypt = *fc.Encrypt
	}
	setString(&cfg.LogLevel, fc.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
