package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/client/resolver"
	"github.com/dmitrijs2005/wardsync/internal/common"
)

// Remote kinds.
const (
	RemoteGRPC = "grpc"
	RemoteS3   = "s3"
)

// S3 describes a bucket used as the remote authority.
type S3 struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
}

// Config holds runtime settings for the wardsync client.
type Config struct {
	// DataFile is the SQLite database path.
	DataFile string
	// Remote selects the authority: RemoteGRPC or RemoteS3.
	Remote string

	ServerEndpointAddr string
	AccessToken        string
	DeviceID           string
	S3                 S3

	OnlineCheckInterval time.Duration
	SyncInterval        time.Duration
	FanOut              int
	BatchSize           int
	PullLimit           int
	TombstoneRetention  time.Duration

	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	MaxAttempts    int

	// ConflictPolicy is "lww" or "merge".
	ConflictPolicy string
	// EntityTypes are always pulled, even before any local record exists.
	EntityTypes []string
	// Indexes lists the payload fields indexed per entity type.
	Indexes map[string][]string
	// Encrypt seals payloads at rest under a passphrase-derived key.
	Encrypt bool

	LogLevel string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataFile = "wardsync.db"
	c.Remote = RemoteGRPC
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.DeviceID = "local"
	c.S3 = S3{Region: "us-east-1", UsePathStyle: true}
	c.OnlineCheckInterval = 3 * time.Second
	c.SyncInterval = 30 * time.Second
	c.FanOut = 4
	c.BatchSize = 100
	c.PullLimit = 200
	c.TombstoneRetention = 30 * 24 * time.Hour
	c.RetryBaseDelay = 2 * time.Second
	c.RetryMaxDelay = 5 * time.Minute
	c.MaxAttempts = 8
	c.ConflictPolicy = "lww"
	c.EntityTypes = []string{"patients", "admissions", "orders", "charts", "sessions"}
	c.Indexes = map[string][]string{
		"patients":   {"mrn"},
		"admissions": {"patient_id"},
		"orders":     {"admission_id"},
		"charts":     {"admission_id"},
	}
	c.LogLevel = "info"
}

// Validate reports settings the client cannot run with.
func (c *Config) Validate() error {
	switch c.Remote {
	case RemoteGRPC:
		if c.ServerEndpointAddr == "" {
			return fmt.Errorf("%w: server endpoint is required", common.ErrValidation)
		}
	case RemoteS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("%w: s3 bucket is required", common.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown remote %q", common.ErrValidation, c.Remote)
	}
	if _, ok := resolver.ParsePolicy(c.ConflictPolicy); !ok {
		return fmt.Errorf("%w: unknown conflict policy %q", common.ErrValidation, c.ConflictPolicy)
	}
	if c.FanOut < 1 {
		return fmt.Errorf("%w: fan-out must be positive", common.ErrValidation)
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// a config file (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg)
	parseFlags(cfg)
	return cfg
}
