// Package config loads the booking client's settings from the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Content store backend names accepted in CONTENT_BACKENDS.
const (
	BackendPinata  = "pinata"
	BackendNode    = "node"
	BackendS3      = "s3"
	BackendGateway = "gateway"
	BackendMemory  = "memory"
)

type Config struct {
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`
	ServiceName string `mapstructure:"SERVICE_NAME"`

	FabricEndpoint           string        `mapstructure:"FABRIC_ENDPOINT"`
	FabricServerName         string        `mapstructure:"FABRIC_SERVER_NAME"`
	FabricTLSCertPath        string        `mapstructure:"FABRIC_TLS_CERT"`
	FabricCertPath           string        `mapstructure:"FABRIC_CERT"`
	FabricKeyPath            string        `mapstructure:"FABRIC_KEY"`
	FabricMSPID              string        `mapstructure:"FABRIC_MSP_ID"`
	FabricChannel            string        `mapstructure:"FABRIC_CHANNEL"`
	FabricChaincode          string        `mapstructure:"FABRIC_CHAINCODE"`
	FabricEvaluateTimeout    time.Duration `mapstructure:"FABRIC_EVALUATE_TIMEOUT"`
	FabricEndorseTimeout     time.Duration `mapstructure:"FABRIC_ENDORSE_TIMEOUT"`
	FabricSubmitTimeout      time.Duration `mapstructure:"FABRIC_SUBMIT_TIMEOUT"`
	FabricCommitTimeout      time.Duration `mapstructure:"FABRIC_COMMIT_TIMEOUT"`
	FabricEventLookupTimeout time.Duration `mapstructure:"FABRIC_EVENT_LOOKUP_TIMEOUT"`

	HashWait    time.Duration `mapstructure:"HASH_WAIT"`
	ReceiptWait time.Duration `mapstructure:"RECEIPT_WAIT"`

	ContentBackends  []string      `mapstructure:"CONTENT_BACKENDS"`
	HTTPTimeout      time.Duration `mapstructure:"HTTP_TIMEOUT"`
	HTTPRetryCount   int           `mapstructure:"HTTP_RETRY_COUNT"`
	PinataAPIURL     string        `mapstructure:"PINATA_API_URL"`
	PinataGatewayURL string        `mapstructure:"PINATA_GATEWAY_URL"`
	PinataAPIKey     string        `mapstructure:"PINATA_API_KEY"`
	PinataAPISecret  string        `mapstructure:"PINATA_API_SECRET"`
	PinataJWT        string        `mapstructure:"PINATA_JWT"`
	IPFSNodeURL      string        `mapstructure:"IPFS_NODE_URL"`
	IPFSGatewayURL   string        `mapstructure:"IPFS_GATEWAY_URL"`
	S3Bucket         string        `mapstructure:"S3_BUCKET"`
	S3Prefix         string        `mapstructure:"S3_PREFIX"`
	S3Endpoint       string        `mapstructure:"S3_ENDPOINT"`
	AWSRegion        string        `mapstructure:"AWS_REGION"`

	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisTLS      bool          `mapstructure:"REDIS_TLS"`
	TrackerTTL    time.Duration `mapstructure:"TRACKER_TTL"`
}

var keys = []string{
	"LOG_LEVEL", "LOG_FORMAT", "SERVICE_NAME",
	"FABRIC_ENDPOINT", "FABRIC_SERVER_NAME", "FABRIC_TLS_CERT", "FABRIC_CERT", "FABRIC_KEY",
	"FABRIC_MSP_ID", "FABRIC_CHANNEL", "FABRIC_CHAINCODE",
	"FABRIC_EVALUATE_TIMEOUT", "FABRIC_ENDORSE_TIMEOUT", "FABRIC_SUBMIT_TIMEOUT",
	"FABRIC_COMMIT_TIMEOUT", "FABRIC_EVENT_LOOKUP_TIMEOUT",
	"HASH_WAIT", "RECEIPT_WAIT",
	"CONTENT_BACKENDS", "HTTP_TIMEOUT", "HTTP_RETRY_COUNT",
	"PINATA_API_URL", "PINATA_GATEWAY_URL", "PINATA_API_KEY", "PINATA_API_SECRET", "PINATA_JWT",
	"IPFS_NODE_URL", "IPFS_GATEWAY_URL",
	"S3_BUCKET", "S3_PREFIX", "S3_ENDPOINT", "AWS_REGION",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_TLS", "TRACKER_TTL",
}

// Load reads the environment, falling back to ./.env for unset keys.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SERVICE_NAME", "therapyledger-client")
	v.SetDefault("FABRIC_CHANNEL", "mychannel")
	v.SetDefault("FABRIC_CHAINCODE", "therapyledger")
	v.SetDefault("FABRIC_EVALUATE_TIMEOUT", "5s")
	v.SetDefault("FABRIC_ENDORSE_TIMEOUT", "15s")
	v.SetDefault("FABRIC_SUBMIT_TIMEOUT", "5s")
	v.SetDefault("FABRIC_COMMIT_TIMEOUT", "1m")
	v.SetDefault("FABRIC_EVENT_LOOKUP_TIMEOUT", "30s")
	v.SetDefault("HASH_WAIT", "5s")
	v.SetDefault("RECEIPT_WAIT", "2m")
	v.SetDefault("CONTENT_BACKENDS", "pinata,node,gateway")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("HTTP_RETRY_COUNT", 2)
	v.SetDefault("IPFS_NODE_URL", "http://127.0.0.1:5001")
	v.SetDefault("IPFS_GATEWAY_URL", "https://ipfs.io")
	v.SetDefault("TRACKER_TTL", "168h")

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// The env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ContentBackends = splitList(v.GetString("CONTENT_BACKENDS"))
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// HasBackend reports whether name is one of the configured content backends.
func (c *Config) HasBackend(name string) bool {
	for _, b := range c.ContentBackends {
		if b == name {
			return true
		}
	}
	return false
}

// Validate checks that the configuration can open a session.
func (c *Config) Validate() error {
	var errs []error
	if c.FabricEndpoint == "" {
		errs = append(errs, errors.New("FABRIC_ENDPOINT is required"))
	}
	if c.FabricMSPID == "" {
		errs = append(errs, errors.New("FABRIC_MSP_ID is required"))
	}
	if c.FabricCertPath == "" || c.FabricKeyPath == "" {
		errs = append(errs, errors.New("FABRIC_CERT and FABRIC_KEY are required"))
	}
	if c.FabricTLSCertPath == "" {
		errs = append(errs, errors.New("FABRIC_TLS_CERT is required"))
	}
	if c.HashWait <= 0 || c.ReceiptWait <= 0 {
		errs = append(errs, errors.New("HASH_WAIT and RECEIPT_WAIT must be positive"))
	} else if c.HashWait >= c.ReceiptWait {
		errs = append(errs, fmt.Errorf("HASH_WAIT (%s) must be shorter than RECEIPT_WAIT (%s)", c.HashWait, c.ReceiptWait))
	}

	if len(c.ContentBackends) == 0 {
		errs = append(errs, errors.New("CONTENT_BACKENDS must name at least one backend"))
	}
	writable := false
	for _, b := range c.ContentBackends {
		switch b {
		case BackendPinata:
			if c.PinataJWT == "" && (c.PinataAPIKey == "" || c.PinataAPISecret == "") {
				errs = append(errs, errors.New("PINATA_JWT or PINATA_API_KEY and PINATA_API_SECRET are required for the pinata backend"))
			}
			writable = true
		case BackendS3:
			if c.S3Bucket == "" {
				errs = append(errs, errors.New("S3_BUCKET is required for the s3 backend"))
			}
			writable = true
		case BackendNode, BackendMemory:
			writable = true
		case BackendGateway:
		default:
			errs = append(errs, fmt.Errorf("unknown content backend %q", b))
		}
	}
	if len(c.ContentBackends) > 0 && !writable {
		errs = append(errs, errors.New("CONTENT_BACKENDS has no backend that accepts uploads"))
	}
	return errors.Join(errs...)
}
