package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func validConfig() *Config {
	return &Config{
		FabricEndpoint:    "localhost:7051",
		FabricTLSCertPath: "/crypto/tls/ca.crt",
		FabricCertPath:    "/crypto/users/cert.pem",
		FabricKeyPath:     "/crypto/users/key.pem",
		FabricMSPID:       "ClinicMSP",
		HashWait:          5 * time.Second,
		ReceiptWait:       2 * time.Minute,
		ContentBackends:   []string{BackendNode, BackendGateway},
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "mychannel", cfg.FabricChannel)
	assert.Equal(t, "therapyledger", cfg.FabricChaincode)
	assert.Equal(t, 5*time.Second, cfg.HashWait)
	assert.Equal(t, 2*time.Minute, cfg.ReceiptWait)
	assert.Equal(t, 7*24*time.Hour, cfg.TrackerTTL)
	assert.Equal(t, 2, cfg.HTTPRetryCount)
	assert.Equal(t, []string{BackendPinata, BackendNode, BackendGateway}, cfg.ContentBackends)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("FABRIC_ENDPOINT", "peer0.clinic.example.com:7051")
	t.Setenv("HASH_WAIT", "750ms")
	t.Setenv("CONTENT_BACKENDS", " S3, memory ,,")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("HTTP_RETRY_COUNT", "0")

	cfg, err := LoadFile(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "peer0.clinic.example.com:7051", cfg.FabricEndpoint)
	assert.Equal(t, 750*time.Millisecond, cfg.HashWait)
	assert.Equal(t, []string{BackendS3, BackendMemory}, cfg.ContentBackends)
	assert.True(t, cfg.RedisTLS)
	assert.Equal(t, 0, cfg.HTTPRetryCount)
	assert.True(t, cfg.HasBackend(BackendS3))
	assert.False(t, cfg.HasBackend(BackendPinata))
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.env")
	require.NoError(t, os.WriteFile(path, []byte("FABRIC_MSP_ID=ClinicMSP\nRECEIPT_WAIT=90s\n"), 0o600))
	t.Setenv("RECEIPT_WAIT", "3m")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "ClinicMSP", cfg.FabricMSPID)
	assert.Equal(t, 3*time.Minute, cfg.ReceiptWait, "environment overrides the file")
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing endpoint", func(c *Config) { c.FabricEndpoint = "" }, "FABRIC_ENDPOINT"},
		{"missing msp", func(c *Config) { c.FabricMSPID = "" }, "FABRIC_MSP_ID"},
		{"missing key", func(c *Config) { c.FabricKeyPath = "" }, "FABRIC_KEY"},
		{"missing tls cert", func(c *Config) { c.FabricTLSCertPath = "" }, "FABRIC_TLS_CERT"},
		{"hash wait not shorter", func(c *Config) { c.HashWait = c.ReceiptWait }, "must be shorter"},
		{"zero receipt wait", func(c *Config) { c.ReceiptWait = 0 }, "must be positive"},
		{"unknown backend", func(c *Config) { c.ContentBackends = []string{"ftp"} }, `unknown content backend "ftp"`},
		{"no backends", func(c *Config) { c.ContentBackends = nil }, "at least one backend"},
		{"read only", func(c *Config) { c.ContentBackends = []string{BackendGateway} }, "accepts uploads"},
		{"pinata without credentials", func(c *Config) { c.ContentBackends = []string{BackendPinata} }, "PINATA_JWT"},
		{"s3 without bucket", func(c *Config) { c.ContentBackends = []string{BackendS3} }, "S3_BUCKET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidatePinataCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.ContentBackends = []string{BackendPinata}

	cfg.PinataAPIKey = "key"
	assert.Error(t, cfg.Validate(), "key without secret")

	cfg.PinataAPISecret = "secret"
	assert.NoError(t, cfg.Validate())

	cfg.PinataAPIKey, cfg.PinataAPISecret, cfg.PinataJWT = "", "", "jwt"
	assert.NoError(t, cfg.Validate())
}

func TestValidateReportsEveryProblem(t *testing.T) {
	err := (&Config{}).Validate()
	require.Error(t, err)
	for _, want := range []string{"FABRIC_ENDPOINT", "FABRIC_MSP_ID", "FABRIC_CERT", "HASH_WAIT", "CONTENT_BACKENDS"} {
		assert.Contains(t, err.Error(), want)
	}
}
