package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
)

const (
	DefaultPinataAPIURL     = "https://api.pinata.cloud"
	DefaultPinataGatewayURL = "https://gateway.pinata.cloud"
)

// PinataConfig configures the Pinata pinning service backend. Either a JWT or
// an API key and secret must be set.
type PinataConfig struct {
	API       HTTPConfig
	Gateway   HTTPConfig
	APIKey    string
	APISecret string
	JWT       string
	// FileName is the multipart file name and the pin's metadata name.
	FileName string
}

type pinataPinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// PinataBackend pins content through the Pinata API and reads it back through
// the Pinata gateway.
type PinataBackend struct {
	api      *resty.Client
	gateway  *GatewayBackend
	fileName string
	logger   *zap.Logger
}

func NewPinataBackend(cfg PinataConfig, logger *zap.Logger) (*PinataBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JWT == "" && (cfg.APIKey == "" || cfg.APISecret == "") {
		return nil, errors.New("pinata: jwt or api key and secret are required")
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultPinataAPIURL
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = DefaultPinataGatewayURL
	}
	if cfg.FileName == "" {
		cfg.FileName = "intake.json"
	}

	api := newWriteClient(cfg.API.withDefaults()).SetHeader("Accept", "application/json")
	if cfg.JWT != "" {
		api.SetAuthToken(cfg.JWT)
	} else {
		api.SetHeader("pinata_api_key", cfg.APIKey).
			SetHeader("pinata_secret_api_key", cfg.APISecret)
	}
	return &PinataBackend{
		api:      api,
		gateway:  NewGatewayBackend("pinata-gateway", cfg.Gateway, logger),
		fileName: cfg.FileName,
		logger:   logger,
	}, nil
}

func (p *PinataBackend) Name() string { return "pinata" }

func (p *PinataBackend) Put(ctx context.Context, data []byte) (string, error) {
	var result pinataPinResponse
	resp, err := p.api.R().
		SetContext(ctx).
		SetFileReader("file", p.fileName, bytes.NewReader(data)).
		SetMultipartFormData(map[string]string{
			"pinataOptions":  `{"cidVersion":1}`,
			"pinataMetadata": fmt.Sprintf(`{"name":%q}`, p.fileName),
		}).
		SetResult(&result).
		ForceContentType("application/json").
		Post("/pinning/pinFileToIPFS")
	if err != nil {
		return "", fmt.Errorf("pinata: pin: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("pinata: pin: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if result.IpfsHash == "" {
		return "", errors.New("pinata: pin: response carried no IpfsHash")
	}
	p.logger.Debug("pinned content", zap.String("cid", result.IpfsHash), zap.Int64("pin_size", result.PinSize))
	return result.IpfsHash, nil
}

func (p *PinataBackend) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	return p.gateway.Get(ctx, c)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
