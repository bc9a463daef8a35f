package contentstore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
)

// HTTPConfig holds the settings shared by the HTTP backends.
type HTTPConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	return c
}

// newReadClient builds a resty client that retries transient failures.
func newReadClient(cfg HTTPConfig) *resty.Client {
	return resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && (r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500)
		})
}

// newWriteClient builds a resty client without retries. Multipart bodies are
// streamed once; a failed upload falls through to the next backend instead.
func newWriteClient(cfg HTTPConfig) *resty.Client {
	return resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)
}

// GatewayBackend reads content through an IPFS HTTP gateway.
type GatewayBackend struct {
	name   string
	client *resty.Client
	logger *zap.Logger
}

// NewGatewayBackend creates a read-only backend for a public gateway such as
// https://ipfs.io.
func NewGatewayBackend(name string, cfg HTTPConfig, logger *zap.Logger) *GatewayBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &GatewayBackend{name: name, client: newReadClient(cfg), logger: logger}
}

func (g *GatewayBackend) Name() string { return g.name }

func (g *GatewayBackend) Put(context.Context, []byte) (string, error) {
	return "", ErrReadOnly
}

func (g *GatewayBackend) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("cid", c.String()).
		SetQueryParam("format", "raw").
		SetHeader("Accept", "application/vnd.ipld.raw").
		Get("/ipfs/{cid}")
	if err != nil {
		return nil, fmt.Errorf("%s: get %s: %w", g.name, c, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s: get %s: status %d", g.name, c, resp.StatusCode())
	}
	return resp.Body(), nil
}
