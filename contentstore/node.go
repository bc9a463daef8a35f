package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
)

// DefaultNodeURL is the default kubo RPC endpoint.
const DefaultNodeURL = "http://127.0.0.1:5001"

type nodeAddResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// NodeBackend talks to an IPFS (kubo) node over its RPC API.
type NodeBackend struct {
	write  *resty.Client
	read   *resty.Client
	logger *zap.Logger
}

func NewNodeBackend(cfg HTTPConfig, logger *zap.Logger) *NodeBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultNodeURL
	}
	cfg = cfg.withDefaults()
	return &NodeBackend{
		write:  newWriteClient(cfg),
		read:   newReadClient(cfg),
		logger: logger,
	}
}

func (n *NodeBackend) Name() string { return "node" }

// Put adds and pins data as a CIDv1 raw-leaf file.
func (n *NodeBackend) Put(ctx context.Context, data []byte) (string, error) {
	resp, err := n.write.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"cid-version": "1",
			"raw-leaves":  "true",
			"pin":         "true",
		}).
		SetFileReader("file", "intake.json", bytes.NewReader(data)).
		Post("/api/v0/add")
	if err != nil {
		return "", fmt.Errorf("node: add: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("node: add: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	hash, err := parseAddResponse(resp.Body())
	if err != nil {
		return "", fmt.Errorf("node: add: %w", err)
	}
	return hash, nil
}

// parseAddResponse reads the newline-delimited JSON objects kubo streams back
// from add and returns the last Hash reported. Servers do not always label
// the body as JSON, so the content type is not consulted.
func parseAddResponse(body []byte) (string, error) {
	var hash string
	dec := json.NewDecoder(bytes.NewReader(body))
	for {
		var obj nodeAddResponse
		err := dec.Decode(&obj)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if obj.Hash != "" {
			hash = obj.Hash
		}
	}
	if hash == "" {
		return "", errors.New("response carried no Hash")
	}
	return hash, nil
}

func (n *NodeBackend) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	resp, err := n.read.R().
		SetContext(ctx).
		SetQueryParam("arg", c.String()).
		Post("/api/v0/cat")
	if err != nil {
		return nil, fmt.Errorf("node: cat %s: %w", c, err)
	}
	if resp.StatusCode() == http.StatusNotFound ||
		(resp.IsError() && strings.Contains(resp.String(), "not found")) {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("node: cat %s: status %d: %s", c, resp.StatusCode(), truncate(resp.String(), 200))
	}
	return resp.Body(), nil
}
