// Package session assembles a booking orchestrator from configuration: the
// ledger gateway connection, the content store backends and the tracker.
package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"therapyledger/config"
	"therapyledger/contentstore"
	"therapyledger/ledger"
	"therapyledger/ledger/fabricgw"
	"therapyledger/logging"
	"therapyledger/orchestrator"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Session owns every connection behind one Orchestrator.
type Session struct {
	Logger       *zap.Logger
	Content      *contentstore.Store
	Orchestrator *orchestrator.Orchestrator

	ledger ledger.Client
	redis  *redis.Client
}

// Open validates cfg and connects. When reg is nil no metrics are exported.
// Bookings left unsettled by an earlier session are reconciled before Open
// returns.
func Open(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	s := &Session{Logger: logger}

	storeMetrics := contentstore.NewMetrics(reg)
	orchMetrics := orchestrator.NewMetrics(reg)

	backends, err := Backends(ctx, cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Content = contentstore.New(logger.Named("contentstore"), storeMetrics, backends...)

	gw, err := fabricgw.Dial(FabricConfig(cfg), logger.Named("ledger"))
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.ledger = gw

	tracker, err := s.openTracker(ctx, cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	o, err := orchestrator.New(OrchestratorConfig(cfg), gw, s.Content, tracker, logger.Named("orchestrator"), orchMetrics)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Orchestrator = o

	n, err := o.ReconcileAll(ctx)
	if err != nil {
		logger.Warn("reconciling unsettled bookings failed", zap.Int("settled", n), zap.Error(err))
	} else {
		logger.Info("session opened",
			zap.Strings("content_backends", s.Content.Backends()),
			zap.Int("reconciled", n),
		)
	}
	return s, nil
}

func (s *Session) openTracker(ctx context.Context, cfg *config.Config) (orchestrator.Tracker, error) {
	if cfg.RedisAddr == "" {
		s.Logger.Info("REDIS_ADDR not set, tracking bookings in memory")
		return orchestrator.NewMemoryTracker(), nil
	}
	client := NewRedisClient(cfg)
	s.redis = client
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	return orchestrator.NewRedisTracker(client, cfg.TrackerTTL)
}

// Close shuts down the orchestrator first, then the connections it used.
func (s *Session) Close() error {
	var errs []error
	if s.Orchestrator != nil {
		errs = append(errs, s.Orchestrator.Close())
	}
	if s.ledger != nil {
		errs = append(errs, s.ledger.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.Logger != nil {
		// Sync fails on stdout for some terminals.
		_ = s.Logger.Sync()
	}
	return errors.Join(errs...)
}

// NewRedisClient builds the tracker's Redis client without connecting.
func NewRedisClient(cfg *config.Config) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

func FabricConfig(cfg *config.Config) fabricgw.Config {
	return fabricgw.Config{
		Endpoint:           cfg.FabricEndpoint,
		ServerNameOverride: cfg.FabricServerName,
		TLSCertPath:        cfg.FabricTLSCertPath,
		CertPath:           cfg.FabricCertPath,
		KeyPath:            cfg.FabricKeyPath,
		MSPID:              cfg.FabricMSPID,
		Channel:            cfg.FabricChannel,
		Chaincode:          cfg.FabricChaincode,
		EvaluateTimeout:    cfg.FabricEvaluateTimeout,
		EndorseTimeout:     cfg.FabricEndorseTimeout,
		SubmitTimeout:      cfg.FabricSubmitTimeout,
		CommitTimeout:      cfg.FabricCommitTimeout,
		EventLookupTimeout: cfg.FabricEventLookupTimeout,
	}
}

func OrchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{HashWait: cfg.HashWait, ReceiptWait: cfg.ReceiptWait}
}

// Backends builds the content store backends in CONTENT_BACKENDS order.
func Backends(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]contentstore.Backend, error) {
	httpCfg := func(baseURL string) contentstore.HTTPConfig {
		return contentstore.HTTPConfig{BaseURL: baseURL, Timeout: cfg.HTTPTimeout, RetryCount: cfg.HTTPRetryCount}
	}

	var backends []contentstore.Backend
	for _, name := range cfg.ContentBackends {
		switch name {
		case config.BackendPinata:
			b, err := contentstore.NewPinataBackend(contentstore.PinataConfig{
				API:       httpCfg(cfg.PinataAPIURL),
				Gateway:   httpCfg(cfg.PinataGatewayURL),
				APIKey:    cfg.PinataAPIKey,
				APISecret: cfg.PinataAPISecret,
				JWT:       cfg.PinataJWT,
			}, logger.Named("pinata"))
			if err != nil {
				return nil, err
			}
			backends = append(backends, b)
		case config.BackendNode:
			backends = append(backends, contentstore.NewNodeBackend(httpCfg(cfg.IPFSNodeURL), logger.Named("ipfs")))
		case config.BackendGateway:
			backends = append(backends, contentstore.NewGatewayBackend("gateway", httpCfg(cfg.IPFSGatewayURL), logger.Named("gateway")))
		case config.BackendS3:
			client, err := newS3Client(ctx, cfg)
			if err != nil {
				return nil, err
			}
			b, err := contentstore.NewS3Backend(client, cfg.S3Bucket, cfg.S3Prefix, logger.Named("s3"))
			if err != nil {
				return nil, err
			}
			backends = append(backends, b)
		case config.BackendMemory:
			backends = append(backends, contentstore.NewMemoryBackend())
		default:
			return nil, fmt.Errorf("unknown content backend %q", name)
		}
	}
	if len(backends) == 0 {
		return nil, errors.New("no content backends configured")
	}
	return backends, nil
}

func newS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := awsCfg.BaseEndpoint
	if cfg.S3Endpoint != "" {
		endpoint = aws.String(cfg.S3Endpoint)
	}
	return s3.New(s3.Options{
		Region:       awsCfg.Region,
		Credentials:  awsCfg.Credentials,
		HTTPClient:   awsCfg.HTTPClient,
		BaseEndpoint: endpoint,
		UsePathStyle: true,
	}), nil
}
