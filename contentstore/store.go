// Package contentstore stores records under content-derived digests, trying a
// list of backends in order until one succeeds.
package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
)

// MaxRecordSize bounds uploads so every record fits in a single raw block.
const MaxRecordSize = 256 * 1024

// Backend is one place content can be written to or read from.
type Backend interface {
	Name() string
	// Put stores data and returns the CID the backend assigned. Read-only
	// backends return ErrReadOnly.
	Put(ctx context.Context, data []byte) (string, error)
	// Get fetches the content stored under c.
	Get(ctx context.Context, c cid.Cid) ([]byte, error)
}

// Store uploads to the first backend that accepts the content and retrieves
// from the first backend that returns content matching the digest.
type Store struct {
	backends []Backend
	logger   *zap.Logger
	metrics  *Metrics
}

// New creates a Store over backends in priority order. logger and metrics may be nil.
func New(logger *zap.Logger, metrics *Metrics, backends ...Backend) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backends: backends, logger: logger, metrics: metrics}
}

// Backends returns the backend names in priority order.
func (s *Store) Backends() []string {
	names := make([]string, 0, len(s.backends))
	for _, b := range s.backends {
		names = append(names, b.Name())
	}
	return names
}

// Upload stores data and returns its CID. The CID is computed locally and a
// backend that reports a different one is treated as failed.
func (s *Store) Upload(ctx context.Context, data []byte) (cid.Cid, error) {
	if len(data) > MaxRecordSize {
		return cid.Undef, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), MaxRecordSize)
	}
	want, err := Digest(data)
	if err != nil {
		return cid.Undef, err
	}

	failover := &FailoverError{Op: "upload"}
	for _, b := range s.backends {
		if err := ctx.Err(); err != nil {
			return cid.Undef, err
		}
		start := time.Now()
		got, err := b.Put(ctx, data)
		if errors.Is(err, ErrReadOnly) {
			continue
		}
		if err == nil {
			err = matchDigest(want, got)
		}
		s.metrics.ObserveOperation(b.Name(), "put", outcome(err), time.Since(start))
		if err != nil {
			s.logger.Warn("content upload failed, trying next backend",
				zap.String("backend", b.Name()), zap.Error(err))
			failover.Failures = append(failover.Failures, BackendError{Backend: b.Name(), Err: err})
			continue
		}
		s.logger.Info("content uploaded",
			zap.String("backend", b.Name()),
			zap.String("cid", want.String()),
			zap.Int("bytes", len(data)),
		)
		return want, nil
	}
	return cid.Undef, failover
}

func matchDigest(want cid.Cid, got string) error {
	c, err := cid.Decode(got)
	if err != nil {
		return fmt.Errorf("%w: backend returned %q: %v", ErrInvalidDigest, got, err)
	}
	if !c.Equals(want) {
		return fmt.Errorf("%w: backend returned %s, content hashes to %s", ErrDigestMismatch, c, want)
	}
	return nil
}

// Retrieve fetches the content stored under c, verifying it against c.
func (s *Store) Retrieve(ctx context.Context, c cid.Cid) ([]byte, error) {
	failover := &FailoverError{Op: "retrieve " + c.String()}
	for _, b := range s.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		data, err := b.Get(ctx, c)
		if err == nil {
			err = Verify(c, data)
		}
		s.metrics.ObserveOperation(b.Name(), "get", outcome(err), time.Since(start))
		if err != nil {
			s.logger.Debug("content retrieval failed, trying next backend",
				zap.String("backend", b.Name()), zap.String("cid", c.String()), zap.Error(err))
			failover.Failures = append(failover.Failures, BackendError{Backend: b.Name(), Err: err})
			continue
		}
		return data, nil
	}
	return nil, failover
}

// UploadJSON marshals v and uploads it, returning the CID string.
func (s *Store) UploadJSON(ctx context.Context, v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("contentstore: marshal record: %w", err)
	}
	c, err := s.Upload(ctx, data)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// RetrieveJSON fetches the record under digest and unmarshals it into v.
func (s *Store) RetrieveJSON(ctx context.Context, digest string, v interface{}) error {
	c, err := ParseDigest(digest)
	if err != nil {
		return err
	}
	data, err := s.Retrieve(ctx, c)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("contentstore: unmarshal record %s: %w", digest, err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDigestMismatch):
		return "mismatch"
	default:
		return "error"
	}
}
