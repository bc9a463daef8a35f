// Package fabricgw implements ledger.Client on top of the Hyperledger Fabric
// Gateway service.
package fabricgw

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"therapyledger/ledger"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Config holds the connection settings for one gateway peer.
type Config struct {
	Endpoint           string
	ServerNameOverride string
	TLSCertPath        string
	CertPath           string
	KeyPath            string
	MSPID              string
	Channel            string
	Chaincode          string

	EvaluateTimeout time.Duration
	EndorseTimeout  time.Duration
	SubmitTimeout   time.Duration
	CommitTimeout   time.Duration
	// EventLookupTimeout bounds the search for a committed transaction's event.
	EventLookupTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.EvaluateTimeout <= 0 {
		c.EvaluateTimeout = 5 * time.Second
	}
	if c.EndorseTimeout <= 0 {
		c.EndorseTimeout = 15 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 5 * time.Second
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = time.Minute
	}
	if c.EventLookupTimeout <= 0 {
		c.EventLookupTimeout = 30 * time.Second
	}
}

// Validate checks the required settings.
func (c *Config) Validate() error {
	switch {
	case c.Endpoint == "":
		return errors.New("fabricgw: endpoint is required")
	case c.MSPID == "":
		return errors.New("fabricgw: msp id is required")
	case c.CertPath == "" || c.KeyPath == "":
		return errors.New("fabricgw: certificate and key paths are required")
	case c.TLSCertPath == "":
		return errors.New("fabricgw: tls certificate path is required")
	case c.Channel == "" || c.Chaincode == "":
		return errors.New("fabricgw: channel and chaincode are required")
	}
	return nil
}

// Client is a ledger.Client backed by a Fabric Gateway connection.
type Client struct {
	cfg     Config
	conn    *grpc.ClientConn
	gw      *client.Gateway
	network *client.Network
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ ledger.Client = (*Client)(nil)

// Dial opens the gRPC connection and gateway session. The caller owns the
// returned client and must Close it.
func Dial(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := newGrpcConnection(cfg)
	if err != nil {
		return nil, err
	}
	id, err := newIdentity(cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	sign, err := newSign(cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	gw, err := client.Connect(
		id,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(cfg.EvaluateTimeout),
		client.WithEndorseTimeout(cfg.EndorseTimeout),
		client.WithSubmitTimeout(cfg.SubmitTimeout),
		client.WithCommitStatusTimeout(cfg.CommitTimeout),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("fabricgw: connect gateway: %w: %v", ledger.ErrUnavailable, err)
	}

	logger.Info("fabric gateway connected",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("msp_id", cfg.MSPID),
		zap.String("channel", cfg.Channel),
		zap.String("chaincode", cfg.Chaincode),
	)
	return &Client{
		cfg:     cfg,
		conn:    conn,
		gw:      gw,
		network: gw.GetNetwork(cfg.Channel),
		logger:  logger,
	}, nil
}

func newGrpcConnection(cfg Config) (*grpc.ClientConn, error) {
	pemBytes, err := os.ReadFile(cfg.TLSCertPath)
	if err != nil {
		return nil, fmt.Errorf("fabricgw: read tls certificate: %w", err)
	}
	tlsCert, err := identity.CertificateFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("fabricgw: parse tls certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(tlsCert)
	creds := credentials.NewClientTLSFromCert(pool, cfg.ServerNameOverride)

	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("fabricgw: create grpc connection: %w: %v", ledger.ErrUnavailable, err)
	}
	return conn, nil
}

func newIdentity(cfg Config) (*identity.X509Identity, error) {
	pemBytes, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return nil, fmt.Errorf("fabricgw: read certificate: %w", err)
	}
	cert, err := identity.CertificateFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("fabricgw: parse certificate: %w", err)
	}
	id, err := identity.NewX509Identity(cfg.MSPID, cert)
	if err != nil {
		return nil, fmt.Errorf("fabricgw: create identity: %w", err)
	}
	return id, nil
}

func newSign(cfg Config) (identity.Sign, error) {
	pemBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("fabricgw: read private key: %w", err)
	}
	key, err := identity.PrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("fabricgw: parse private key: %w", err)
	}
	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		return nil, fmt.Errorf("fabricgw: create signer: %w", err)
	}
	return sign, nil
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Submit endorses and submits tx in the background. The transaction ID is
// acknowledged once the orderer accepted the transaction.
func (c *Client) Submit(ctx context.Context, tx ledger.Transaction) *ledger.Pending {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ledger.Failed(ledger.ErrClosed)
	}
	p := ledger.NewPending()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, tx, p)
	}()
	return p
}

func (c *Client) run(ctx context.Context, tx ledger.Transaction, p *ledger.Pending) {
	name := tx.Name()
	contract := c.network.GetContractWithName(c.cfg.Chaincode, tx.Contract)
	proposal, err := contract.NewProposal(tx.Function, client.WithArguments(tx.Args...))
	if err != nil {
		p.Fail(fmt.Errorf("%s: create proposal: %w", name, err))
		return
	}
	transaction, err := proposal.EndorseWithContext(ctx)
	if err != nil {
		p.Fail(wrapError(name, err))
		return
	}
	commit, err := transaction.SubmitWithContext(ctx)
	if err != nil {
		p.Fail(wrapError(name, err))
		return
	}
	txID := commit.TransactionID()
	p.Acknowledge(txID)
	c.logger.Debug("transaction submitted", zap.String("tx", name), zap.String("tx_id", txID))

	status, err := commit.StatusWithContext(ctx)
	if err != nil {
		p.Fail(wrapError(name, err))
		return
	}
	if !status.Successful {
		p.Fail(&ledger.Rejection{
			Transaction: name,
			Message:     fmt.Sprintf("transaction %s invalidated with code %s", txID, status.Code),
			Err:         ledger.ErrCommitFailed,
		})
		return
	}

	receipt := &ledger.Receipt{
		TransactionID: txID,
		BlockNumber:   status.BlockNumber,
		Result:        transaction.Result(),
	}
	ev, err := c.findEvent(ctx, txID, status.BlockNumber)
	if err != nil {
		c.logger.Warn("chaincode event lookup failed",
			zap.String("tx_id", txID), zap.Uint64("block", status.BlockNumber), zap.Error(err))
	}
	receipt.Event = ev
	p.Complete(receipt)
}

// findEvent replays chaincode events from the commit block and returns the
// one set by txID, or nil if the transaction set none.
func (c *Client) findEvent(ctx context.Context, txID string, block uint64) (*ledger.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.EventLookupTimeout)
	defer cancel()

	events, err := c.network.ChaincodeEvents(ctx, c.cfg.Chaincode, client.WithStartBlock(block))
	if err != nil {
		return nil, wrapError("chaincode events", err)
	}
	for ev := range events {
		if ev.BlockNumber > block {
			return nil, nil
		}
		if ev.TransactionID == txID {
			return toEvent(ev), nil
		}
	}
	return nil, ctx.Err()
}

// Evaluate runs a query on the gateway peer.
func (c *Client) Evaluate(ctx context.Context, tx ledger.Transaction) ([]byte, error) {
	if c.isClosed() {
		return nil, ledger.ErrClosed
	}
	contract := c.network.GetContractWithName(c.cfg.Chaincode, tx.Contract)
	proposal, err := contract.NewProposal(tx.Function, client.WithArguments(tx.Args...))
	if err != nil {
		return nil, fmt.Errorf("%s: create proposal: %w", tx.Name(), err)
	}
	result, err := proposal.EvaluateWithContext(ctx)
	if err != nil {
		return nil, wrapError(tx.Name(), err)
	}
	return result, nil
}

// Events streams chaincode events from the current block onward.
func (c *Client) Events(ctx context.Context) (<-chan ledger.Event, error) {
	if c.isClosed() {
		return nil, ledger.ErrClosed
	}
	source, err := c.network.ChaincodeEvents(ctx, c.cfg.Chaincode)
	if err != nil {
		return nil, wrapError("chaincode events", err)
	}
	out := make(chan ledger.Event)
	go func() {
		defer close(out)
		for ev := range source {
			select {
			case out <- *toEvent(ev):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close waits for in-flight submissions to settle, then closes the gateway
// and the gRPC connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()
	gwErr := c.gw.Close()
	connErr := c.conn.Close()
	c.logger.Info("fabric gateway closed")
	return errors.Join(gwErr, connErr)
}

func toEvent(ev *client.ChaincodeEvent) *ledger.Event {
	return &ledger.Event{
		BlockNumber:   ev.BlockNumber,
		TransactionID: ev.TransactionID,
		Name:          ev.EventName,
		Payload:       ev.Payload,
	}
}
