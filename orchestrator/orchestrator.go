// Package orchestrator drives the booking flow from a patient's or
// therapist's session: intake upload, booking submission with a bounded wait
// for the transaction hash, background reconciliation to the real booking
// address, and the party-specific lifecycle calls.
package orchestrator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"therapyledger/chaincode/model"
	"therapyledger/ledger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultHashWait    = 5 * time.Second
	DefaultReceiptWait = 2 * time.Minute

	trackerWriteTimeout = 5 * time.Second
	dateLayout          = "2006-01-02"
	timeLayout          = "15:04"
)

// Config bounds how long the orchestrator waits on the ledger.
type Config struct {
	// HashWait bounds the wait for a submitted transaction's hash. When it
	// expires the caller gets StatusPending and reconciliation continues in
	// the background.
	HashWait time.Duration
	// ReceiptWait bounds the background wait for the commit receipt.
	ReceiptWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.HashWait <= 0 {
		c.HashWait = DefaultHashWait
	}
	if c.ReceiptWait <= 0 {
		c.ReceiptWait = DefaultReceiptWait
	}
	return c
}

// ContentStore uploads and retrieves JSON records by content digest.
type ContentStore interface {
	UploadJSON(ctx context.Context, v interface{}) (string, error)
	RetrieveJSON(ctx context.Context, digest string, v interface{}) error
}

// BookingRequest is a patient's request for a session.
type BookingRequest struct {
	TherapistID string
	Date        string // YYYY-MM-DD
	Time        string // HH:MM
	SessionType string
	Intake      ClinicalIntakeRecord
}

func (r BookingRequest) normalize() (BookingRequest, error) {
	r.TherapistID = strings.TrimSpace(r.TherapistID)
	if r.TherapistID == "" {
		return r, errors.New("therapist id is required")
	}
	r.Date = strings.TrimSpace(r.Date)
	if _, err := time.Parse(dateLayout, r.Date); err != nil {
		return r, fmt.Errorf("date %q is not YYYY-MM-DD", r.Date)
	}
	r.Time = strings.TrimSpace(r.Time)
	if _, err := time.Parse(timeLayout, r.Time); err != nil {
		return r, fmt.Errorf("time %q is not HH:MM", r.Time)
	}
	st, err := model.ParseSessionType(r.SessionType)
	if err != nil {
		return r, err
	}
	r.SessionType = string(st)
	if err := r.Intake.Validate(); err != nil {
		return r, err
	}
	r.Intake = r.Intake.Normalized()
	return r, nil
}

// BookingResult reports the outcome of CreateBooking. ContractAddress is set
// only once the real booking address has been read from the ledger.
type BookingResult struct {
	Success         bool   `json:"success"`
	Status          Status `json:"status"`
	ProvisionalID   string `json:"provisionalId,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
	ContractAddress string `json:"contractAddress,omitempty"`
	ContentDigest   string `json:"contentDigest,omitempty"`
	AnonymousID     string `json:"anonymousId,omitempty"`
	Error           string `json:"error,omitempty"`
}

// TxResult reports the outcome of a confirmation, cancellation or digest
// update. Reference can be passed to AwaitTx.
type TxResult struct {
	Success         bool   `json:"success"`
	Status          Status `json:"status"`
	Reference       string `json:"reference,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
	ContentDigest   string `json:"contentDigest,omitempty"`
	Error           string `json:"error,omitempty"`
}

// BookingUpdate is a decoded booking event from the ledger.
type BookingUpdate struct {
	Name          string
	BlockNumber   uint64
	TransactionID string
	Booking       model.BookingEvent
}

// Orchestrator is safe for concurrent use. It shares one ledger client and
// one session identity across all bookings.
type Orchestrator struct {
	ledger  ledger.Client
	content ContentStore
	tracker Tracker
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	me          *model.CallerIdentity
	inflight    map[string]*ledger.Pending
	reconciling map[string]chan struct{}
}

// New creates an Orchestrator. tracker defaults to a MemoryTracker; logger
// and metrics may be nil.
func New(cfg Config, client ledger.Client, content ContentStore, tracker Tracker, logger *zap.Logger, metrics *Metrics) (*Orchestrator, error) {
	if client == nil || content == nil {
		return nil, errors.New("orchestrator: ledger client and content store are required")
	}
	if tracker == nil {
		tracker = NewMemoryTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		ledger:      client,
		content:     content,
		tracker:     tracker,
		cfg:         cfg.withDefaults(),
		logger:      logger,
		metrics:     metrics,
		tracer:      otel.Tracer("therapyledger.orchestrator"),
		ctx:         ctx,
		cancel:      cancel,
		inflight:    make(map[string]*ledger.Pending),
		reconciling: make(map[string]chan struct{}),
	}, nil
}

// NewAnonymousID returns "anon_" followed by 12 random hex characters.
func NewAnonymousID() string {
	id := uuid.New()
	return "anon_" + hex.EncodeToString(id[:6])
}

// NewProvisionalID returns a placeholder reference for a booking whose
// address is not yet known.
func NewProvisionalID() string {
	return "pending-" + uuid.NewString()
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (o *Orchestrator) failBooking(span trace.Span, res *BookingResult, err error) (*BookingResult, error) {
	fail(span, err)
	res.Success = false
	res.Status = StatusFailed
	res.Error = err.Error()
	return res, err
}

// CreateBooking uploads the intake and submits the booking. It returns once
// the transaction hash is known or HashWait expires, whichever comes first;
// in the latter case the result has StatusPending and is not an error.
func (o *Orchestrator) CreateBooking(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.create_booking")
	defer span.End()

	res := &BookingResult{}
	if o.isClosed() {
		return o.failBooking(span, res, ErrClosed)
	}
	req, err := req.normalize()
	if err != nil {
		return o.failBooking(span, res, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}

	res.AnonymousID = NewAnonymousID()
	o.logger.Info("anonymous identity generated", zap.String("anonymous_id", res.AnonymousID))

	digest, err := o.content.UploadJSON(ctx, req.Intake)
	if err != nil {
		return o.failBooking(span, res, fmt.Errorf("%w: %w", ErrContentStore, err))
	}
	res.ContentDigest = digest

	now := time.Now().UTC()
	tracked := &TrackedBooking{
		ProvisionalID: NewProvisionalID(),
		AnonymousID:   res.AnonymousID,
		TherapistID:   req.TherapistID,
		ContentDigest: digest,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	res.ProvisionalID = tracked.ProvisionalID
	span.SetAttributes(attribute.String("provisional_id", tracked.ProvisionalID))
	if err := o.tracker.Save(ctx, tracked); err != nil {
		return o.failBooking(span, res, err)
	}

	pending := o.submit(ctx, ledger.Transaction{
		Contract: model.FactoryContractName,
		Function: "CreateBooking",
		Args:     []string{req.TherapistID, req.Date, req.Time, res.AnonymousID, req.SessionType, digest},
	})

	start := time.Now()
	txID, err := o.waitHash(ctx, pending)
	switch {
	case err == nil:
		tracked.Status = StatusSubmitted
		tracked.TransactionHash = txID
	case errors.Is(err, errHashWaitExpired):
		tracked.Status = StatusPending
	default:
		err = classify(err)
		tracked.Status = StatusFailed
		tracked.Error = err.Error()
		o.saveTracked(tracked)
		o.metrics.ObserveSubmission("create_booking", StatusFailed, time.Since(start))
		o.logger.Warn("booking submission failed",
			zap.String("provisional_id", tracked.ProvisionalID), zap.Error(err))
		return o.failBooking(span, res, err)
	}
	o.saveTracked(tracked)
	o.metrics.ObserveSubmission("create_booking", tracked.Status, time.Since(start))
	o.logger.Info("booking submitted",
		zap.String("provisional_id", tracked.ProvisionalID),
		zap.String("status", string(tracked.Status)),
		zap.String("tx_id", tracked.TransactionHash),
	)
	o.reconcileInBackground(*tracked, pending)

	res.Success = true
	res.Status = tracked.Status
	res.TransactionHash = tracked.TransactionHash
	span.SetAttributes(attribute.String("status", string(res.Status)))
	return res, nil
}

var errHashWaitExpired = errors.New("hash wait expired")

// submit hands tx to the ledger under its own ReceiptWait deadline. Neither
// the caller's context nor Close cancels it: abandoning the wait must not
// abort a transaction that may already be ordered.
func (o *Orchestrator) submit(ctx context.Context, tx ledger.Transaction) *ledger.Pending {
	submitCtx, release := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ReceiptWait)
	p := o.ledger.Submit(submitCtx, tx)
	go func() {
		defer release()
		select {
		case <-p.Done():
		case <-submitCtx.Done():
		}
	}()
	return p
}

// waitHash waits at most HashWait for the transaction hash. It returns
// errHashWaitExpired when the bound expires or the caller stops waiting.
func (o *Orchestrator) waitHash(ctx context.Context, p *ledger.Pending) (string, error) {
	hctx, cancel := context.WithTimeout(ctx, o.cfg.HashWait)
	defer cancel()
	txID, err := p.Hash(hctx)
	if err != nil && hctx.Err() != nil && p.TransactionID() == "" {
		select {
		case <-p.Done():
			if _, rerr := p.Receipt(context.Background()); rerr != nil {
				return "", rerr
			}
		default:
		}
		return "", errHashWaitExpired
	}
	return txID, err
}

// saveTracked persists an update made after submission. Failures are logged;
// the ledger, not the tracker, is authoritative from here on.
func (o *Orchestrator) saveTracked(tb *TrackedBooking) {
	tb.UpdatedAt = time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), trackerWriteTimeout)
	defer cancel()
	if err := o.tracker.Save(ctx, tb); err != nil {
		o.logger.Error("failed to save tracked booking",
			zap.String("provisional_id", tb.ProvisionalID), zap.Error(err))
	}
}

// reconcileInBackground waits for the receipt until ReceiptWait passes or the
// orchestrator closes. Stopping early leaves the submission running.
func (o *Orchestrator) reconcileInBackground(tb TrackedBooking, p *ledger.Pending) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	done := make(chan struct{})
	o.reconciling[tb.ProvisionalID] = done
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.reconciling, tb.ProvisionalID)
			o.mu.Unlock()
			close(done)
		}()

		ctx, cancel := context.WithTimeout(o.ctx, o.cfg.ReceiptWait)
		defer cancel()

		if tb.TransactionHash == "" {
			if txID, err := p.Hash(ctx); err == nil && txID != "" {
				tb.TransactionHash = txID
				tb.Status = StatusSubmitted
				o.saveTracked(&tb)
			}
		}
		receipt, err := p.Receipt(ctx)
		switch {
		case err == nil:
			o.settle(&tb, receipt)
		case ctx.Err() != nil:
			o.metrics.ObserveReconciliation("abandoned")
			o.logger.Info("stopped waiting for booking receipt",
				zap.String("provisional_id", tb.ProvisionalID), zap.String("tx_id", tb.TransactionHash))
		default:
			err = classify(err)
			tb.Status = StatusFailed
			tb.Error = err.Error()
			o.saveTracked(&tb)
			o.metrics.ObserveReconciliation("failed")
			o.logger.Warn("booking transaction failed",
				zap.String("provisional_id", tb.ProvisionalID), zap.Error(err))
		}
	}()
}

// settle replaces the provisional reference with the address carried by the
// booking's creation event.
func (o *Orchestrator) settle(tb *TrackedBooking, receipt *ledger.Receipt) {
	tb.TransactionHash = receipt.TransactionID
	bookingID, err := bookingIDFromReceipt(receipt)
	if err != nil {
		o.saveTracked(tb)
		o.metrics.ObserveReconciliation("unresolved")
		o.logger.Warn("committed booking carried no address",
			zap.String("provisional_id", tb.ProvisionalID), zap.String("tx_id", tb.TransactionHash), zap.Error(err))
		return
	}
	tb.BookingID = bookingID
	tb.Status = StatusConfirmed
	o.saveTracked(tb)
	o.metrics.ObserveReconciliation("confirmed")
	o.logger.Info("booking reconciled",
		zap.String("provisional_id", tb.ProvisionalID),
		zap.String("booking_id", bookingID),
		zap.Uint64("block", receipt.BlockNumber),
	)
}

func bookingIDFromReceipt(r *ledger.Receipt) (string, error) {
	if r.Event != nil && r.Event.Name == model.EventBookingCreated {
		var ev model.BookingEvent
		if err := json.Unmarshal(r.Event.Payload, &ev); err != nil {
			return "", fmt.Errorf("decode %s event: %w", r.Event.Name, err)
		}
		if ev.BookingID != "" {
			return ev.BookingID, nil
		}
	}
	if id := strings.TrimSpace(string(r.Result)); id != "" {
		return id, nil
	}
	return "", errors.New("no creation event or result")
}

func resultFromTracked(tb *TrackedBooking) *BookingResult {
	return &BookingResult{
		Success:         tb.Status != StatusFailed,
		Status:          tb.Status,
		ProvisionalID:   tb.ProvisionalID,
		TransactionHash: tb.TransactionHash,
		ContractAddress: tb.BookingID,
		ContentDigest:   tb.ContentDigest,
		AnonymousID:     tb.AnonymousID,
		Error:           tb.Error,
	}
}

// Track returns the current state of a submitted booking without waiting.
func (o *Orchestrator) Track(ctx context.Context, provisionalID string) (*BookingResult, error) {
	tb, err := o.tracker.Get(ctx, provisionalID)
	if err != nil {
		return nil, err
	}
	return resultFromTracked(tb), nil
}

// Await waits for the background reconciler of provisionalID to finish, or
// for ctx to end, and returns the booking's state at that point. Without a
// running reconciler it falls back to Reconcile.
func (o *Orchestrator) Await(ctx context.Context, provisionalID string) (*BookingResult, error) {
	o.mu.Lock()
	done := o.reconciling[provisionalID]
	o.mu.Unlock()
	if done == nil {
		return o.Reconcile(ctx, provisionalID)
	}
	select {
	case <-done:
		return o.Track(ctx, provisionalID)
	case <-ctx.Done():
		return o.Track(context.WithoutCancel(ctx), provisionalID)
	}
}

// Reconcile looks a submitted booking up on the ledger, by its transaction ID
// when one was recorded and otherwise by its anonymous ID among the session's
// bookings. It is the recovery path when the background reconciler gave up or
// the process restarted. A booking still missing once ReceiptWait has passed
// since submission is marked failed.
func (o *Orchestrator) Reconcile(ctx context.Context, provisionalID string) (*BookingResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("provisional_id", provisionalID))

	tb, err := o.tracker.Get(ctx, provisionalID)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	if tb.Status.Settled() {
		return resultFromTracked(tb), nil
	}
	bookingID, txID, err := o.locate(ctx, tb)
	if err != nil {
		fail(span, err)
		return resultFromTracked(tb), err
	}
	if bookingID == "" {
		if time.Since(tb.CreatedAt) < o.cfg.ReceiptWait {
			return resultFromTracked(tb), nil
		}
		tb.Status = StatusFailed
		tb.Error = fmt.Sprintf("booking not found on the ledger %s after submission", o.cfg.ReceiptWait)
		o.saveTracked(tb)
		o.metrics.ObserveReconciliation("expired")
		o.logger.Warn("booking never reached the ledger",
			zap.String("provisional_id", tb.ProvisionalID), zap.String("tx_id", tb.TransactionHash))
		return resultFromTracked(tb), nil
	}
	tb.BookingID = bookingID
	if txID != "" {
		tb.TransactionHash = txID
	}
	tb.Status = StatusConfirmed
	o.saveTracked(tb)
	o.metrics.ObserveReconciliation("recovered")
	o.logger.Info("booking recovered from ledger",
		zap.String("provisional_id", tb.ProvisionalID), zap.String("booking_id", tb.BookingID))
	return resultFromTracked(tb), nil
}

// locate returns the ledger address and creating transaction of a tracked
// booking, or empty strings if the ledger does not hold it.
func (o *Orchestrator) locate(ctx context.Context, tb *TrackedBooking) (string, string, error) {
	if tb.TransactionHash != "" {
		raw, err := o.evaluate(ctx, model.FactoryContractName, "GetBookingByTransaction", tb.TransactionHash)
		if err == nil {
			return strings.TrimSpace(string(raw)), tb.TransactionHash, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", "", err
		}
	}
	if tb.AnonymousID == "" {
		return "", "", nil
	}
	mine, err := o.MyBookings(ctx)
	if err != nil {
		return "", "", err
	}
	for _, b := range mine {
		if b.AnonymousID == tb.AnonymousID {
			return b.ID, b.TransactionID, nil
		}
	}
	return "", "", nil
}

// ReconcileAll runs Reconcile over every unsettled tracked booking and returns
// how many reached StatusConfirmed.
func (o *Orchestrator) ReconcileAll(ctx context.Context) (int, error) {
	unsettled, err := o.tracker.Unsettled(ctx)
	if err != nil {
		return 0, err
	}
	var confirmed int
	var errs []error
	for _, tb := range unsettled {
		res, err := o.Reconcile(ctx, tb.ProvisionalID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Status == StatusConfirmed {
			confirmed++
		}
	}
	return confirmed, errors.Join(errs...)
}

func (o *Orchestrator) evaluate(ctx context.Context, contract, function string, args ...string) ([]byte, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	raw, err := o.ledger.Evaluate(ctx, ledger.Transaction{Contract: contract, Function: function, Args: args})
	if err != nil {
		return nil, classify(err)
	}
	return raw, nil
}

func (o *Orchestrator) evaluateJSON(ctx context.Context, v interface{}, contract, function string, args ...string) error {
	raw, err := o.evaluate(ctx, contract, function, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode %s:%s result: %v", ErrLedgerFailure, contract, function, err)
	}
	return nil
}

// Identity returns the session's ledger identity. It is resolved on first use
// and cached; a failed lookup is retried on the next call.
func (o *Orchestrator) Identity(ctx context.Context) (*model.CallerIdentity, error) {
	o.mu.Lock()
	me := o.me
	o.mu.Unlock()
	if me != nil {
		return me, nil
	}
	var resolved model.CallerIdentity
	if err := o.evaluateJSON(ctx, &resolved, model.RegistryContractName, "WhoAmI"); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.me == nil {
		o.me = &resolved
	}
	return o.me, nil
}

// Details reads a booking. Only its parties and the registry owner may.
func (o *Orchestrator) Details(ctx context.Context, bookingID string) (*model.Booking, error) {
	var b model.Booking
	if err := o.evaluateJSON(ctx, &b, model.BookingContractName, "GetDetails", bookingID); err != nil {
		return nil, err
	}
	return &b, nil
}

// Intake reads a booking's clinical intake, verified against its digest.
func (o *Orchestrator) Intake(ctx context.Context, bookingID string) (*ClinicalIntakeRecord, error) {
	b, err := o.Details(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	var rec ClinicalIntakeRecord
	if err := o.content.RetrieveJSON(ctx, b.ClinicalDataDigest, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContentStore, err)
	}
	return &rec, nil
}

// VerifiedTherapists lists the therapists that can currently be booked.
func (o *Orchestrator) VerifiedTherapists(ctx context.Context) ([]*model.Therapist, error) {
	var therapists []*model.Therapist
	if err := o.evaluateJSON(ctx, &therapists, model.RegistryContractName, "GetVerifiedTherapists"); err != nil {
		return nil, err
	}
	return therapists, nil
}

// MyBookings lists the bookings the session identity is a party to.
func (o *Orchestrator) MyBookings(ctx context.Context) ([]*model.Booking, error) {
	var bookings []*model.Booking
	if err := o.evaluateJSON(ctx, &bookings, model.FactoryContractName, "GetMyBookings"); err != nil {
		return nil, err
	}
	return bookings, nil
}

// Confirm confirms a booking in the session identity's role. A session that
// is neither the patient nor the therapist gets ErrNotAParty; no role is
// ever assumed.
func (o *Orchestrator) Confirm(ctx context.Context, bookingID string) (*TxResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID))

	b, err := o.Details(ctx, bookingID)
	if errors.Is(err, ErrIdentity) {
		err = fmt.Errorf("%w: %w", ErrNotAParty, err)
	}
	if err != nil {
		return o.failTx(span, &TxResult{}, err)
	}
	me, err := o.Identity(ctx)
	if err != nil {
		return o.failTx(span, &TxResult{}, err)
	}

	var function string
	switch me.ID {
	case b.PatientID:
		function = "ConfirmByPatient"
	case b.TherapistID:
		function = "ConfirmByTherapist"
	default:
		return o.failTx(span, &TxResult{}, ErrNotAParty)
	}
	span.SetAttributes(attribute.String("function", function))
	return o.submitTx(ctx, span, "confirm", ledger.Transaction{
		Contract: model.BookingContractName,
		Function: function,
		Args:     []string{bookingID},
	})
}

// Cancel cancels a booking that is not yet fully confirmed.
func (o *Orchestrator) Cancel(ctx context.Context, bookingID string) (*TxResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID))

	return o.submitTx(ctx, span, "cancel", ledger.Transaction{
		Contract: model.BookingContractName,
		Function: "CancelAppointment",
		Args:     []string{bookingID},
	})
}

// UpdateIntake uploads a revised intake and points the booking at it.
func (o *Orchestrator) UpdateIntake(ctx context.Context, bookingID string, intake ClinicalIntakeRecord) (*TxResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.update_intake")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID))

	if err := intake.Validate(); err != nil {
		return o.failTx(span, &TxResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	digest, err := o.content.UploadJSON(ctx, intake.Normalized())
	if err != nil {
		return o.failTx(span, &TxResult{}, fmt.Errorf("%w: %w", ErrContentStore, err))
	}
	res, err := o.submitTx(ctx, span, "update_intake", ledger.Transaction{
		Contract: model.BookingContractName,
		Function: "UpdateClinicalDataDigest",
		Args:     []string{bookingID, digest},
	})
	if res != nil {
		res.ContentDigest = digest
	}
	return res, err
}

func (o *Orchestrator) failTx(span trace.Span, res *TxResult, err error) (*TxResult, error) {
	fail(span, err)
	res.Success = false
	res.Status = StatusFailed
	res.Error = err.Error()
	return res, err
}

// submitTx submits tx and waits at most HashWait for its hash.
func (o *Orchestrator) submitTx(ctx context.Context, span trace.Span, op string, tx ledger.Transaction) (*TxResult, error) {
	res := &TxResult{Reference: "tx-" + uuid.NewString()}
	if o.isClosed() {
		return o.failTx(span, res, ErrClosed)
	}

	p := o.submit(ctx, tx)
	start := time.Now()
	txID, err := o.waitHash(ctx, p)
	switch {
	case err == nil:
		res.Status = StatusSubmitted
		res.TransactionHash = txID
	case errors.Is(err, errHashWaitExpired):
		res.Status = StatusPending
	default:
		o.metrics.ObserveSubmission(op, StatusFailed, time.Since(start))
		return o.failTx(span, res, classify(err))
	}
	o.metrics.ObserveSubmission(op, res.Status, time.Since(start))
	o.logger.Info("transaction submitted",
		zap.String("tx", tx.Name()),
		zap.String("reference", res.Reference),
		zap.String("status", string(res.Status)),
		zap.String("tx_id", res.TransactionHash),
	)
	o.trackTx(res.Reference, p)
	res.Success = true
	return res, nil
}

// trackTx keeps a settled handle available to AwaitTx for ReceiptWait.
func (o *Orchestrator) trackTx(ref string, p *ledger.Pending) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.inflight[ref] = p
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.inflight, ref)
			o.mu.Unlock()
		}()
		select {
		case <-p.Done():
		case <-o.ctx.Done():
			return
		}
		select {
		case <-time.After(o.cfg.ReceiptWait):
		case <-o.ctx.Done():
		}
	}()
}

// AwaitTx waits for a transaction submitted by Confirm, Cancel or
// UpdateIntake to commit. If ctx ends first the current status is returned
// without error.
func (o *Orchestrator) AwaitTx(ctx context.Context, ref string) (*TxResult, error) {
	o.mu.Lock()
	p := o.inflight[ref]
	o.mu.Unlock()
	if p == nil {
		return nil, ErrUnknownReference
	}
	res := &TxResult{Reference: ref}
	receipt, err := p.Receipt(ctx)
	switch {
	case err == nil:
		res.Success = true
		res.Status = StatusConfirmed
		res.TransactionHash = receipt.TransactionID
		return res, nil
	case ctx.Err() != nil:
		res.Success = true
		res.Status = StatusPending
		if res.TransactionHash = p.TransactionID(); res.TransactionHash != "" {
			res.Status = StatusSubmitted
		}
		return res, nil
	default:
		err = classify(err)
		res.Status = StatusFailed
		res.TransactionHash = p.TransactionID()
		res.Error = err.Error()
		return res, err
	}
}

func isBookingEvent(name string) bool {
	switch name {
	case model.EventBookingCreated,
		model.EventConfirmedByPatient,
		model.EventConfirmedByTherapist,
		model.EventAppointmentCancelled,
		model.EventClinicalDataDigestUpdated:
		return true
	}
	return false
}

// WatchBookings streams booking events until ctx ends. Events that fail to
// decode are logged and skipped.
func (o *Orchestrator) WatchBookings(ctx context.Context) (<-chan BookingUpdate, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	events, err := o.ledger.Events(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make(chan BookingUpdate)
	go func() {
		defer close(out)
		for ev := range events {
			if !isBookingEvent(ev.Name) {
				continue
			}
			var payload model.BookingEvent
			if err := json.Unmarshal(ev.Payload, &payload); err != nil {
				o.logger.Warn("skipping undecodable booking event",
					zap.String("event", ev.Name), zap.String("tx_id", ev.TransactionID), zap.Error(err))
				continue
			}
			update := BookingUpdate{
				Name:          ev.Name,
				BlockNumber:   ev.BlockNumber,
				TransactionID: ev.TransactionID,
				Booking:       payload,
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close stops all background waiting and returns once the reconcilers have
// exited. Submitted transactions are not retracted; unsettled bookings stay
// in the tracker for a later Reconcile.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.logger.Info("orchestrator closed")
	return nil
}
