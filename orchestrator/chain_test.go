package orchestrator

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"therapyledger/chaincode/contract"
	"therapyledger/chaincode/model"
	"therapyledger/contentstore"
	"therapyledger/ledger"

	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
)

const (
	ownerID    = "x509::CN=registry-admin,OU=admin::CN=ca.clinic.example.com"
	drAID      = "x509::CN=dr-a,OU=client::CN=ca.clinic.example.com"
	drBID      = "x509::CN=dr-b,OU=client::CN=ca.clinic.example.com"
	patientID  = "x509::CN=patient-1,OU=client::CN=ca.clinic.example.com"
	patient2ID = "x509::CN=patient-2,OU=client::CN=ca.clinic.example.com"
	testMSP    = "ClinicMSP"
)

type fakeIdentity struct {
	id string
}

func (f *fakeIdentity) GetID() (string, error)    { return f.id, nil }
func (f *fakeIdentity) GetMSPID() (string, error) { return testMSP, nil }
func (f *fakeIdentity) GetAttributeValue(string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeIdentity) AssertAttributeValue(attrName, _ string) error {
	return fmt.Errorf("attribute '%s' not found", attrName)
}
func (f *fakeIdentity) GetX509Certificate() (*x509.Certificate, error) { return nil, nil }

// chain runs the chaincode contracts in process. Endorsement and commit
// happen in one step; the gates delay the hash and the receipt.
type chain struct {
	t        *testing.T
	mu       sync.Mutex
	stub     *shimtest.MockStub
	registry *contract.TherapistRegistryContract
	factory  *contract.BookingFactoryContract
	bookings *contract.BookingRecordContract

	txCount     int
	block       uint64
	submissions int
	down        bool
	hashGate    chan struct{}
	commitGate  chan struct{}
	subscribers []chan ledger.Event
	wg          sync.WaitGroup

	mem   *contentstore.MemoryBackend
	store *contentstore.Store
}

func newChain(t *testing.T) *chain {
	t.Helper()
	mem := contentstore.NewMemoryBackend()
	c := &chain{
		t:        t,
		stub:     shimtest.NewMockStub("therapyledger", nil),
		registry: &contract.TherapistRegistryContract{},
		factory:  &contract.BookingFactoryContract{},
		bookings: &contract.BookingRecordContract{},
		mem:      mem,
		store:    contentstore.New(nil, nil, mem),
	}
	t.Cleanup(c.wg.Wait)

	c.mustInvoke(ownerID, model.RegistryContractName, "InitRegistry")
	c.mustInvoke(drAID, model.RegistryContractName, "RegisterTherapist", "Dr. A", "Anxiety")
	c.mustInvoke(ownerID, model.RegistryContractName, "VerifyTherapist", drAID)
	c.mustInvoke(drBID, model.RegistryContractName, "RegisterTherapist", "Dr. B", "Family")
	return c
}

func (c *chain) mustInvoke(caller, contractName, function string, args ...string) {
	c.t.Helper()
	_, _, _, err := c.invoke(caller, ledger.Transaction{Contract: contractName, Function: function, Args: args})
	require.NoError(c.t, err)
}

func (c *chain) setDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

// holdHashes delays acknowledgement of every later submission until the
// returned function is called.
func (c *chain) holdHashes() (release func()) {
	return c.hold(&c.hashGate)
}

// holdCommits acknowledges later submissions but delays their receipts.
func (c *chain) holdCommits() (release func()) {
	return c.hold(&c.commitGate)
}

func (c *chain) hold(gate *chan struct{}) func() {
	ch := make(chan struct{})
	c.mu.Lock()
	*gate = ch
	c.mu.Unlock()
	var once sync.Once
	release := func() { once.Do(func() { close(ch) }) }
	c.t.Cleanup(release)
	return release
}

func (c *chain) gates() (hash, commit chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hashGate, c.commitGate
}

func (c *chain) submissionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submissions
}

func (c *chain) invoke(caller string, tx ledger.Transaction) (string, []byte, *ledger.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.stub.ChaincodeEventsChannel) > 0 {
		<-c.stub.ChaincodeEventsChannel
	}
	c.txCount++
	txID := fmt.Sprintf("%064x", c.txCount)
	c.stub.MockTransactionStart(txID)
	ctx := new(contractapi.TransactionContext)
	ctx.SetStub(c.stub)
	ctx.SetClientIdentity(&fakeIdentity{id: caller})

	out, err := c.dispatch(ctx, tx)
	if err != nil {
		return txID, nil, nil, &ledger.Rejection{Transaction: tx.Name(), Message: err.Error(), Err: ledger.ErrRejected}
	}
	result, err := encodeResult(out)
	if err != nil {
		return txID, nil, nil, err
	}

	c.block++
	var ev *ledger.Event
	select {
	case ce := <-c.stub.ChaincodeEventsChannel:
		ev = &ledger.Event{BlockNumber: c.block, TransactionID: txID, Name: ce.EventName, Payload: ce.Payload}
	default:
	}
	return txID, result, ev, nil
}

// encodeResult serializes return values the way contractapi does.
func encodeResult(v interface{}) ([]byte, error) {
	switch r := v.(type) {
	case string:
		return []byte(r), nil
	case bool:
		return []byte(strconv.FormatBool(r)), nil
	default:
		return json.Marshal(r)
	}
}

func (c *chain) dispatch(ctx *contractapi.TransactionContext, tx ledger.Transaction) (interface{}, error) {
	arg := func(i int) string {
		if i < len(tx.Args) {
			return tx.Args[i]
		}
		return ""
	}
	switch tx.Name() {
	case "TherapistRegistry:InitRegistry":
		return c.registry.InitRegistry(ctx)
	case "TherapistRegistry:RegisterTherapist":
		return c.registry.RegisterTherapist(ctx, arg(0), arg(1))
	case "TherapistRegistry:VerifyTherapist":
		return c.registry.VerifyTherapist(ctx, arg(0))
	case "TherapistRegistry:WhoAmI":
		return c.registry.WhoAmI(ctx)
	case "TherapistRegistry:GetVerifiedTherapists":
		return c.registry.GetVerifiedTherapists(ctx)
	case "BookingFactory:CreateBooking":
		return c.factory.CreateBooking(ctx, arg(0), arg(1), arg(2), arg(3), arg(4), arg(5))
	case "BookingFactory:GetBookingByTransaction":
		return c.factory.GetBookingByTransaction(ctx, arg(0))
	case "BookingFactory:GetMyBookings":
		return c.factory.GetMyBookings(ctx)
	case "BookingRecord:GetDetails":
		return c.bookings.GetDetails(ctx, arg(0))
	case "BookingRecord:ConfirmByPatient":
		return c.bookings.ConfirmByPatient(ctx, arg(0))
	case "BookingRecord:ConfirmByTherapist":
		return c.bookings.ConfirmByTherapist(ctx, arg(0))
	case "BookingRecord:CancelAppointment":
		return c.bookings.CancelAppointment(ctx, arg(0))
	case "BookingRecord:UpdateClinicalDataDigest":
		return c.bookings.UpdateClinicalDataDigest(ctx, arg(0), arg(1))
	}
	return nil, fmt.Errorf("function %s not found", tx.Name())
}

func (c *chain) publish(ev *ledger.Event) {
	if ev == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subscribers {
		select {
		case sub <- *ev:
		default:
		}
	}
}

// session is a ledger.Client acting as one identity.
func (c *chain) session(caller string) ledger.Client {
	return &chainClient{chain: c, caller: caller}
}

type chainClient struct {
	chain  *chain
	caller string
}

func (s *chainClient) Submit(ctx context.Context, tx ledger.Transaction) *ledger.Pending {
	c := s.chain
	c.mu.Lock()
	down := c.down
	if !down {
		c.submissions++
	}
	c.mu.Unlock()
	if down {
		return ledger.Failed(fmt.Errorf("%s: %w", tx.Name(), ledger.ErrUnavailable))
	}
	hashGate, commitGate := c.gates()

	p := ledger.NewPending()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if hashGate != nil {
			select {
			case <-hashGate:
			case <-ctx.Done():
				p.Fail(ctx.Err())
				return
			}
		}
		txID, result, ev, err := c.invoke(s.caller, tx)
		if err != nil {
			p.Fail(err)
			return
		}
		p.Acknowledge(txID)
		if commitGate != nil {
			select {
			case <-commitGate:
			case <-ctx.Done():
				p.Fail(ctx.Err())
				return
			}
		}
		c.publish(ev)
		p.Complete(&ledger.Receipt{TransactionID: txID, Result: result, Event: ev})
	}()
	return p
}

func (s *chainClient) Evaluate(_ context.Context, tx ledger.Transaction) ([]byte, error) {
	c := s.chain
	c.mu.Lock()
	down := c.down
	c.mu.Unlock()
	if down {
		return nil, fmt.Errorf("%s: %w", tx.Name(), ledger.ErrUnavailable)
	}
	_, result, _, err := c.invoke(s.caller, tx)
	return result, err
}

func (s *chainClient) Events(ctx context.Context) (<-chan ledger.Event, error) {
	c := s.chain
	ch := make(chan ledger.Event, 32)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()

	out := make(chan ledger.Event)
	go func() {
		defer close(out)
		for {
			select {
			case ev := <-ch:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *chainClient) Close() error { return nil }

// newOrchestrator opens a session for caller over the shared chain and
// content store.
func (c *chain) newOrchestrator(caller string, cfg Config, tracker Tracker) *Orchestrator {
	c.t.Helper()
	return c.newOrchestratorWithStore(caller, cfg, tracker, c.store)
}

func (c *chain) newOrchestratorWithStore(caller string, cfg Config, tracker Tracker, store ContentStore) *Orchestrator {
	c.t.Helper()
	o, err := New(cfg, c.session(caller), store, tracker, nil, nil)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { _ = o.Close() })
	return o
}

var errBackendDown = errors.New("connection refused")

type downBackend struct{ name string }

func (d downBackend) Name() string { return d.name }
func (d downBackend) Put(context.Context, []byte) (string, error) {
	return "", errBackendDown
}
func (d downBackend) Get(context.Context, cid.Cid) ([]byte, error) {
	return nil, errBackendDown
}
