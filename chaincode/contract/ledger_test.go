package contract

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"testing"

	"therapyledger/chaincode/model"

	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/stretchr/testify/require"
)

const (
	ownerID     = "x509::CN=registry-admin,OU=admin::CN=ca.clinic.example.com"
	drAID       = "x509::CN=dr-a,OU=client::CN=ca.clinic.example.com"
	drBID       = "x509::CN=dr-b,OU=client::CN=ca.clinic.example.com"
	patientID   = "x509::CN=patient-1,OU=client::CN=ca.clinic.example.com"
	patient2ID  = "x509::CN=patient-2,OU=client::CN=ca.clinic.example.com"
	testMSP     = "ClinicMSP"
	testDigest  = "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy"
	otherDigest = "bafkreidgvpkjawlxz6sffxzwgooowe5yt7i6wsyg236mfoks77nywkptdq"
)

type fakeIdentity struct {
	id  string
	msp string
}

func (f *fakeIdentity) GetID() (string, error)    { return f.id, nil }
func (f *fakeIdentity) GetMSPID() (string, error) { return f.msp, nil }
func (f *fakeIdentity) GetAttributeValue(string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeIdentity) AssertAttributeValue(attrName, attrValue string) error {
	return fmt.Errorf("attribute '%s' not found", attrName)
}
func (f *fakeIdentity) GetX509Certificate() (*x509.Certificate, error) { return nil, nil }

// testLedger runs the three contracts against one MockStub, starting a new
// transaction for each call.
type testLedger struct {
	t         *testing.T
	stub      *shimtest.MockStub
	txCount   int
	lastTxID  string
	registry  *TherapistRegistryContract
	factory   *BookingFactoryContract
	bookings  *BookingRecordContract
	lastEvent *recordedEvent
}

type recordedEvent struct {
	Name    string
	Payload []byte
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()
	return &testLedger{
		t:        t,
		stub:     shimtest.NewMockStub("therapyledger", nil),
		registry: &TherapistRegistryContract{},
		factory:  &BookingFactoryContract{},
		bookings: &BookingRecordContract{},
	}
}

// as starts a new transaction with caller as the client identity.
func (l *testLedger) as(caller string) *contractapi.TransactionContext {
	l.drainEvents()
	l.txCount++
	l.lastTxID = fmt.Sprintf("tx-%04d", l.txCount)
	l.stub.MockTransactionStart(l.lastTxID)
	ctx := new(contractapi.TransactionContext)
	ctx.SetStub(l.stub)
	ctx.SetClientIdentity(&fakeIdentity{id: caller, msp: testMSP})
	return ctx
}

func (l *testLedger) drainEvents() {
	for {
		select {
		case ev := <-l.stub.ChaincodeEventsChannel:
			l.lastEvent = &recordedEvent{Name: ev.EventName, Payload: ev.Payload}
		default:
			return
		}
	}
}

// event returns the event set by the most recent transaction, if any.
func (l *testLedger) event() *recordedEvent {
	l.lastEvent = nil
	l.drainEvents()
	return l.lastEvent
}

func (l *testLedger) bookingEvent(name string) model.BookingEvent {
	l.t.Helper()
	ev := l.event()
	require.NotNil(l.t, ev, "expected event %s", name)
	require.Equal(l.t, name, ev.Name)
	var payload model.BookingEvent
	require.NoError(l.t, json.Unmarshal(ev.Payload, &payload))
	return payload
}

// withVerifiedTherapists initializes the registry and verifies the given therapists.
func (l *testLedger) withVerifiedTherapists(ids ...string) {
	l.t.Helper()
	_, err := l.registry.InitRegistry(l.as(ownerID))
	require.NoError(l.t, err)
	for i, id := range ids {
		_, err := l.registry.RegisterTherapist(l.as(id), fmt.Sprintf("Dr. %c", 'A'+i), "CBT")
		require.NoError(l.t, err)
		_, err = l.registry.VerifyTherapist(l.as(ownerID), id)
		require.NoError(l.t, err)
	}
	l.drainEvents()
}

func (l *testLedger) book(patient, therapist, date, timeOfDay string) string {
	l.t.Helper()
	id, err := l.factory.CreateBooking(l.as(patient), therapist, date, timeOfDay, "anon_1a2b3c4d5e6f", "individual", testDigest)
	require.NoError(l.t, err)
	return id
}

func (l *testLedger) details(caller, bookingID string) *model.Booking {
	l.t.Helper()
	b, err := l.bookings.GetDetails(l.as(caller), bookingID)
	require.NoError(l.t, err)
	return b
}
