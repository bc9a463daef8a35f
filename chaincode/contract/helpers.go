package contract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"therapyledger/chaincode/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("therapyledger.contract")

// Constants for input validation and limits
const (
	maxStringInputLength = 256
	maxIdentityLength    = 4096 // base64 X.509 IDs carry full subject and issuer DNs
	maxAnonymousIDLength = 64
	maxDigestLength      = 128
	defaultPageSize      = 10
	maxPageSize          = 100

	bookingDateLayout = "2006-01-02"
	bookingTimeLayout = "15:04"
)

// --- Validation Helper Functions ---

func validateRequiredString(input, field string, max int) error {
	if strings.TrimSpace(input) == "" {
		return invalidf("%s cannot be empty", field)
	}
	if len(input) > max {
		return invalidf("%s exceeds max length %d", field, max)
	}
	return nil
}

// validateDigest accepts printable ASCII without whitespace. CIDs are
// multibase strings, so nothing else is expected here.
func validateDigest(digest, field string) error {
	if err := validateRequiredString(digest, field, maxDigestLength); err != nil {
		return err
	}
	for _, c := range digest {
		if c <= ' ' || c > '~' {
			return invalidf("%s contains invalid character %q", field, c)
		}
	}
	return nil
}

func normalizeDate(s string) (string, error) {
	t, err := time.Parse(bookingDateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", invalidf("date '%s' must be formatted YYYY-MM-DD", s)
	}
	return t.Format(bookingDateLayout), nil
}

func normalizeTime(s string) (string, error) {
	t, err := time.Parse(bookingTimeLayout, strings.TrimSpace(s))
	if err != nil {
		return "", invalidf("time '%s' must be formatted HH:MM (24h)", s)
	}
	return t.Format(bookingTimeLayout), nil
}

func parsePageSize(pageSizeStr string) int32 {
	pageSize, err := strconv.ParseInt(pageSizeStr, 10, 32)
	if err != nil || pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return int32(pageSize)
}

func txTimestamp(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

// ensureBookingSchemaCompliance replaces nil slices so contractapi's return
// schema validation does not reject the value.
func ensureBookingSchemaCompliance(booking *model.Booking) {
	if booking == nil {
		return
	}
	if booking.DigestHistory == nil {
		booking.DigestHistory = []model.DigestRevision{}
	}
}

// --- Events ---

func emitEvent(ctx contractapi.TransactionContextInterface, eventName string, payload interface{}) {
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("emitEvent: failed to marshal payload for event '%s': %v", eventName, err)
		return
	}
	if errSet := ctx.GetStub().SetEvent(eventName, eventBytes); errSet != nil {
		logger.Warningf("emitEvent: failed to set event '%s': %v", eventName, errSet)
	}
}

func emitBookingEvent(ctx contractapi.TransactionContextInterface, eventName string, booking *model.Booking, actorID, previousDigest string) {
	if booking == nil {
		logger.Errorf("emitBookingEvent: cannot emit event '%s', booking is nil", eventName)
		return
	}
	emitEvent(ctx, eventName, model.BookingEvent{
		BookingID:            booking.ID,
		PatientID:            booking.PatientID,
		TherapistID:          booking.TherapistID,
		Status:               booking.Status,
		ActorID:              actorID,
		ClinicalDataDigest:   booking.ClinicalDataDigest,
		PreviousDigest:       previousDigest,
		TransactionTimestamp: booking.LastUpdatedAt.Format(time.RFC3339),
	})
}

func emitTherapistEvent(ctx contractapi.TransactionContextInterface, eventName string, therapist *model.Therapist, actorID string) {
	emitEvent(ctx, eventName, model.TherapistEvent{
		TherapistID:          therapist.ID,
		Name:                 therapist.Name,
		ActorID:              actorID,
		TransactionTimestamp: therapist.LastUpdatedAt.Format(time.RFC3339),
	})
}
