package contract

import (
	"encoding/json"
	"fmt"
	"strings"

	"therapyledger/chaincode/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// BookingFactoryContract creates booking records and maintains the
// per-party indexes.
// @contract:BookingFactory
type BookingFactoryContract struct {
	contractapi.Contract
}

// CreateBooking books a slot with a verified therapist for the calling patient
// and returns the new booking's address.
func (c *BookingFactoryContract) CreateBooking(ctx contractapi.TransactionContextInterface, therapistID, date, timeOfDay, anonymousID, sessionType, clinicalDataDigest string) (string, error) {
	if err := validateRequiredString(therapistID, "therapistID", maxIdentityLength); err != nil {
		return "", err
	}
	normDate, err := normalizeDate(date)
	if err != nil {
		return "", err
	}
	normTime, err := normalizeTime(timeOfDay)
	if err != nil {
		return "", err
	}
	if err := validateRequiredString(anonymousID, "anonymousID", maxAnonymousIDLength); err != nil {
		return "", err
	}
	st, err := model.ParseSessionType(sessionType)
	if err != nil {
		return "", invalidf("%v", err)
	}
	if err := validateDigest(clinicalDataDigest, "clinicalDataDigest"); err != nil {
		return "", err
	}

	reg := NewRegistry(ctx)
	patientID, err := reg.CallerID()
	if err != nil {
		return "", err
	}
	if patientID == therapistID {
		return "", invalidf("a therapist cannot book a session with themselves")
	}
	therapist, err := reg.GetTherapist(therapistID)
	if err != nil {
		return "", err
	}
	if !therapist.Bookable() {
		return "", conflictf("therapist '%s' is not verified or not active", therapistID)
	}

	now, err := txTimestamp(ctx)
	if err != nil {
		return "", err
	}
	txID := ctx.GetStub().GetTxID()
	booking := &model.Booking{
		ObjectType:         bookingObjectType,
		ID:                 bookingIDForTx(txID),
		TransactionID:      txID,
		PatientID:          patientID,
		TherapistID:        therapistID,
		Date:               normDate,
		Time:               normTime,
		AnonymousID:        strings.TrimSpace(anonymousID),
		SessionType:        st,
		ClinicalDataDigest: clinicalDataDigest,
		DigestHistory:      []model.DigestRevision{},
		CreatedAt:          now,
		LastUpdatedAt:      now,
	}

	holder, err := slotHolder(ctx, booking)
	if err != nil {
		return "", err
	}
	if holder != "" {
		return "", conflictf("slot %s %s with therapist '%s' is already held by booking '%s'", normDate, normTime, therapistID, holder)
	}

	if err := putBooking(ctx, booking); err != nil {
		return "", err
	}
	if err := writeIndexes(ctx, booking); err != nil {
		return "", err
	}

	logger.Infof("CreateBooking: booking '%s' created for therapist '%s' on %s %s (tx %s)", booking.ID, therapist.Name, normDate, normTime, txID)
	emitBookingEvent(ctx, model.EventBookingCreated, booking, patientID, "")
	return booking.ID, nil
}

// GetPatientBookings lists the booking addresses of a patient in creation order.
func (c *BookingFactoryContract) GetPatientBookings(ctx contractapi.TransactionContextInterface, patientID string) ([]string, error) {
	if err := validateRequiredString(patientID, "patientID", maxIdentityLength); err != nil {
		return nil, err
	}
	if err := requirePartyOrOwner(ctx, patientID); err != nil {
		return nil, err
	}
	return indexedBookingIDs(ctx, patientBookingObjectType, patientID)
}

// GetTherapistBookings lists the booking addresses of a therapist in creation order.
func (c *BookingFactoryContract) GetTherapistBookings(ctx contractapi.TransactionContextInterface, therapistID string) ([]string, error) {
	if err := validateRequiredString(therapistID, "therapistID", maxIdentityLength); err != nil {
		return nil, err
	}
	if err := requirePartyOrOwner(ctx, therapistID); err != nil {
		return nil, err
	}
	return indexedBookingIDs(ctx, therapistBookingObjectType, therapistID)
}

// GetMyBookings returns every booking the caller is a party to.
func (c *BookingFactoryContract) GetMyBookings(ctx contractapi.TransactionContextInterface) ([]*model.Booking, error) {
	callerID, err := NewRegistry(ctx).CallerID()
	if err != nil {
		return nil, err
	}
	asPatient, err := indexedBookingIDs(ctx, patientBookingObjectType, callerID)
	if err != nil {
		return nil, err
	}
	asTherapist, err := indexedBookingIDs(ctx, therapistBookingObjectType, callerID)
	if err != nil {
		return nil, err
	}

	bookings := []*model.Booking{}
	for _, id := range append(asPatient, asTherapist...) {
		booking, err := getBookingByID(ctx, id)
		if err != nil {
			logger.Warningf("GetMyBookings: skipping indexed booking '%s': %v", id, err)
			continue
		}
		bookings = append(bookings, booking)
	}
	return bookings, nil
}

// GetBookingByTransaction resolves the booking created by txID.
func (c *BookingFactoryContract) GetBookingByTransaction(ctx contractapi.TransactionContextInterface, txID string) (string, error) {
	if err := validateRequiredString(txID, "txID", maxStringInputLength); err != nil {
		return "", err
	}
	key, err := ctx.GetStub().CreateCompositeKey(bookingTxObjectType, []string{txID})
	if err != nil {
		return "", fmt.Errorf("GetBookingByTransaction: failed to create key: %w", err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return "", fmt.Errorf("GetBookingByTransaction: failed to read index: %w", err)
	}
	if raw == nil {
		return "", notFoundf("no booking was created by transaction '%s'", txID)
	}
	booking, err := getBookingByID(ctx, string(raw))
	if err != nil {
		return "", err
	}
	if _, err := requireBookingReader(ctx, booking); err != nil {
		return "", err
	}
	return booking.ID, nil
}

// GetAllBookings pages through every booking. Owner only.
func (c *BookingFactoryContract) GetAllBookings(ctx contractapi.TransactionContextInterface, pageSizeStr string, bookmark string) (*model.PaginatedBookingResponse, error) {
	if _, err := NewRegistry(ctx).RequireOwner(); err != nil {
		return nil, err
	}
	pageSize := parsePageSize(pageSizeStr)
	logger.Infof("GetAllBookings: owner listing bookings (pageSize: %d, bookmark: '%s')", pageSize, bookmark)

	resultsIterator, metadata, err := ctx.GetStub().GetStateByPartialCompositeKeyWithPagination(bookingObjectType, []string{}, pageSize, bookmark)
	if err != nil {
		return nil, fmt.Errorf("GetAllBookings: failed to get bookings iterator: %w", err)
	}
	defer resultsIterator.Close()

	bookings := []*model.Booking{}
	fetchedCount := int32(0)
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			logger.Warningf("GetAllBookings: error iterating results: %v. Skipping.", iterErr)
			continue
		}
		var booking model.Booking
		if errUnmarshal := json.Unmarshal(queryResponse.Value, &booking); errUnmarshal != nil {
			logger.Warningf("GetAllBookings: error unmarshalling booking: %v. Skipping.", errUnmarshal)
			continue
		}
		ensureBookingSchemaCompliance(&booking)
		bookings = append(bookings, &booking)
		fetchedCount++
	}

	return &model.PaginatedBookingResponse{
		Bookings:     bookings,
		NextBookmark: metadata.GetBookmark(),
		FetchedCount: fetchedCount,
	}, nil
}
