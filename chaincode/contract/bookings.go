package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"therapyledger/chaincode/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// Object types for booking keys.
const (
	bookingObjectType          = "Booking"          // Attribute: bookingID.
	patientBookingObjectType   = "PatientBooking"   // Attributes: patientID, createdAt, bookingID.
	therapistBookingObjectType = "TherapistBooking" // Attributes: therapistID, createdAt, bookingID.
	bookingTxObjectType        = "BookingTx"        // Attribute: creating txID.
	slotObjectType             = "Slot"             // Attributes: therapistID, date, time.

	bookingIDPrefix    = "booking-"
	bookingIDHexLength = 40
)

// bookingIDForTx derives the ledger address of the booking created by txID.
// Transaction IDs are unique per channel, so addresses never collide.
func bookingIDForTx(txID string) string {
	sum := sha256.Sum256([]byte(txID))
	return bookingIDPrefix + hex.EncodeToString(sum[:])[:bookingIDHexLength]
}

func bookingKey(ctx contractapi.TransactionContextInterface, bookingID string) (string, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return "", invalidf("bookingID cannot be empty")
	}
	return ctx.GetStub().CreateCompositeKey(bookingObjectType, []string{bookingID})
}

func slotKey(ctx contractapi.TransactionContextInterface, b *model.Booking) (string, error) {
	return ctx.GetStub().CreateCompositeKey(slotObjectType, []string{b.TherapistID, b.Date, b.Time})
}

// indexSortKey orders index entries by creation time.
func indexSortKey(b *model.Booking) string {
	return fmt.Sprintf("%020d", b.CreatedAt.UnixNano())
}

// getBookingByID retrieves and unmarshals a booking.
func getBookingByID(ctx contractapi.TransactionContextInterface, bookingID string) (*model.Booking, error) {
	key, err := bookingKey(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("getBookingByID: failed to read booking '%s' from ledger: %w", bookingID, err)
	}
	if raw == nil {
		return nil, notFoundf("booking '%s' does not exist", bookingID)
	}
	var booking model.Booking
	if err := json.Unmarshal(raw, &booking); err != nil {
		return nil, fmt.Errorf("getBookingByID: failed to unmarshal booking '%s': %w", bookingID, err)
	}
	ensureBookingSchemaCompliance(&booking)
	return &booking, nil
}

// putBooking recomputes the derived status and saves the booking.
func putBooking(ctx contractapi.TransactionContextInterface, booking *model.Booking) error {
	booking.Status = booking.DeriveStatus()
	ensureBookingSchemaCompliance(booking)
	key, err := bookingKey(ctx, booking.ID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(booking)
	if err != nil {
		return fmt.Errorf("failed to marshal booking '%s': %w", booking.ID, err)
	}
	if err := ctx.GetStub().PutState(key, raw); err != nil {
		return fmt.Errorf("failed to save booking '%s': %w", booking.ID, err)
	}
	return nil
}

// writeIndexes stores the per-party, per-transaction and slot entries of a new booking.
func writeIndexes(ctx contractapi.TransactionContextInterface, booking *model.Booking) error {
	stub := ctx.GetStub()
	sortKey := indexSortKey(booking)
	entries := []struct {
		objectType string
		attrs      []string
	}{
		{patientBookingObjectType, []string{booking.PatientID, sortKey, booking.ID}},
		{therapistBookingObjectType, []string{booking.TherapistID, sortKey, booking.ID}},
		{bookingTxObjectType, []string{booking.TransactionID}},
		{slotObjectType, []string{booking.TherapistID, booking.Date, booking.Time}},
	}
	for _, e := range entries {
		key, err := stub.CreateCompositeKey(e.objectType, e.attrs)
		if err != nil {
			return fmt.Errorf("failed to create %s key for booking '%s': %w", e.objectType, booking.ID, err)
		}
		if err := stub.PutState(key, []byte(booking.ID)); err != nil {
			return fmt.Errorf("failed to save %s entry for booking '%s': %w", e.objectType, booking.ID, err)
		}
	}
	return nil
}

// slotHolder returns the booking holding the slot, or "" if the slot is free.
func slotHolder(ctx contractapi.TransactionContextInterface, b *model.Booking) (string, error) {
	key, err := slotKey(ctx, b)
	if err != nil {
		return "", fmt.Errorf("failed to create slot key: %w", err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return "", fmt.Errorf("failed to read slot: %w", err)
	}
	return string(raw), nil
}

func releaseSlot(ctx contractapi.TransactionContextInterface, b *model.Booking) error {
	holder, err := slotHolder(ctx, b)
	if err != nil {
		return err
	}
	if holder != b.ID {
		return nil
	}
	key, err := slotKey(ctx, b)
	if err != nil {
		return fmt.Errorf("failed to create slot key: %w", err)
	}
	if err := ctx.GetStub().DelState(key); err != nil {
		return fmt.Errorf("failed to release slot of booking '%s': %w", b.ID, err)
	}
	return nil
}

// indexedBookingIDs lists the booking IDs stored under a party index in creation order.
func indexedBookingIDs(ctx contractapi.TransactionContextInterface, objectType, partyID string) ([]string, error) {
	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(objectType, []string{partyID})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s iterator: %w", objectType, err)
	}
	defer iterator.Close()

	ids := []string{}
	for iterator.HasNext() {
		entry, iterErr := iterator.Next()
		if iterErr != nil {
			logger.Warningf("indexedBookingIDs: error iterating %s: %v. Skipping.", objectType, iterErr)
			continue
		}
		ids = append(ids, string(entry.Value))
	}
	return ids, nil
}

// requireBookingReader allows the booking's parties and the registry owner.
func requireBookingReader(ctx contractapi.TransactionContextInterface, booking *model.Booking) (string, error) {
	reg := NewRegistry(ctx)
	callerID, err := reg.CallerID()
	if err != nil {
		return "", err
	}
	if booking.IsParty(callerID) {
		return callerID, nil
	}
	isOwner, err := reg.IsOwner(callerID)
	if err != nil {
		return "", err
	}
	if !isOwner {
		return "", unauthorizedf("caller '%s' is not a party to booking '%s'", callerID, booking.ID)
	}
	return callerID, nil
}

// requirePartyOrOwner allows partyID itself and the registry owner.
func requirePartyOrOwner(ctx contractapi.TransactionContextInterface, partyID string) error {
	reg := NewRegistry(ctx)
	callerID, err := reg.CallerID()
	if err != nil {
		return err
	}
	if callerID == partyID {
		return nil
	}
	isOwner, err := reg.IsOwner(callerID)
	if err != nil {
		return err
	}
	if !isOwner {
		return unauthorizedf("caller '%s' may not list bookings of '%s'", callerID, partyID)
	}
	return nil
}
