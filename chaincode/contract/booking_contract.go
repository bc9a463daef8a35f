package contract

import (
	"therapyledger/chaincode/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// BookingRecordContract drives the lifecycle of a single booking.
// @contract:BookingRecord
type BookingRecordContract struct {
	contractapi.Contract
}

type bookingParty int

const (
	partyPatient bookingParty = iota
	partyTherapist
)

func (p bookingParty) String() string {
	if p == partyPatient {
		return "patient"
	}
	return "therapist"
}

// loadForTransition fetches a booking, checks the caller holds the given
// role and that the booking still accepts transitions.
func loadForTransition(ctx contractapi.TransactionContextInterface, bookingID string, role bookingParty) (*model.Booking, string, error) {
	booking, err := getBookingByID(ctx, bookingID)
	if err != nil {
		return nil, "", err
	}
	callerID, err := NewRegistry(ctx).CallerID()
	if err != nil {
		return nil, "", err
	}
	expected := booking.PatientID
	if role == partyTherapist {
		expected = booking.TherapistID
	}
	if callerID != expected {
		return nil, "", unauthorizedf("caller '%s' is not the %s of booking '%s'", callerID, role, bookingID)
	}
	if booking.IsCancelled {
		return nil, "", conflictf("booking '%s' is cancelled", bookingID)
	}
	return booking, callerID, nil
}

func (c *BookingRecordContract) confirm(ctx contractapi.TransactionContextInterface, bookingID string, role bookingParty) (*model.Booking, error) {
	booking, callerID, err := loadForTransition(ctx, bookingID, role)
	if err != nil {
		return nil, err
	}
	if booking.IsFullyConfirmed() {
		return nil, conflictf("booking '%s' is already fully confirmed", bookingID)
	}
	already := booking.PatientConfirmed
	if role == partyTherapist {
		already = booking.TherapistConfirmed
	}
	if already {
		return nil, conflictf("booking '%s' was already confirmed by the %s", bookingID, role)
	}

	now, err := txTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	eventName := model.EventConfirmedByPatient
	if role == partyTherapist {
		booking.TherapistConfirmed = true
		eventName = model.EventConfirmedByTherapist
	} else {
		booking.PatientConfirmed = true
	}
	booking.LastUpdatedAt = now
	if err := putBooking(ctx, booking); err != nil {
		return nil, err
	}
	logger.Infof("Confirm: booking '%s' confirmed by %s, status now %s", bookingID, role, booking.Status)
	emitBookingEvent(ctx, eventName, booking, callerID, "")
	return booking, nil
}

// ConfirmByPatient records the patient's confirmation.
func (c *BookingRecordContract) ConfirmByPatient(ctx contractapi.TransactionContextInterface, bookingID string) (*model.Booking, error) {
	return c.confirm(ctx, bookingID, partyPatient)
}

// ConfirmByTherapist records the therapist's confirmation.
func (c *BookingRecordContract) ConfirmByTherapist(ctx contractapi.TransactionContextInterface, bookingID string) (*model.Booking, error) {
	return c.confirm(ctx, bookingID, partyTherapist)
}

// CancelAppointment cancels a booking that is not yet fully confirmed and
// frees its slot. Either party may cancel. Cancellation is terminal.
func (c *BookingRecordContract) CancelAppointment(ctx contractapi.TransactionContextInterface, bookingID string) (*model.Booking, error) {
	booking, err := getBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	callerID, err := NewRegistry(ctx).CallerID()
	if err != nil {
		return nil, err
	}
	if !booking.IsParty(callerID) {
		return nil, unauthorizedf("caller '%s' is not a party to booking '%s'", callerID, bookingID)
	}
	if booking.IsCancelled {
		return nil, conflictf("booking '%s' is already cancelled", bookingID)
	}
	if booking.IsFullyConfirmed() {
		return nil, conflictf("booking '%s' is fully confirmed and can no longer be cancelled", bookingID)
	}

	now, err := txTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	booking.IsCancelled = true
	booking.CancelledBy = callerID
	booking.LastUpdatedAt = now
	if err := releaseSlot(ctx, booking); err != nil {
		return nil, err
	}
	if err := putBooking(ctx, booking); err != nil {
		return nil, err
	}
	logger.Infof("CancelAppointment: booking '%s' cancelled", bookingID)
	emitBookingEvent(ctx, model.EventAppointmentCancelled, booking, callerID, "")
	return booking, nil
}

// UpdateClinicalDataDigest points the booking at a new intake record. Either
// party may update while the booking is not cancelled; the old digest is kept
// in the booking's history.
func (c *BookingRecordContract) UpdateClinicalDataDigest(ctx contractapi.TransactionContextInterface, bookingID, newDigest string) (*model.Booking, error) {
	if err := validateDigest(newDigest, "newDigest"); err != nil {
		return nil, err
	}
	booking, err := getBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	callerID, err := NewRegistry(ctx).CallerID()
	if err != nil {
		return nil, err
	}
	if !booking.IsParty(callerID) {
		return nil, unauthorizedf("caller '%s' is not a party to booking '%s'", callerID, bookingID)
	}
	if booking.IsCancelled {
		return nil, conflictf("booking '%s' is cancelled", bookingID)
	}
	if booking.ClinicalDataDigest == newDigest {
		return nil, conflictf("booking '%s' already references digest '%s'", bookingID, newDigest)
	}

	now, err := txTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	previous := booking.ClinicalDataDigest
	booking.DigestHistory = append(booking.DigestHistory, model.DigestRevision{
		Digest:     previous,
		ReplacedBy: callerID,
		ReplacedAt: now,
	})
	booking.ClinicalDataDigest = newDigest
	booking.LastUpdatedAt = now
	if err := putBooking(ctx, booking); err != nil {
		return nil, err
	}
	logger.Infof("UpdateClinicalDataDigest: booking '%s' now references '%s'", bookingID, newDigest)
	emitBookingEvent(ctx, model.EventClinicalDataDigestUpdated, booking, callerID, previous)
	return booking, nil
}

// GetDetails returns the booking as stored. Parties and the registry owner only.
func (c *BookingRecordContract) GetDetails(ctx contractapi.TransactionContextInterface, bookingID string) (*model.Booking, error) {
	booking, err := getBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if _, err := requireBookingReader(ctx, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

// IsFullyConfirmed reports whether both parties confirmed a non-cancelled booking.
func (c *BookingRecordContract) IsFullyConfirmed(ctx contractapi.TransactionContextInterface, bookingID string) (bool, error) {
	booking, err := c.GetDetails(ctx, bookingID)
	if err != nil {
		return false, err
	}
	return booking.IsFullyConfirmed(), nil
}

// GetClinicalDataDigest returns the booking's current intake reference.
func (c *BookingRecordContract) GetClinicalDataDigest(ctx contractapi.TransactionContextInterface, bookingID string) (string, error) {
	booking, err := c.GetDetails(ctx, bookingID)
	if err != nil {
		return "", err
	}
	return booking.ClinicalDataDigest, nil
}
