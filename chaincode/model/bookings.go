// File: model/bookings.go
package model

import (
	"fmt"
	"strings"
	"time"
)

// SessionType is the kind of therapy session booked.
type SessionType string

const (
	SessionIndividual SessionType = "INDIVIDUAL"
	SessionGroup      SessionType = "GROUP"
	SessionEAP        SessionType = "EAP" // Employee assistance programme
)

// ParseSessionType accepts any casing of a known session type.
func ParseSessionType(s string) (SessionType, error) {
	switch SessionType(strings.ToUpper(strings.TrimSpace(s))) {
	case SessionIndividual:
		return SessionIndividual, nil
	case SessionGroup:
		return SessionGroup, nil
	case SessionEAP:
		return SessionEAP, nil
	}
	return "", fmt.Errorf("unknown session type '%s' (expected INDIVIDUAL, GROUP or EAP)", s)
}

// BookingStatus is derived from the confirmation and cancellation flags.
type BookingStatus string

const (
	StatusCreated            BookingStatus = "CREATED"
	StatusPartiallyConfirmed BookingStatus = "PARTIALLY_CONFIRMED"
	StatusFullyConfirmed     BookingStatus = "FULLY_CONFIRMED"
	StatusCancelled          BookingStatus = "CANCELLED"
)

// DigestRevision records a clinical data digest that was superseded.
type DigestRevision struct {
	Digest     string    `json:"digest"`
	ReplacedBy string    `json:"replacedBy"` // Identity that submitted the newer digest
	ReplacedAt time.Time `json:"replacedAt"`
}

// Booking is one appointment between a patient and a therapist.
type Booking struct {
	ObjectType         string           `json:"objectType"`
	ID                 string           `json:"id"`            // Ledger address, "booking-<hex>"
	TransactionID      string           `json:"transactionId"` // Creating transaction
	PatientID          string           `json:"patientId"`
	TherapistID        string           `json:"therapistId"`
	Date               string           `json:"date"` // YYYY-MM-DD
	Time               string           `json:"time"` // HH:MM, 24h
	AnonymousID        string           `json:"anonymousId"`
	SessionType        SessionType      `json:"sessionType"`
	ClinicalDataDigest string           `json:"clinicalDataDigest"`
	DigestHistory      []DigestRevision `json:"digestHistory"`
	PatientConfirmed   bool             `json:"patientConfirmed"`
	TherapistConfirmed bool             `json:"therapistConfirmed"`
	IsCancelled        bool             `json:"isCancelled"`
	CancelledBy        string           `json:"cancelledBy"`
	Status             BookingStatus    `json:"status"`
	CreatedAt          time.Time        `json:"createdAt"`
	LastUpdatedAt      time.Time        `json:"lastUpdatedAt"`
}

// DeriveStatus computes the state from the flags. Cancellation dominates, so a
// cancelled booking is never reported as fully confirmed.
func (b *Booking) DeriveStatus() BookingStatus {
	switch {
	case b.IsCancelled:
		return StatusCancelled
	case b.PatientConfirmed && b.TherapistConfirmed:
		return StatusFullyConfirmed
	case b.PatientConfirmed || b.TherapistConfirmed:
		return StatusPartiallyConfirmed
	default:
		return StatusCreated
	}
}

// IsFullyConfirmed holds iff both parties confirmed and the booking is not cancelled.
func (b *Booking) IsFullyConfirmed() bool {
	return b.DeriveStatus() == StatusFullyConfirmed
}

// IsParty reports whether id is the patient or the therapist of the booking.
func (b *Booking) IsParty(id string) bool {
	return id != "" && (id == b.PatientID || id == b.TherapistID)
}

// PaginatedBookingResponse is the structure returned by paginated booking queries.
type PaginatedBookingResponse struct {
	Bookings     []*Booking `json:"bookings"`
	NextBookmark string     `json:"nextBookmark"`
	FetchedCount int32      `json:"fetchedCount"`
}
