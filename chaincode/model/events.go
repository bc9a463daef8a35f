// File: model/events.go
package model

// Chaincode event names. Fabric keeps one event per transaction, so each
// state-changing transaction sets exactly one of these.
const (
	EventTherapistRegistered       = "TherapistRegistered"
	EventTherapistVerified         = "TherapistVerified"
	EventTherapistDeactivated      = "TherapistDeactivated"
	EventBookingCreated            = "BookingCreated"
	EventConfirmedByPatient        = "AppointmentConfirmedByPatient"
	EventConfirmedByTherapist      = "AppointmentConfirmedByTherapist"
	EventAppointmentCancelled      = "AppointmentCancelled"
	EventClinicalDataDigestUpdated = "ClinicalDataDigestUpdated"
)

// TherapistEvent is the payload of the registry events.
type TherapistEvent struct {
	TherapistID          string `json:"therapistId"`
	Name                 string `json:"name"`
	ActorID              string `json:"actorId"`
	TransactionTimestamp string `json:"transactionTimestamp"`
}

// BookingEvent is the payload of the factory and booking record events.
type BookingEvent struct {
	BookingID            string        `json:"bookingId"`
	PatientID            string        `json:"patientId"`
	TherapistID          string        `json:"therapistId"`
	Status               BookingStatus `json:"status"`
	ActorID              string        `json:"actorId"`
	ClinicalDataDigest   string        `json:"clinicalDataDigest,omitempty"`
	PreviousDigest       string        `json:"previousDigest,omitempty"`
	TransactionTimestamp string        `json:"transactionTimestamp"`
}
