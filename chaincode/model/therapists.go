// File: model/therapists.go
package model

import "time"

// Therapist is the registry entry for a practitioner identity.
type Therapist struct {
	ObjectType      string    `json:"objectType"`      // Set to the composite key object type (Therapist)
	ID              string    `json:"id"`              // Full X.509 identity string of the practitioner
	Name            string    `json:"name"`            // Display name, e.g. "Dr. A"
	Specialization  string    `json:"specialization"`  // Free-form specialization label
	OrganizationMSP string    `json:"organizationMsp"` // MSP ID the registration came from
	IsVerified      bool      `json:"isVerified"`      // Set only by the registry owner
	IsActive        bool      `json:"isActive"`        // Cleared on deactivation; records are never deleted
	VerifiedBy      string    `json:"verifiedBy"`      // Owner identity that verified this entry
	RegisteredAt    time.Time `json:"registeredAt"`
	VerifiedAt      time.Time `json:"verifiedAt"`
	LastUpdatedAt   time.Time `json:"lastUpdatedAt"`
}

// Bookable reports whether new bookings may be made against this therapist.
func (t *Therapist) Bookable() bool {
	return t != nil && t.IsVerified && t.IsActive
}

// RegistryOwner records the identity allowed to verify and deactivate therapists.
type RegistryOwner struct {
	ObjectType      string    `json:"objectType"`
	ID              string    `json:"id"`
	OrganizationMSP string    `json:"organizationMsp"`
	InitializedAt   time.Time `json:"initializedAt"`
}

// CallerIdentity is returned by WhoAmI so clients can learn the identity their
// credentials resolve to on the ledger.
type CallerIdentity struct {
	ID              string `json:"id"`
	OrganizationMSP string `json:"organizationMsp"`
	IsOwner         bool   `json:"isOwner"`
	IsTherapist     bool   `json:"isTherapist"`
}
