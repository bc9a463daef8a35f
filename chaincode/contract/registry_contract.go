package contract

import (
	"sort"
	"strings"

	"therapyledger/chaincode/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// TherapistRegistryContract keeps the set of practitioners and their
// verification state.
// @contract:TherapistRegistry
type TherapistRegistryContract struct {
	contractapi.Contract
}

// InitRegistry makes the caller the registry owner. It can only run once.
func (c *TherapistRegistryContract) InitRegistry(ctx contractapi.TransactionContextInterface) (*model.RegistryOwner, error) {
	owner, err := NewRegistry(ctx).InitOwner()
	if err != nil {
		return nil, err
	}
	regLogger.Infof("InitRegistry: '%s' is now registry owner", owner.ID)
	return owner, nil
}

// RegisterTherapist adds the caller to the registry as an unverified therapist.
func (c *TherapistRegistryContract) RegisterTherapist(ctx contractapi.TransactionContextInterface, name, specialization string) (*model.Therapist, error) {
	if err := validateRequiredString(name, "name", maxStringInputLength); err != nil {
		return nil, err
	}
	if err := validateRequiredString(specialization, "specialization", maxStringInputLength); err != nil {
		return nil, err
	}

	reg := NewRegistry(ctx)
	callerID, err := reg.CallerID()
	if err != nil {
		return nil, err
	}
	existing, err := reg.findTherapist(callerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, conflictf("therapist '%s' is already registered", callerID)
	}
	now, err := txTimestamp(reg.Ctx)
	if err != nil {
		return nil, err
	}

	therapist := &model.Therapist{
		ObjectType:      therapistObjectType,
		ID:              callerID,
		Name:            strings.TrimSpace(name),
		Specialization:  strings.TrimSpace(specialization),
		OrganizationMSP: reg.callerMSPID(),
		IsVerified:      false,
		IsActive:        true,
		RegisteredAt:    now,
		LastUpdatedAt:   now,
	}
	if err := reg.putTherapist(therapist); err != nil {
		return nil, err
	}
	regLogger.Infof("RegisterTherapist: registered '%s' (%s)", therapist.Name, callerID)
	emitTherapistEvent(ctx, model.EventTherapistRegistered, therapist, callerID)
	return therapist, nil
}

// VerifyTherapist marks a registered therapist as verified. Owner only.
// Verifying an already verified therapist is accepted without a state change.
func (c *TherapistRegistryContract) VerifyTherapist(ctx contractapi.TransactionContextInterface, therapistID string) (*model.Therapist, error) {
	if err := validateRequiredString(therapistID, "therapistID", maxIdentityLength); err != nil {
		return nil, err
	}
	reg := NewRegistry(ctx)
	ownerID, err := reg.RequireOwner()
	if err != nil {
		regLogger.Warningf("VerifyTherapist: rejected for '%s': %v", therapistID, err)
		return nil, err
	}
	therapist, err := reg.GetTherapist(therapistID)
	if err != nil {
		return nil, err
	}
	if !therapist.IsActive {
		return nil, conflictf("therapist '%s' is deactivated", therapistID)
	}
	if therapist.IsVerified {
		regLogger.Infof("VerifyTherapist: '%s' already verified. No action needed.", therapistID)
		return therapist, nil
	}

	now, err := txTimestamp(reg.Ctx)
	if err != nil {
		return nil, err
	}
	therapist.IsVerified = true
	therapist.VerifiedBy = ownerID
	therapist.VerifiedAt = now
	therapist.LastUpdatedAt = now
	if err := reg.putTherapist(therapist); err != nil {
		return nil, err
	}
	regLogger.Infof("VerifyTherapist: '%s' verified by owner", therapistID)
	emitTherapistEvent(ctx, model.EventTherapistVerified, therapist, ownerID)
	return therapist, nil
}

// DeactivateTherapist stops a therapist from receiving new bookings. Owner only.
// Existing bookings are untouched.
func (c *TherapistRegistryContract) DeactivateTherapist(ctx contractapi.TransactionContextInterface, therapistID string) (*model.Therapist, error) {
	if err := validateRequiredString(therapistID, "therapistID", maxIdentityLength); err != nil {
		return nil, err
	}
	reg := NewRegistry(ctx)
	ownerID, err := reg.RequireOwner()
	if err != nil {
		return nil, err
	}
	therapist, err := reg.GetTherapist(therapistID)
	if err != nil {
		return nil, err
	}
	if !therapist.IsActive {
		return therapist, nil
	}
	now, err := txTimestamp(reg.Ctx)
	if err != nil {
		return nil, err
	}
	therapist.IsActive = false
	therapist.LastUpdatedAt = now
	if err := reg.putTherapist(therapist); err != nil {
		return nil, err
	}
	regLogger.Infof("DeactivateTherapist: '%s' deactivated", therapistID)
	emitTherapistEvent(ctx, model.EventTherapistDeactivated, therapist, ownerID)
	return therapist, nil
}

// IsVerified reports whether therapistID is verified and active. Unknown
// identities are reported as not verified.
func (c *TherapistRegistryContract) IsVerified(ctx contractapi.TransactionContextInterface, therapistID string) (bool, error) {
	if err := validateRequiredString(therapistID, "therapistID", maxIdentityLength); err != nil {
		return false, err
	}
	return NewRegistry(ctx).IsBookable(therapistID)
}

// ListVerified returns the IDs of all bookable therapists in key order.
func (c *TherapistRegistryContract) ListVerified(ctx contractapi.TransactionContextInterface) ([]string, error) {
	therapists, err := NewRegistry(ctx).AllTherapists()
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, t := range therapists {
		if t.Bookable() {
			ids = append(ids, t.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetVerifiedTherapists returns the full entries of all bookable therapists.
func (c *TherapistRegistryContract) GetVerifiedTherapists(ctx contractapi.TransactionContextInterface) ([]*model.Therapist, error) {
	therapists, err := NewRegistry(ctx).AllTherapists()
	if err != nil {
		return nil, err
	}
	verified := []*model.Therapist{}
	for _, t := range therapists {
		if t.Bookable() {
			verified = append(verified, t)
		}
	}
	return verified, nil
}

// GetTherapist returns a single registry entry.
func (c *TherapistRegistryContract) GetTherapist(ctx contractapi.TransactionContextInterface, therapistID string) (*model.Therapist, error) {
	if err := validateRequiredString(therapistID, "therapistID", maxIdentityLength); err != nil {
		return nil, err
	}
	return NewRegistry(ctx).GetTherapist(therapistID)
}

// GetOwner returns the registry owner.
func (c *TherapistRegistryContract) GetOwner(ctx contractapi.TransactionContextInterface) (*model.RegistryOwner, error) {
	owner, err := NewRegistry(ctx).Owner()
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, notFoundf("registry has not been initialized")
	}
	return owner, nil
}

// WhoAmI returns the identity the caller's credentials resolve to.
func (c *TherapistRegistryContract) WhoAmI(ctx contractapi.TransactionContextInterface) (*model.CallerIdentity, error) {
	reg := NewRegistry(ctx)
	callerID, err := reg.CallerID()
	if err != nil {
		return nil, err
	}
	isOwner, err := reg.IsOwner(callerID)
	if err != nil {
		return nil, err
	}
	therapist, err := reg.findTherapist(callerID)
	if err != nil {
		return nil, err
	}
	return &model.CallerIdentity{
		ID:              callerID,
		OrganizationMSP: reg.callerMSPID(),
		IsOwner:         isOwner,
		IsTherapist:     therapist != nil,
	}, nil
}
