package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"therapyledger/chaincode/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var regLogger = flogging.MustGetLogger("therapyledger.registry")

// Object types for composite keys.
const (
	therapistObjectType = "Therapist"     // Attribute: therapist FullID.
	ownerObjectType     = "RegistryOwner" // Singleton, no attributes.
)

// Registry wraps the ledger state of the therapist registry for one transaction.
type Registry struct {
	Ctx contractapi.TransactionContextInterface
}

// NewRegistry creates a Registry bound to the transaction context.
func NewRegistry(ctx contractapi.TransactionContextInterface) *Registry {
	return &Registry{Ctx: ctx}
}

func isValidX509ID(id string) bool {
	return strings.HasPrefix(id, "x509::") || strings.HasPrefix(id, "eDUwOTo6") // "eDUwOTo6" is "x509::" base64 encoded
}

func (r *Registry) therapistKey(fullID string) (string, error) {
	return r.Ctx.GetStub().CreateCompositeKey(therapistObjectType, []string{fullID})
}

func (r *Registry) ownerKey() (string, error) {
	return r.Ctx.GetStub().CreateCompositeKey(ownerObjectType, []string{})
}

// CallerID retrieves the full X.509 ID of the current transactor.
func (r *Registry) CallerID() (string, error) {
	clientIdentity := r.Ctx.GetClientIdentity()
	if clientIdentity == nil {
		return "", errors.New(PrefixUnauthorized + "client identity is nil from context")
	}
	id, err := clientIdentity.GetID()
	if err != nil {
		return "", fmt.Errorf(PrefixUnauthorized+"failed to get client identity ID from context: %w", err)
	}
	if id == "" {
		return "", errors.New(PrefixUnauthorized + "client identity ID from context is empty")
	}
	if !isValidX509ID(id) {
		regLogger.Warningf("Current client ID '%s' does not appear to be a standard X.509 format.", id)
	}
	return id, nil
}

func (r *Registry) callerMSPID() string {
	clientIdentity := r.Ctx.GetClientIdentity()
	if clientIdentity == nil {
		return ""
	}
	mspID, err := clientIdentity.GetMSPID()
	if err != nil {
		regLogger.Warningf("Could not determine caller MSPID: %v", err)
		return ""
	}
	return mspID
}

// Owner returns the registry owner, or nil if InitRegistry has not run.
func (r *Registry) Owner() (*model.RegistryOwner, error) {
	key, err := r.ownerKey()
	if err != nil {
		return nil, fmt.Errorf("failed to create owner key: %w", err)
	}
	raw, err := r.Ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry owner: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var owner model.RegistryOwner
	if err := json.Unmarshal(raw, &owner); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry owner: %w", err)
	}
	return &owner, nil
}

// IsOwner reports whether fullID is the registry owner.
func (r *Registry) IsOwner(fullID string) (bool, error) {
	owner, err := r.Owner()
	if err != nil {
		return false, err
	}
	return owner != nil && owner.ID == fullID, nil
}

// RequireOwner fails unless the caller is the registry owner.
func (r *Registry) RequireOwner() (string, error) {
	callerID, err := r.CallerID()
	if err != nil {
		return "", err
	}
	owner, err := r.Owner()
	if err != nil {
		return "", err
	}
	if owner == nil {
		return "", conflictf("registry has not been initialized")
	}
	if owner.ID != callerID {
		return "", unauthorizedf("caller '%s' is not the registry owner", callerID)
	}
	return callerID, nil
}

// InitOwner records the caller as owner. It fails if an owner already exists.
func (r *Registry) InitOwner() (*model.RegistryOwner, error) {
	existing, err := r.Owner()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, conflictf("registry already initialized with owner '%s'", existing.ID)
	}
	callerID, err := r.CallerID()
	if err != nil {
		return nil, err
	}
	now, err := txTimestamp(r.Ctx)
	if err != nil {
		return nil, err
	}
	owner := model.RegistryOwner{
		ObjectType:      ownerObjectType,
		ID:              callerID,
		OrganizationMSP: r.callerMSPID(),
		InitializedAt:   now,
	}
	raw, err := json.Marshal(owner)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registry owner: %w", err)
	}
	key, err := r.ownerKey()
	if err != nil {
		return nil, fmt.Errorf("failed to create owner key: %w", err)
	}
	if err := r.Ctx.GetStub().PutState(key, raw); err != nil {
		return nil, fmt.Errorf("failed to save registry owner: %w", err)
	}
	return &owner, nil
}

// GetTherapist returns the registry entry for fullID or a not-found error.
func (r *Registry) GetTherapist(fullID string) (*model.Therapist, error) {
	therapist, err := r.findTherapist(fullID)
	if err != nil {
		return nil, err
	}
	if therapist == nil {
		return nil, notFoundf("therapist '%s' is not registered", fullID)
	}
	return therapist, nil
}

func (r *Registry) findTherapist(fullID string) (*model.Therapist, error) {
	key, err := r.therapistKey(fullID)
	if err != nil {
		return nil, fmt.Errorf("failed to create therapist key for '%s': %w", fullID, err)
	}
	raw, err := r.Ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("ledger error retrieving therapist '%s': %w", fullID, err)
	}
	if raw == nil {
		return nil, nil
	}
	var therapist model.Therapist
	if err := json.Unmarshal(raw, &therapist); err != nil {
		return nil, fmt.Errorf("failed to unmarshal therapist '%s': %w", fullID, err)
	}
	return &therapist, nil
}

func (r *Registry) putTherapist(therapist *model.Therapist) error {
	key, err := r.therapistKey(therapist.ID)
	if err != nil {
		return fmt.Errorf("failed to create therapist key for '%s': %w", therapist.ID, err)
	}
	raw, err := json.Marshal(therapist)
	if err != nil {
		return fmt.Errorf("failed to marshal therapist '%s': %w", therapist.ID, err)
	}
	if err := r.Ctx.GetStub().PutState(key, raw); err != nil {
		return fmt.Errorf("failed to save therapist '%s': %w", therapist.ID, err)
	}
	return nil
}

// IsBookable reports whether fullID is registered, verified and active.
// Unknown identities are simply not bookable.
func (r *Registry) IsBookable(fullID string) (bool, error) {
	therapist, err := r.findTherapist(fullID)
	if err != nil {
		return false, err
	}
	return therapist.Bookable(), nil
}

// AllTherapists scans every registry entry.
func (r *Registry) AllTherapists() ([]*model.Therapist, error) {
	iterator, err := r.Ctx.GetStub().GetStateByPartialCompositeKey(therapistObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to get therapists iterator: %w", err)
	}
	defer iterator.Close()

	therapists := []*model.Therapist{}
	for iterator.HasNext() {
		entry, iterErr := iterator.Next()
		if iterErr != nil {
			regLogger.Warningf("AllTherapists: failed to get next entry: %v. Skipping.", iterErr)
			continue
		}
		var therapist model.Therapist
		if err := json.Unmarshal(entry.Value, &therapist); err != nil {
			regLogger.Warningf("AllTherapists: failed to unmarshal entry '%s': %v. Skipping.", entry.Key, err)
			continue
		}
		therapists = append(therapists, &therapist)
	}
	return therapists, nil
}
