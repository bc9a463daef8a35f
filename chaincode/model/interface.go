// File: model/interface.go
package model

// Contract names as registered with the chaincode. Clients address
// transactions as "<contract>:<function>".
const (
	RegistryContractName = "TherapistRegistry"
	FactoryContractName  = "BookingFactory"
	BookingContractName  = "BookingRecord"
)

// Error message prefixes. Clients classify rejections by these.
const (
	PrefixUnauthorized = "unauthorized: "
	PrefixNotFound     = "not found: "
	PrefixConflict     = "conflict: "
	PrefixInvalid      = "invalid: "
)
