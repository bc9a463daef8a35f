package contract

import (
	"fmt"

	"therapyledger/chaincode/model"
)

const (
	PrefixUnauthorized = model.PrefixUnauthorized
	PrefixNotFound     = model.PrefixNotFound
	PrefixConflict     = model.PrefixConflict
	PrefixInvalid      = model.PrefixInvalid
)

func unauthorizedf(format string, args ...interface{}) error {
	return fmt.Errorf(PrefixUnauthorized+format, args...)
}

func notFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(PrefixNotFound+format, args...)
}

func conflictf(format string, args ...interface{}) error {
	return fmt.Errorf(PrefixConflict+format, args...)
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf(PrefixInvalid+format, args...)
}
