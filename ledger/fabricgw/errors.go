package fabricgw

import (
	"errors"
	"fmt"
	"strings"

	"therapyledger/ledger"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// wrapError maps gateway errors onto the ledger sentinels, keeping the
// chaincode message of rejected transactions.
func wrapError(txName string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w: %v", txName, ledger.ErrUnavailable, err)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", txName, err)
	}

	var endorseErr *client.EndorseError
	var submitErr *client.SubmitError
	var commitStatusErr *client.CommitStatusError
	switch {
	case errors.As(err, &endorseErr), errors.As(err, &submitErr):
		return &ledger.Rejection{Transaction: txName, Message: detailMessage(err), Err: ledger.ErrRejected}
	case errors.As(err, &commitStatusErr):
		return fmt.Errorf("%s: commit status: %w: %v", txName, ledger.ErrUnavailable, err)
	}

	if hasErrorDetails(err) {
		return &ledger.Rejection{Transaction: txName, Message: detailMessage(err), Err: ledger.ErrRejected}
	}
	return fmt.Errorf("%s: %w", txName, err)
}

func hasErrorDetails(err error) bool {
	for _, d := range status.Convert(err).Details() {
		if _, ok := d.(*gateway.ErrorDetail); ok {
			return true
		}
	}
	return false
}

// detailMessage joins the per-peer messages attached to a gateway error.
func detailMessage(err error) string {
	st := status.Convert(err)
	var msgs []string
	for _, d := range st.Details() {
		if detail, ok := d.(*gateway.ErrorDetail); ok {
			msgs = append(msgs, fmt.Sprintf("%s (%s): %s", detail.GetAddress(), detail.GetMspId(), detail.GetMessage()))
		}
	}
	if len(msgs) == 0 {
		return st.Message()
	}
	return strings.Join(msgs, "; ")
}
