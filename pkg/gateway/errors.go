package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/uhyunpark/perpgate/pkg/market"
	"github.com/uhyunpark/perpgate/pkg/rpc"
	"github.com/uhyunpark/perpgate/pkg/sequencer"
	"github.com/uhyunpark/perpgate/pkg/transaction"
	"github.com/uhyunpark/perpgate/pkg/units"
)

// Kind classifies a gateway failure
type Kind int

const (
	// InputValidation: the request was refused locally, nothing was sent
	InputValidation Kind = iota + 1
	// EncodingInvariant: a message could not be built consistently, nothing was sent
	EncodingInvariant
	// TransportFailure: the outcome is unknown; reconcile before acting
	TransportFailure
	// SequencerRejection: the sequencer refused the message, nothing was sequenced
	SequencerRejection
	// Canceled: the caller's context ended before sending, nothing was sent
	Canceled
)

func (k Kind) String() string {
	switch k {
	case InputValidation:
		return "input_validation"
	case EncodingInvariant:
		return "encoding_invariant"
	case TransportFailure:
		return "transport_failure"
	case SequencerRejection:
		return "sequencer_rejection"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the only error type returned by Client operations
type Error struct {
	Kind Kind
	Op   string
	Code string // sequencer rejection code, if any
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether trying again later may succeed.
// For orders, a TransportFailure must be reconciled first: the order may already be live.
func (e *Error) Temporary() bool {
	return e.Kind == TransportFailure || e.Code == sequencer.CodeRateLimited
}

// KindOf returns the Kind of a gateway error, or 0
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return 0
}

// IsOrderGone reports whether a cancel failed because the order is no longer resting
func IsOrderGone(err error) bool {
	var rej *sequencer.Rejection
	return errors.As(err, &rej) && rej.OrderGone()
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}

	e := &Error{Op: op, Err: err, Kind: classify(err)}
	var rej *sequencer.Rejection
	if errors.As(err, &rej) {
		e.Code = rej.Code
	}
	return e
}

func classify(err error) Kind {
	var rej *sequencer.Rejection
	var status *rpc.StatusError
	switch {
	case errors.As(err, &rej):
		return SequencerRejection
	case errors.Is(err, sequencer.ErrTransportFailed), errors.Is(err, rpc.ErrUnavailable):
		return TransportFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Canceled
	case errors.Is(err, transaction.ErrEncodingInvariant), errors.Is(err, market.ErrExponentChanged):
		return EncodingInvariant
	case errors.Is(err, transaction.ErrInvalidIntent),
		errors.Is(err, units.ErrPrecisionLoss),
		errors.Is(err, units.ErrOverflow),
		errors.Is(err, units.ErrInvalidRange),
		errors.Is(err, units.ErrInvalidDecimal),
		errors.Is(err, market.ErrUnknownMarket),
		errors.Is(err, market.ErrUnknownAsset),
		errors.Is(err, rpc.ErrMarketNotFound),
		errors.As(err, &status),
		errors.Is(err, sequencer.ErrNotFound),
		errors.Is(err, sequencer.ErrNotRetryable):
		return InputValidation
	default:
		return TransportFailure
	}
}
