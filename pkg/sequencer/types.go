package sequencer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uhyunpark/perpgate/pkg/transaction"
)

// State of a single submission
type State uint8

const (
	Constructed State = iota
	InFlight
	Acknowledged
	Rejected
	TransportFailed
)

var stateNames = [...]string{"constructed", "in_flight", "acknowledged", "rejected", "transport_failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether no further transition is expected
func (s State) Terminal() bool {
	return s == Acknowledged || s == Rejected || s == TransportFailed
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown submission state %q", b)
}

var (
	// ErrTransportFailed means the outcome of a send is unknown: the message may or may not have been sequenced
	ErrTransportFailed   = errors.New("transport failed, outcome unknown")
	ErrProtocolViolation = errors.New("sequencer protocol violation")
	ErrNotRetryable      = errors.New("submission is not retryable")
	ErrNotFound          = errors.New("submission not found")
)

// Rejection codes returned by the sequencer
const (
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyFilled      = "ALREADY_FILLED"
	CodeAlreadyCancelled   = "ALREADY_CANCELLED"
	CodeMarketUnknown      = "MARKET_UNKNOWN"
	CodeInsufficientMargin = "INSUFFICIENT_MARGIN"
	CodeInvalidReduceOnly  = "INVALID_REDUCE_ONLY"
	CodeInvalidSignature   = "INVALID_SIGNATURE"
	CodeDuplicate          = "DUPLICATE"
	CodeRateLimited        = "RATE_LIMITED"
)

// Rejection is a definitive refusal by the sequencer. Nothing was sequenced.
type Rejection struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return fmt.Sprintf("sequencer rejected: %s", r.Code)
	}
	return fmt.Sprintf("sequencer rejected: %s: %s", r.Code, r.Message)
}

// OrderGone reports whether a cancel failed because the order no longer rests on the book
func (r *Rejection) OrderGone() bool {
	switch strings.ToUpper(r.Code) {
	case CodeNotFound, CodeAlreadyFilled, CodeAlreadyCancelled:
		return true
	}
	return false
}

// Ack is the sequencer's acknowledgement of a sequenced message
type Ack struct {
	OrderID        uint64 `json:"order_id"`
	SequenceNumber uint64 `json:"sequence_number"`
	ExpectedTick   uint64 `json:"expected_tick"`
	TxHash         string `json:"tx_hash"`
}

// Status is the sequencer's runtime status
type Status struct {
	CurrentTick           uint64  `json:"current_tick"`
	TotalTransactions     uint64  `json:"total_transactions"`
	PendingTransactions   uint64  `json:"pending_transactions"`
	UptimeSeconds         uint64  `json:"uptime_seconds"`
	TransactionsPerSecond float64 `json:"transactions_per_second"`
}

// Submission tracks one signed message through the protocol.
// CorrelationID is stable across resubmissions of the same message.
type Submission struct {
	CorrelationID string
	Message       *transaction.SignedMessage
	State         State
	Ack           *Ack
	Rejection     *Rejection
	Err           error
	Attempts      int
	Labels        map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SubmitOption customizes a submission before it is sent
type SubmitOption func(*Submission)

// WithLabels attaches human-readable context (decimal strings, market) that is journaled with the submission
func WithLabels(labels map[string]string) SubmitOption {
	return func(s *Submission) {
		if s.Labels == nil {
			s.Labels = make(map[string]string, len(labels))
		}
		for k, v := range labels {
			s.Labels[k] = v
		}
	}
}

// Request is what a Transport sends
type Request struct {
	CorrelationID string
	Message       *transaction.SignedMessage
	SentAt        time.Time
}
