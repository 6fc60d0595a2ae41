package sequencer

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/uhyunpark/perpgate/pkg/crypto"
	"github.com/uhyunpark/perpgate/pkg/transaction"
)

// Journal persists submission state transitions
type Journal interface {
	Record(rec *Record) error
	Lookup(correlationID string) (*Record, error)
	Unresolved() ([]*Record, error)
}

// Record is the persisted form of a submission.
// Payload and signature are kept so a record can be audited against the sequencer later.
type Record struct {
	CorrelationID string            `json:"correlation_id"`
	Kind          string            `json:"kind"`
	State         State             `json:"state"`
	Digest        string            `json:"digest"`
	Signer        string            `json:"signer"`
	Nonce         uint64            `json:"nonce"`
	Payload       string            `json:"payload"`
	Signature     string            `json:"signature"`
	Attempts      int               `json:"attempts"`
	Ack           *Ack              `json:"ack,omitempty"`
	RejectCode    string            `json:"reject_code,omitempty"`
	RejectMessage string            `json:"reject_message,omitempty"`
	Error         string            `json:"error,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Record snapshots the submission for the journal
func (s *Submission) Record() *Record {
	rec := &Record{
		CorrelationID: s.CorrelationID,
		State:         s.State,
		Attempts:      s.Attempts,
		Ack:           s.Ack,
		Labels:        s.Labels,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if m := s.Message; m != nil {
		rec.Kind = m.Kind.String()
		rec.Digest = m.Digest().Hex()
		rec.Signer = m.Signer.String()
		rec.Nonce = m.Nonce
		rec.Payload = hexutil.Encode(m.Payload)
		rec.Signature = m.SignatureHex()
	}
	if s.Rejection != nil {
		rec.RejectCode = s.Rejection.Code
		rec.RejectMessage = s.Rejection.Message
	}
	if s.Err != nil && s.Rejection == nil {
		rec.Error = s.Err.Error()
	}
	return rec
}

// Message rebuilds the signed message stored in the record
func (r *Record) Message() (*transaction.SignedMessage, error) {
	payload, err := hexutil.Decode(r.Payload)
	if err != nil {
		return nil, err
	}
	kind, err := transaction.PeekKind(payload)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.ParseSignatureHex(r.Signature)
	if err != nil {
		return nil, err
	}
	signer, err := crypto.ParsePublicKey(r.Signer)
	if err != nil {
		return nil, err
	}
	return &transaction.SignedMessage{
		Kind:      kind,
		Payload:   payload,
		Signature: sig,
		Signer:    signer,
		Nonce:     r.Nonce,
	}, nil
}
