package transaction

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/perpgate/pkg/crypto"
)

var (
	ErrOwnerMismatch = errors.New("intent owner does not match signing key")
	ErrNoKeypair     = errors.New("no keypair")
)

// Intent is a message that can be signed: an order or a cancel
type Intent interface {
	Kind() Kind
	Validate() error
	Encode() ([]byte, error)
	header() (nonce uint64, owner crypto.PublicKey)
}

func (o *OrderIntent) Kind() Kind                         { return KindOrder }
func (o *OrderIntent) Encode() ([]byte, error)            { return EncodeOrder(o) }
func (o *OrderIntent) header() (uint64, crypto.PublicKey) { return o.Nonce, o.Owner }

func (c *CancelIntent) Kind() Kind                         { return KindCancel }
func (c *CancelIntent) Encode() ([]byte, error)            { return EncodeCancel(c) }
func (c *CancelIntent) header() (uint64, crypto.PublicKey) { return c.Nonce, c.Owner }

// SignedMessage is the canonical encoding of an intent plus a detached
// signature over exactly those bytes. Payload must not be modified after signing.
type SignedMessage struct {
	Kind      Kind
	Payload   []byte
	Signature [crypto.SignatureSize]byte
	Signer    crypto.PublicKey
	Nonce     uint64
}

// Sign validates, encodes and signs an intent with kp.
// The intent owner must be the keypair's public key.
func Sign(intent Intent, kp *crypto.Keypair) (*SignedMessage, error) {
	if kp == nil {
		return nil, ErrNoKeypair
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	nonce, owner := intent.header()
	if owner != kp.Public() {
		return nil, fmt.Errorf("%w: owner %s, key %s", ErrOwnerMismatch, owner, kp.Public())
	}

	payload, err := intent.Encode()
	if err != nil {
		return nil, err
	}

	return &SignedMessage{
		Kind:      intent.Kind(),
		Payload:   payload,
		Signature: kp.Sign(payload),
		Signer:    owner,
		Nonce:     nonce,
	}, nil
}

// Verify checks the signature against the payload bytes
func (m *SignedMessage) Verify() bool {
	return crypto.Verify(m.Signer, m.Payload, m.Signature)
}

// Digest is a client-side content id for audit and logs.
// It is not the sequencer's transaction hash.
func (m *SignedMessage) Digest() crypto.Digest {
	return crypto.Sum256(m.Payload)
}

// SignatureHex returns the 0x-hex signature
func (m *SignedMessage) SignatureHex() string {
	return crypto.SignatureHex(m.Signature)
}

// Order decodes the payload of an order message
func (m *SignedMessage) Order() (*OrderIntent, error) {
	if m.Kind != KindOrder {
		return nil, fmt.Errorf("%w: %s message is not an order", ErrMalformed, m.Kind)
	}
	return DecodeOrder(m.Payload)
}

// Cancel decodes the payload of a cancel message
func (m *SignedMessage) Cancel() (*CancelIntent, error) {
	if m.Kind != KindCancel {
		return nil, fmt.Errorf("%w: %s message is not a cancel", ErrMalformed, m.Kind)
	}
	return DecodeCancel(m.Payload)
}
