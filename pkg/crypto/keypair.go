package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/mr-tron/base58"
)

const (
	SeedSize      = ed25519.SeedSize      // 32
	PublicKeySize = ed25519.PublicKeySize // 32
	KeypairSize   = SeedSize + PublicKeySize
	SignatureSize = ed25519.SignatureSize // 64
)

var (
	ErrInvalidKeyLength = errors.New("invalid key length")
	ErrKeyMismatch      = errors.New("public key does not match secret")
	ErrInvalidEncoding  = errors.New("invalid key encoding")
	ErrWeakKey          = errors.New("weak or degenerate key")
)

// identityPoint is the compressed encoding of the ed25519 neutral element.
var identityPoint = [PublicKeySize]byte{1}

// PublicKey is a 32-byte ed25519 public key, displayed as base58
type PublicKey [PublicKeySize]byte

// String returns the base58 form of the key
func (p PublicKey) String() string {
	return base58.Encode(p[:])
}

// IsZero reports whether the key is unset
func (p PublicKey) IsZero() bool {
	return p == PublicKey{}
}

// ParsePublicKey decodes a base58 public key
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if len(raw) != PublicKeySize {
		return pk, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidEncoding, PublicKeySize, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// Keypair holds an ed25519 seed and its public key as a verified pair.
// It is immutable after construction and safe for concurrent signing.
type Keypair struct {
	private ed25519.PrivateKey
	public  PublicKey
}

// FromRawBytes builds a keypair from the 64-byte form: seed (32) || public (32).
// The supplied public half must match the one derived from the seed.
func FromRawBytes(raw []byte) (*Keypair, error) {
	if len(raw) != KeypairSize {
		return nil, fmt.Errorf("%w: keypair must be %d bytes, got %d", ErrInvalidKeyLength, KeypairSize, len(raw))
	}

	kp, err := fromSeed(raw[:SeedSize])
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare(kp.public[:], raw[SeedSize:]) != 1 {
		kp.Wipe()
		return nil, ErrKeyMismatch
	}
	return kp, nil
}

// FromBase58Secret builds a keypair from a base58 encoded 32-byte seed.
// The public key is derived, so a mismatch is impossible by construction.
func FromBase58Secret(secret string) (*Keypair, error) {
	seed, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	defer wipe(seed)

	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: secret must be %d bytes, got %d", ErrInvalidEncoding, SeedSize, len(seed))
	}
	return fromSeed(seed)
}

// FromJSONArray parses the text form of a keypair file: a JSON array of 64
// numbers in [0,255]. Reading the file is left to the caller.
func FromJSONArray(text string) (*Keypair, error) {
	var nums []int
	if err := json.Unmarshal([]byte(text), &nums); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}

	raw := make([]byte, len(nums))
	defer wipe(raw)
	for i, n := range nums {
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("%w: byte %d out of range: %d", ErrInvalidEncoding, i, n)
		}
		raw[i] = byte(n)
	}
	for i := range nums {
		nums[i] = 0
	}
	return FromRawBytes(raw)
}

// Generate creates a random keypair.
// For tests and local development only: nothing about how easy it is to call
// implies a production key management story.
func Generate() (*Keypair, error) {
	seed := make([]byte, SeedSize)
	defer wipe(seed)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return fromSeed(seed)
}

func fromSeed(seed []byte) (*Keypair, error) {
	if degenerate(seed) {
		return nil, fmt.Errorf("%w: secret", ErrWeakKey)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	var pub PublicKey
	copy(pub[:], priv[SeedSize:])

	if degenerate(pub[:]) || pub == PublicKey(identityPoint) {
		wipe(priv)
		return nil, fmt.Errorf("%w: public key", ErrWeakKey)
	}
	return &Keypair{private: priv, public: pub}, nil
}

// degenerate flags keys whose bytes are all identical (all-zero included)
func degenerate(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	for _, c := range b[1:] {
		if c != b[0] {
			return false
		}
	}
	return true
}

// Public returns the public key
func (k *Keypair) Public() PublicKey {
	return k.public
}

// PublicString returns the base58 public identity
func (k *Keypair) PublicString() string {
	return k.public.String()
}

// Sign produces a detached ed25519 signature over msg.
// ed25519 nonces are deterministic, so the same message always yields the same signature.
func (k *Keypair) Sign(msg []byte) [SignatureSize]byte {
	var sig [SignatureSize]byte
	copy(sig[:], ed25519.Sign(k.private, msg))
	return sig
}

// Wipe zeroes the secret material. The keypair must not be used afterwards.
func (k *Keypair) Wipe() {
	if k == nil {
		return
	}
	wipe(k.private)
}

// String never exposes the secret
func (k *Keypair) String() string {
	return fmt.Sprintf("Keypair(%s)", k.public)
}

// GoString keeps %#v from dumping the private key
func (k *Keypair) GoString() string {
	return k.String()
}

// Verify checks sig against msg for the given public key
func Verify(pub PublicKey, msg []byte, sig [SignatureSize]byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig[:])
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
