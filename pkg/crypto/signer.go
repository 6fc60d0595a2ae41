package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/minio/sha256-simd"
)

// Digest is a SHA-256 content hash
type Digest [32]byte

// Hex returns the 0x-prefixed hex form
func (d Digest) Hex() string {
	return hexutil.Encode(d[:])
}

// Sum256 hashes data with SHA-256
func Sum256(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// SignatureHex encodes a signature for the wire (0x-prefixed hex)
func SignatureHex(sig [SignatureSize]byte) string {
	return hexutil.Encode(sig[:])
}

// ParseSignatureHex decodes a 0x-prefixed 64-byte signature
func ParseSignatureHex(s string) ([SignatureSize]byte, error) {
	var sig [SignatureSize]byte
	raw, err := hexutil.Decode(s)
	if err != nil {
		return sig, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(raw) != SignatureSize {
		return sig, fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(raw))
	}
	copy(sig[:], raw)
	return sig, nil
}

// GenerateNonce generates a cryptographically secure random nonce.
// Intents carry one each for replay protection; no counter is shared between submissions.
func GenerateNonce() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
