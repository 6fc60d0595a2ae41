package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
)

// RFC 8032 section 7.1, test 1
const (
	rfcSeedHex = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"
	rfcPubHex  = "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a"
	rfcSigHex  = "e5564300c360ac729086e2cc806e828a84877f1eb8e5d974d873e065" +
		"224901555fb8821590a33bacc61e39701cf9b46bd25bf5f0595bbe24655141438e7a100b"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex: %v", err)
	}
	return b
}

func rfcRaw(t *testing.T) []byte {
	return append(mustHex(t, rfcSeedHex), mustHex(t, rfcPubHex)...)
}

func TestFromRawBytes(t *testing.T) {
	kp, err := FromRawBytes(rfcRaw(t))
	if err != nil {
		t.Fatalf("failed to load keypair: %v", err)
	}

	pub := kp.Public()
	if hex.EncodeToString(pub[:]) != rfcPubHex {
		t.Errorf("public = %x, want %s", pub, rfcPubHex)
	}

	sig := kp.Sign(nil)
	if hex.EncodeToString(sig[:]) != rfcSigHex {
		t.Errorf("signature = %x, want %s", sig, rfcSigHex)
	}
}

func TestFromRawBytesErrors(t *testing.T) {
	mismatched := rfcRaw(t)
	mismatched[KeypairSize-1] ^= 0x01

	allSame := make([]byte, KeypairSize)
	for i := range allSame {
		allSame[i] = 7
	}

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"empty", nil, ErrInvalidKeyLength},
		{"seed only", mustHex(t, rfcSeedHex), ErrInvalidKeyLength},
		{"too long", append(rfcRaw(t), 0), ErrInvalidKeyLength},
		{"public mismatch", mismatched, ErrKeyMismatch},
		{"zero seed", make([]byte, KeypairSize), ErrWeakKey},
		{"repeated byte seed", allSame, ErrWeakKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromRawBytes(tt.raw)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFromBase58Secret(t *testing.T) {
	secret := base58.Encode(mustHex(t, rfcSeedHex))

	kp, err := FromBase58Secret("  " + secret + "\n")
	if err != nil {
		t.Fatalf("failed to load secret: %v", err)
	}
	if got := kp.PublicString(); got != base58.Encode(mustHex(t, rfcPubHex)) {
		t.Errorf("public = %s", got)
	}

	if _, err := FromBase58Secret("0OIl"); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("invalid alphabet: err = %v, want ErrInvalidEncoding", err)
	}
	if _, err := FromBase58Secret(base58.Encode(rfcRaw(t))); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("64-byte secret: err = %v, want ErrInvalidEncoding", err)
	}
}

func TestFromJSONArray(t *testing.T) {
	raw := rfcRaw(t)
	nums := make([]string, len(raw))
	for i, b := range raw {
		nums[i] = fmt.Sprint(b)
	}
	text := "[" + strings.Join(nums, ",") + "]"

	kp, err := FromJSONArray(text)
	if err != nil {
		t.Fatalf("failed to parse keypair file: %v", err)
	}
	pub := kp.Public()
	if hex.EncodeToString(pub[:]) != rfcPubHex {
		t.Errorf("public = %x", pub)
	}

	tests := []struct {
		name string
		text string
		want error
	}{
		{"not json", "hello", ErrInvalidEncoding},
		{"out of range", strings.Replace(text, "["+nums[0], "[256", 1), ErrInvalidEncoding},
		{"negative", strings.Replace(text, "["+nums[0], "[-1", 1), ErrInvalidEncoding},
		{"short", "[1,2,3]", ErrInvalidKeyLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromJSONArray(tt.text); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if a.Public() == b.Public() {
		t.Error("two generated keys share a public key")
	}
	if a.Public().IsZero() {
		t.Error("generated zero public key")
	}

	parsed, err := ParsePublicKey(a.PublicString())
	if err != nil {
		t.Fatalf("failed to parse public key: %v", err)
	}
	if parsed != a.Public() {
		t.Errorf("parsed public key differs")
	}
}

func TestSignAndVerify(t *testing.T) {
	kp, _ := Generate()
	msg := []byte("order payload")

	sig := kp.Sign(msg)
	if !Verify(kp.Public(), msg, sig) {
		t.Fatal("valid signature rejected")
	}

	// deterministic
	if kp.Sign(msg) != sig {
		t.Error("signing the same message twice gave different signatures")
	}

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xff
	if Verify(kp.Public(), tampered, sig) {
		t.Error("signature verified over a tampered message")
	}

	other, _ := Generate()
	if Verify(other.Public(), msg, sig) {
		t.Error("signature verified under a different key")
	}
}

func TestKeypairStringHidesSecret(t *testing.T) {
	kp, err := FromRawBytes(rfcRaw(t))
	if err != nil {
		t.Fatalf("failed to load keypair: %v", err)
	}

	seed58 := base58.Encode(mustHex(t, rfcSeedHex))
	for _, s := range []string{kp.String(), fmt.Sprintf("%v", kp), fmt.Sprintf("%#v", kp)} {
		if strings.Contains(s, seed58) || strings.Contains(s, rfcSeedHex) {
			t.Errorf("formatted keypair leaks secret: %s", s)
		}
	}
}

func TestWipe(t *testing.T) {
	kp, _ := Generate()
	kp.Wipe()
	for _, b := range kp.private {
		if b != 0 {
			t.Fatal("secret not zeroed")
		}
	}
}

func TestParsePublicKeyErrors(t *testing.T) {
	if _, err := ParsePublicKey("abc"); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("short key: err = %v", err)
	}
	if _, err := ParsePublicKey("not-base58!"); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("bad alphabet: err = %v", err)
	}
}
