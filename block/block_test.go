package block

import (
	"encoding/hex"
	"testing"

	"golang.org/x/crypto/sha3"
)

// addressFromSeed derives a throwaway address the same way the teacher's
// crypto package derives digests, to exercise PublicKey as an opaque,
// compare-by-encoded-string type rather than assume any particular
// encoding scheme.
func addressFromSeed(seed string) PublicKey {
	sum := sha3.Sum256([]byte(seed))
	return PublicKey(hex.EncodeToString(sum[:]))
}

func TestPublicKeyOpaqueEquality(t *testing.T) {
	a := addressFromSeed("alice")
	b := addressFromSeed("alice")
	c := addressFromSeed("bob")

	if a != b {
		t.Fatalf("same seed produced different opaque keys: %s != %s", a, b)
	}
	if a == c {
		t.Fatalf("different seeds produced the same opaque key")
	}
}

func TestGreaterOrdersByLengthThenHashDescending(t *testing.T) {
	ln2, ln3 := uint32(2), uint32(3)
	low := Summary{StateHash: "zzz", BlockchainLength: &ln2}
	high := Summary{StateHash: "aaa", BlockchainLength: &ln3}
	if !Greater(high, low) {
		t.Fatalf("higher blockchain length should win regardless of hash")
	}

	tieA := Summary{StateHash: "bbb", BlockchainLength: &ln2}
	tieB := Summary{StateHash: "aaa", BlockchainLength: &ln2}
	if !Greater(tieA, tieB) {
		t.Fatalf("equal length should tie-break on greatest state hash")
	}
}

func TestGreaterKnownLengthBeatsUnknown(t *testing.T) {
	ln := uint32(1)
	withLen := Summary{StateHash: "a", BlockchainLength: &ln}
	withoutLen := Summary{StateHash: "z"}
	if !Greater(withLen, withoutLen) {
		t.Fatalf("a block with a known length must outrank one without")
	}
	if Greater(withoutLen, withLen) {
		t.Fatalf("Greater must be asymmetric")
	}
}
