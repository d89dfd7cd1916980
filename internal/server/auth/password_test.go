package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testHasher() *PasswordHasher {
	// MinCost keeps the tests fast; the logic is cost-independent.
	return NewPasswordHasher(bcrypt.MinCost)
}

func TestPasswordHasher_RoundTrip(t *testing.T) {
	h := testHasher()

	digest, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if !h.Verify("correct horse battery staple", digest) {
		t.Fatal("Verify must succeed for the original plaintext")
	}
	if h.Verify("wrong password", digest) {
		t.Fatal("Verify must fail for a different plaintext")
	}
}

func TestPasswordHasher_MalformedDigest(t *testing.T) {
	h := testHasher()

	if h.Verify("anything", "") {
		t.Fatal("empty digest must fail verification")
	}
	if h.Verify("anything", "not-a-bcrypt-digest") {
		t.Fatal("malformed digest must fail verification, not panic")
	}
}

func TestPasswordHasher_InvalidCostFallsBack(t *testing.T) {
	h := NewPasswordHasher(999)
	if h.cost != DefaultBcryptCost {
		t.Fatalf("cost = %d, want default %d", h.cost, DefaultBcryptCost)
	}
}

func TestDummyVerify(t *testing.T) {
	h := testHasher()

	if h.DummyVerify("anything") {
		t.Fatal("DummyVerify must never succeed")
	}

	// The comparison must run against a real digest, not short-circuit on a
	// malformed one.
	cost, err := bcrypt.Cost([]byte(h.dummy))
	if err != nil {
		t.Fatalf("dummy digest is not valid bcrypt: %v", err)
	}
	if cost != h.cost {
		t.Fatalf("dummy digest cost = %d, want %d", cost, h.cost)
	}
}

func TestUnusablePassword(t *testing.T) {
	h := testHasher()

	a, err := h.UnusablePassword()
	if err != nil {
		t.Fatalf("UnusablePassword error: %v", err)
	}
	b, err := h.UnusablePassword()
	if err != nil {
		t.Fatalf("UnusablePassword error: %v", err)
	}
	if a == b {
		t.Fatal("two unusable digests should not collide")
	}
	if h.Verify("", a) || h.Verify("password", a) {
		t.Fatal("unusable digest must not verify common inputs")
	}
}
