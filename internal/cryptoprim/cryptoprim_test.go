package cryptoprim

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := []byte("reader-secret")
	msg := CanonicalMessage("abc123", "R1", 1700000000, "nonce1")

	sig, err := Sign(secret, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	ok, err := Verify(secret, msg, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyRejectsRotatedSecret(t *testing.T) {
	msg := CanonicalMessage("abc123", "R1", 1700000000, "nonce1")
	sig, err := Sign([]byte("old-secret"), msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	ok, err := Verify([]byte("new-secret"), msg, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expected signature under rotated secret to fail")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	msg := CanonicalMessage("abc123", "R1", 1700000000, "nonce1")
	ok, err := Verify([]byte("secret"), msg, "not-hex-!!")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expected malformed signature to fail")
	}
}

func TestCanonicalMessageHasNoSeparators(t *testing.T) {
	got := CanonicalMessage("H", "R1", 42, "N")
	want := "H" + "R1" + "42" + "N"
	if string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual([]byte("admin-key"), []byte("admin-key")) {
		t.Fatalf("expected equal keys to compare equal")
	}
	if ConstantTimeEqual([]byte("admin-key"), []byte("admin-key-longer")) {
		t.Fatalf("expected different-length keys to compare unequal")
	}
	if ConstantTimeEqual([]byte("admin-key"), []byte("wrong-keyy")) {
		t.Fatalf("expected different keys to compare unequal")
	}
}

func TestRandomNonceUnique(t *testing.T) {
	a, err := RandomNonce(16)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	b, err := RandomNonce(16)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct nonces")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars for 16 bytes, got %d", len(a))
	}
}
