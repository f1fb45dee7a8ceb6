// Package cryptoprim provides the low-level cryptographic building blocks
// used by the ingest pipeline: digests, HMAC signing/verification, and
// secure random generation. Nothing here touches policy or storage.
package cryptoprim

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
)

// ErrEmptySecret is returned when signing or verifying with a zero-length secret.
var ErrEmptySecret = errors.New("cryptoprim: secret must not be empty")

// DigestHex returns the lowercase hex-encoded SHA-256 digest of data.
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestBytes returns the raw SHA-256 digest of data.
func DigestBytes(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// CanonicalMessage builds the canonical signature message for a toll event:
// tag_hash ‖ reader_id ‖ decimal_timestamp ‖ nonce, UTF-8 concatenated with
// no separators. This must match byte-for-byte regardless of how the
// transport layer deserialized the request.
func CanonicalMessage(tagHash, readerID string, timestamp int64, nonce string) []byte {
	msg := tagHash + readerID + strconv.FormatInt(timestamp, 10) + nonce
	return []byte(msg)
}

// Sign computes the hex-encoded HMAC-SHA256 of msg under secret.
func Sign(secret, msg []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a hex-encoded HMAC-SHA256 signature in constant time.
// It always computes the expected signature before comparing, so callers
// cannot skip the comparison based on secret length.
func Verify(secret, msg []byte, signatureHex string) (bool, error) {
	expected, err := Sign(secret, msg)
	if err != nil {
		return false, err
	}
	expectedBytes, err := hex.DecodeString(expected)
	if err != nil {
		return false, err
	}
	gotBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		// Not valid hex at all — definitely not a match, but do the
		// constant-time compare anyway against a zero buffer so timing
		// doesn't leak whether decoding failed.
		gotBytes = make([]byte, len(expectedBytes))
	}
	if len(gotBytes) != len(expectedBytes) {
		gotBytes = make([]byte, len(expectedBytes))
	}
	return subtle.ConstantTimeCompare(expectedBytes, gotBytes) == 1, nil
}

// ConstantTimeEqual compares two byte slices for equality without leaking
// their contents through timing, safe for comparing admin API keys or other
// shared secrets against caller input. Unlike a bare subtle.ConstantTimeCompare
// it also normalizes length differences by comparing fixed-size digests first.
func ConstantTimeEqual(a, b []byte) bool {
	da := DigestBytes(a)
	db := DigestBytes(b)
	if subtle.ConstantTimeCompare(da[:], db[:]) != 1 {
		return false
	}
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// RandomNonce returns a URL-safe hex nonce suitable for reader use.
func RandomNonce(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// RandomSecret returns n cryptographically random bytes for a fresh reader secret.
func RandomSecret(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
