// Package ingest implements the C6 ingest verifier: it orchestrates
// crypto primitives (C1), the policy store (C2), the clock (C3), the reader
// registry (C4), and the nonce ledger (C5) to authenticate one inbound toll
// event, per spec.md §4.1.
package ingest

import "github.com/aegisway/tollguard/internal/registry"

// TollEvent is one inbound reader-submitted event, exactly as spec.md §3
// describes it. It is transient: once accepted, its fields are copied into
// a DecisionRecord and the struct itself is discarded.
type TollEvent struct {
	TagHash    string
	ReaderID   string
	Timestamp  int64
	Nonce      string
	Signature  string
	KeyVersion int
}

// RejectCode enumerates the ways an ingest attempt can fail, per spec.md §4.1.
type RejectCode string

const (
	CodeNone            RejectCode = ""
	CodeUnknownReader   RejectCode = "UNKNOWN_READER"
	CodeBadKeyVersion   RejectCode = "BAD_KEY_VERSION"
	CodeBadSignature    RejectCode = "BAD_SIGNATURE"
	CodeReplay          RejectCode = "REPLAY"
	CodeStaleTimestamp  RejectCode = "STALE_TIMESTAMP"
	CodeRateLimited     RejectCode = "RATE_LIMITED"
	CodeReaderSuspended RejectCode = "READER_SUSPENDED"
)

// Decision is the outcome of Verify.
type Decision struct {
	Accepted bool
	Code     RejectCode
	Reader   *registry.Reader // snapshot at decision time, nil only if UNKNOWN_READER
}
