// Package vdfchain implements the tamper-evident VDF hash chain (C10):
// iterated-SHA-256 verifiable delay function, sequential chain linking, and
// full-chain tamper detection. Grounded on
// original_source/backend/vdf_chain.py's VDFChainManager, with the genesis
// input changed from a timestamp-salted string to spec.md's fixed
// SHA256(seed) so genesis is deterministic and reproducible across restarts
// (a REDESIGN-flagged deviation from the original, see spec.md §3).
package vdfchain

import (
	"errors"
	"time"
)

// ErrChainEmpty is returned by operations that require an existing head
// when the chain has not been initialized yet.
var ErrChainEmpty = errors.New("vdfchain: chain is empty")

// ErrNotFound is returned when a sequence number or event_id has no link.
var ErrNotFound = errors.New("vdfchain: link not found")

// ErrChainNotEmpty guards reseed_vdf_genesis: it may only run on an empty
// chain, per spec.md §4.6.
var ErrChainNotEmpty = errors.New("vdfchain: chain already initialized")

// TamperClass names the kind of break full-chain verification found, per
// spec.md §4.4.
type TamperClass string

const (
	TamperNone         TamperClass = ""
	TamperVDFMismatch  TamperClass = "VDF_MISMATCH"
	TamperPrevBroken   TamperClass = "PREV_POINTER_BROKEN"
	TamperInserted     TamperClass = "INSERTED"
	TamperDeleted      TamperClass = "DELETED"
	TamperReordered    TamperClass = "REORDERED"
)

// Proof holds intermediate VDF checkpoints keyed by iteration index, which
// verifyVDF checks segment by segment while recomputing the link's own
// iterations, without reading any prior link.
type Proof map[int64][]byte

// Link is one entry in the VDF chain.
type Link struct {
	Seq          int64
	EventID      string
	ReaderID     string
	Timestamp    time.Time
	PrevOutput   []byte
	Input        []byte
	Output       []byte
	Proof        Proof
	Difficulty   int
	ComputedAt   time.Time
}

// VerifyResult is the outcome of a full-chain scan.
type VerifyResult struct {
	Valid          bool
	LinksVerified  int
	FirstBrokenSeq int64
	TamperClass    TamperClass
	Detail         string

	// PendingLinks counts DecisionRecords found during crossCheckDecisions
	// that have no chain link yet but are still within
	// policy.vdf_reconcile_grace of their own timestamp — an unlinked
	// record younger than the grace window is normal asynchronous-append
	// lag (the periodic Reconcile sweep will fill it), not
	// evidence of INSERTED tampering.
	PendingLinks int
}
