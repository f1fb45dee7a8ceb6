package vdfchain

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/aegisway/tollguard/internal/clockservice"
	"github.com/aegisway/tollguard/internal/policy"
	"go.uber.org/zap"
)

// Chain is the C10 component: a single serialized VDF hash chain. Appends
// are guarded by one mutex, per spec.md §5's "Chain serialization" —
// ingest never blocks on this mutex directly; the composition root hands
// append requests to a bounded worker pool (internal/anchor's sibling
// queue) sized by the service's VDFWorkerCount setting; policy.vdf_workers
// is not read.
type Chain struct {
	store  Store
	policy *policy.Store
	clock  clockservice.Clock
	logger *zap.Logger

	mu   sync.Mutex
	head *Link
}

// New wires a Chain over store. If store is non-empty, the current head is
// loaded eagerly so the first Append doesn't pay a store round trip under
// the lock. clock backs crossCheckDecisions's pending-vs-inserted window.
func New(ctx context.Context, store Store, pol *policy.Store, clock clockservice.Clock, logger *zap.Logger) (*Chain, error) {
	c := &Chain{store: store, policy: pol, clock: clock, logger: logger}
	head, err := store.Head(ctx)
	if err != nil {
		if err != ErrChainEmpty {
			return nil, fmt.Errorf("vdfchain.New: %w", err)
		}
		return c, nil
	}
	c.head = head
	return c, nil
}

// Append computes and persists the next link for an accepted event, per
// spec.md §4.4's vdf_input formula. It lazily creates the genesis link on
// first use.
func (c *Chain) Append(ctx context.Context, eventID, readerID string, ts time.Time) (*Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pol := c.policy.Get()

	if c.head == nil {
		genesis, err := c.buildGenesis(ctx, pol)
		if err != nil {
			return nil, err
		}
		c.head = genesis
	}

	prev := c.head
	input := linkInput(prev.Output, eventID, readerID, ts)
	output, proof := computeVDF(input, pol.VDFDifficulty, pol.CheckpointGranularity)

	link := &Link{
		Seq:        prev.Seq + 1,
		EventID:    eventID,
		ReaderID:   readerID,
		Timestamp:  ts,
		PrevOutput: prev.Output,
		Input:      input,
		Output:     output,
		Proof:      proof,
		Difficulty: pol.VDFDifficulty,
		ComputedAt: time.Now(),
	}
	if err := c.store.Append(ctx, link); err != nil {
		return nil, fmt.Errorf("vdfchain.Append: %w", err)
	}
	c.head = link
	return link, nil
}

// buildGenesis constructs and persists the fixed genesis link at seq 0,
// output = SHA256(policy.genesis_seed), per spec.md §3's worked example.
func (c *Chain) buildGenesis(ctx context.Context, pol *policy.Policy) (*Link, error) {
	sum := sha256.Sum256([]byte(pol.GenesisSeed))
	genesis := &Link{
		Seq:        0,
		EventID:    "GENESIS",
		Output:     sum[:],
		Difficulty: pol.VDFDifficulty,
		ComputedAt: time.Now(),
	}
	if err := c.store.Append(ctx, genesis); err != nil {
		return nil, fmt.Errorf("vdfchain.buildGenesis: %w", err)
	}
	c.logger.Info("vdf chain genesis created", zap.String("seed", pol.GenesisSeed))
	return genesis, nil
}

// Head returns the current chain head.
func (c *Chain) Head(ctx context.Context) (*Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head != nil {
		cp := *c.head
		return &cp, nil
	}
	return c.store.Head(ctx)
}

// Len returns the number of links appended to the chain, including genesis.
func (c *Chain) Len(ctx context.Context) (int64, error) {
	n, err := c.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("vdfchain.Len: %w", err)
	}
	return n, nil
}

// ReseedGenesis implements the admin surface's reseed_vdf_genesis(seed),
// which may only run against an empty chain per spec.md §4.6.
func (c *Chain) ReseedGenesis(ctx context.Context, seed string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("vdfchain.ReseedGenesis: %w", err)
	}
	if n > 0 {
		return ErrChainNotEmpty
	}
	pol := c.policy.Get().Clone()
	pol.GenesisSeed = seed
	c.policy.Swap(pol)
	c.head = nil
	return nil
}

// linkInput builds spec.md §4.4's vdf_input:
// SHA256(prev.vdf_output ‖ event_id ‖ reader_id ‖ timestamp_le_u64).
func linkInput(prevOutput []byte, eventID, readerID string, ts time.Time) []byte {
	buf := make([]byte, 0, len(prevOutput)+len(eventID)+len(readerID)+8)
	buf = append(buf, prevOutput...)
	buf = append(buf, []byte(eventID)...)
	buf = append(buf, []byte(readerID)...)
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(ts.Unix()))
	buf = append(buf, tsBuf[:]...)
	sum := sha256.Sum256(buf)
	return sum[:]
}
