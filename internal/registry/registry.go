package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aegisway/tollguard/internal/cryptoprim"
	"go.uber.org/zap"
)

const defaultSecretLen = 32

// Registry is the C4 component: the authoritative mapping of reader_id to
// reader state, with a per-reader logical lock so ingest, trust updates,
// and probation/consensus changes for the same reader never interleave
// (spec §5).
type Registry struct {
	store     Store
	cache     *readerCache
	masterKey []byte
	logger    *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Registry backed by store. masterKey seeds HKDF secret
// derivation for RotateSecret; it must be kept confidential and stable
// across restarts (losing it invalidates the ability to re-derive a
// reader's current secret, though the last-computed secret already
// persisted in Store remains usable).
func New(store Store, masterKey []byte, logger *zap.Logger) *Registry {
	return &Registry{
		store:     store,
		cache:     newReaderCache(),
		masterKey: masterKey,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-reader logical lock for readerID, returning an
// unlock function. Callers must defer the unlock immediately.
func (reg *Registry) Lock(readerID string) func() {
	reg.locksMu.Lock()
	l, ok := reg.locks[readerID]
	if !ok {
		l = &sync.Mutex{}
		reg.locks[readerID] = l
	}
	reg.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// Get returns the current Reader state, checking the write-through cache
// before falling back to the backing Store.
func (reg *Registry) Get(ctx context.Context, readerID string) (*Reader, error) {
	if r, ok := reg.cache.get(readerID); ok {
		return r, nil
	}
	r, err := reg.store.Get(ctx, readerID)
	if err != nil {
		return nil, err
	}
	reg.cache.set(r)
	return r, nil
}

// Put persists r and refreshes the cache. Callers must hold reg.Lock(r.ReaderID).
func (reg *Registry) Put(ctx context.Context, r *Reader) error {
	if err := reg.store.Put(ctx, r); err != nil {
		return fmt.Errorf("registry.Put: %w", err)
	}
	reg.cache.set(r)
	return nil
}

// List returns every registered reader (used by admin/telemetry surfaces).
func (reg *Registry) List(ctx context.Context) ([]*Reader, error) {
	return reg.store.List(ctx)
}

// Register creates a fresh reader at key_version 1, trust_score 100,
// status ACTIVE, with a newly derived secret.
func (reg *Registry) Register(ctx context.Context, readerID string) (*Reader, error) {
	unlock := reg.Lock(readerID)
	defer unlock()

	if _, err := reg.store.Get(ctx, readerID); err == nil {
		return nil, fmt.Errorf("registry.Register: reader %q already exists", readerID)
	}

	secret, err := reg.secretFor(readerID, 1)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		ReaderID:   readerID,
		Secret:     secret,
		KeyVersion: 1,
		TrustScore: 100,
		Status:     StatusActive,
		CreatedAt:  time.Now(),
	}
	if err := reg.Put(ctx, r); err != nil {
		return nil, err
	}
	reg.logger.Info("reader registered", zap.String("reader_id", readerID))
	return r.Clone(), nil
}

// RotateSecret advances a reader to the next key_version, deriving its new
// secret from the master key via HKDF (see rotate.go). The reader's
// previous key_version becomes invalid for signing per spec §4.1 step 2.
func (reg *Registry) RotateSecret(ctx context.Context, readerID string) (newKeyVersion int, err error) {
	unlock := reg.Lock(readerID)
	defer unlock()

	r, err := reg.store.Get(ctx, readerID)
	if err != nil {
		return 0, fmt.Errorf("registry.RotateSecret: %w", err)
	}

	nextVersion := r.KeyVersion + 1
	secret, err := reg.secretFor(readerID, nextVersion)
	if err != nil {
		return 0, err
	}

	r.Secret = secret
	r.KeyVersion = nextVersion
	if err := reg.Put(ctx, r); err != nil {
		return 0, err
	}
	reg.logger.Info("reader secret rotated",
		zap.String("reader_id", readerID),
		zap.Int("key_version", nextVersion),
	)
	return nextVersion, nil
}

func (reg *Registry) secretFor(readerID string, keyVersion int) ([]byte, error) {
	if len(reg.masterKey) == 0 {
		// No master key configured (e.g. tests): fall back to a random draw.
		return cryptoprim.RandomSecret(defaultSecretLen)
	}
	return deriveSecret(reg.masterKey, readerID, keyVersion, defaultSecretLen)
}
