// Package admin implements the admin surface (C12): a fixed set of
// operations authenticated by one shared admin key, hashed at rest with
// bcrypt and compared in constant time, following the credential-check
// shape of internal/auth's postgres_auth.go (bcrypt.CompareHashAndPassword)
// adapted from a per-project API key lookup to a single static secret.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aegisway/tollguard/internal/anchor"
	"github.com/aegisway/tollguard/internal/nonceledger"
	"github.com/aegisway/tollguard/internal/registry"
	"github.com/aegisway/tollguard/internal/trust"
	"github.com/aegisway/tollguard/internal/vdfchain"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is returned when the presented admin key fails to verify.
var ErrUnauthorized = errors.New("admin: unauthorized")

// Surface wires every C12 operation over the components that already
// implement them (trust.Engine, registry.Registry, nonceledger.Ledger,
// vdfchain.Chain, anchor.Queue); admin adds no state of its own beyond the
// admin key hash.
type Surface struct {
	adminKeyHash []byte
	reg          *registry.Registry
	trust        *trust.Engine
	nonces       *nonceledger.Ledger
	chain        *vdfchain.Chain
	anchors      *anchor.Queue
	logger       *zap.Logger
}

// New wires a Surface. adminKey is hashed immediately with bcrypt; the
// caller's plaintext copy should be discarded afterward.
func New(adminKey string, reg *registry.Registry, trustEngine *trust.Engine, nonces *nonceledger.Ledger, chain *vdfchain.Chain, anchors *anchor.Queue, logger *zap.Logger) (*Surface, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("admin.New: %w", err)
	}
	return &Surface{
		adminKeyHash: hash,
		reg:          reg,
		trust:        trustEngine,
		nonces:       nonces,
		chain:        chain,
		anchors:      anchors,
		logger:       logger,
	}, nil
}

// Authenticate verifies presentedKey against the configured admin key.
// bcrypt.CompareHashAndPassword is itself constant-time with respect to
// the hash; the failure path returns a single sentinel so callers can't
// distinguish "wrong key" from any other verification failure.
func (s *Surface) Authenticate(presentedKey string) error {
	if err := bcrypt.CompareHashAndPassword(s.adminKeyHash, []byte(presentedKey)); err != nil {
		return ErrUnauthorized
	}
	return nil
}

// RotateReaderSecret implements rotate_reader_secret(reader_id) -> new_key_version.
func (s *Surface) RotateReaderSecret(ctx context.Context, readerID string) (int, error) {
	v, err := s.reg.RotateSecret(ctx, readerID)
	if err != nil {
		return 0, fmt.Errorf("admin.RotateReaderSecret: %w", err)
	}
	s.logger.Info("admin: reader secret rotated", zap.String("reader_id", readerID), zap.Int("key_version", v))
	return v, nil
}

// ResetTrust implements reset_trust(reader_id, score).
func (s *Surface) ResetTrust(ctx context.Context, readerID string, score float64) error {
	if err := s.trust.ResetTrust(ctx, readerID, score); err != nil {
		return fmt.Errorf("admin.ResetTrust: %w", err)
	}
	s.logger.Info("admin: trust reset", zap.String("reader_id", readerID), zap.Float64("score", score))
	return nil
}

// ForceQuarantine implements force_quarantine(reader_id, reason).
func (s *Surface) ForceQuarantine(ctx context.Context, readerID, reason string) error {
	if err := s.trust.ForceQuarantine(ctx, readerID, reason); err != nil {
		return fmt.Errorf("admin.ForceQuarantine: %w", err)
	}
	s.logger.Info("admin: reader force-quarantined", zap.String("reader_id", readerID), zap.String("reason", reason))
	return nil
}

// ClearNonces implements clear_nonces(before=ts).
func (s *Surface) ClearNonces(ctx context.Context, before time.Time) int {
	n := s.nonces.ClearBefore(ctx, before)
	s.logger.Info("admin: nonces cleared", zap.Time("before", before), zap.Int("cleared", n))
	return n
}

// ReseedVDFGenesis implements reseed_vdf_genesis(seed), which vdfchain.Chain
// already guards to only accept when the chain is empty.
func (s *Surface) ReseedVDFGenesis(ctx context.Context, seed string) error {
	if err := s.chain.ReseedGenesis(ctx, seed); err != nil {
		return fmt.Errorf("admin.ReseedVDFGenesis: %w", err)
	}
	s.logger.Info("admin: vdf genesis reseeded")
	return nil
}

// ListPendingAnchors implements list_pending_anchors().
func (s *Surface) ListPendingAnchors(ctx context.Context) ([]*anchor.Anchor, error) {
	return s.anchors.ListPending(ctx)
}

// RetryAnchor implements retry_anchor(id).
func (s *Surface) RetryAnchor(ctx context.Context, id string) error {
	if err := s.anchors.RetryAnchor(ctx, id); err != nil {
		return fmt.Errorf("admin.RetryAnchor: %w", err)
	}
	s.logger.Info("admin: anchor retry requested", zap.String("anchor_id", id))
	return nil
}
