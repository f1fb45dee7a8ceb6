// Package cardledger holds card balances and applies toll deductions. It is
// the supplemental component named in SPEC_FULL.md §6.1: spec.md names
// Card in its data model but never gives the deduction operation a home.
package cardledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCardNotFound is returned for an unknown tag_hash.
var ErrCardNotFound = errors.New("cardledger: card not found")

// ErrInsufficientBalance is returned when a deduction would drive the
// balance negative — the "balance manipulation" critical violation defined
// in spec.md §9.
var ErrInsufficientBalance = errors.New("cardledger: insufficient balance")

// Card is one tag_hash's balance and tariff classification.
type Card struct {
	TagHash     string
	BalanceCents int64
	VehicleType string
	TariffClass string
}

// Ledger is an in-memory, mutex-guarded card store. A Postgres-backed
// variant would follow the same read/upsert shape as internal/registry's
// postgresStore; it is omitted here because nothing in the specification's
// worked examples requires cross-process card durability beyond what the
// external relational store (out of scope per spec.md §1) already provides.
type Ledger struct {
	mu      sync.Mutex
	cards   map[string]*Card
	tariffs map[string]int64
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{cards: make(map[string]*Card), tariffs: make(map[string]int64)}
}

// SeedTariff sets the toll amount, in cents, for a tariff_class. Backs the
// `tariffs` table named in spec.md §6's persisted state layout.
func (l *Ledger) SeedTariff(tariffClass string, amountCents int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tariffs[tariffClass] = amountCents
}

// PriceFor looks up the toll amount for a card's tariff_class.
func (l *Ledger) PriceFor(_ context.Context, tariffClass string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount, ok := l.tariffs[tariffClass]
	if !ok {
		return 0, fmt.Errorf("cardledger.PriceFor: unknown tariff class %q", tariffClass)
	}
	return amount, nil
}

// Seed inserts or overwrites a card record (used by admin/test setup).
func (l *Ledger) Seed(c Card) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := c
	l.cards[c.TagHash] = &cp
}

// Get returns a copy of the card record for tagHash.
func (l *Ledger) Get(_ context.Context, tagHash string) (Card, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.cards[tagHash]
	if !ok {
		return Card{}, ErrCardNotFound
	}
	return *c, nil
}

// Deduct atomically subtracts amountCents from the card's balance. If the
// deduction would drive the balance negative, no mutation occurs and
// ErrInsufficientBalance is returned so the caller can raise the
// BALANCE_MANIPULATION violation instead of silently going negative.
func (l *Ledger) Deduct(_ context.Context, tagHash string, amountCents int64) (newBalance int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.cards[tagHash]
	if !ok {
		return 0, ErrCardNotFound
	}
	if c.BalanceCents-amountCents < 0 {
		return c.BalanceCents, ErrInsufficientBalance
	}
	c.BalanceCents -= amountCents
	return c.BalanceCents, nil
}

// RandomTagHash returns an arbitrary known tag_hash, used by the trust
// engine to pick a KNOWN_TAG probation challenge target. Map iteration
// order is randomized by the runtime, which is sufficient unpredictability
// here — a compromised reader should not be able to predict which tag a
// future challenge will use.
func (l *Ledger) RandomTagHash(_ context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for tag := range l.cards {
		return tag, nil
	}
	return "", ErrCardNotFound
}

// Refund reverses a prior deduction when decision persistence fails after
// the card was already debited, per spec.md §3's "Card: Mutated only by a
// successful deduction; rollback on downstream failure." Once a
// DecisionRecord is durably persisted the charge is committed to the audit
// trail and must not be reversed even if a later stage (the VDF append)
// fails — that failure is healed by vdfchain.Reconcile instead, which
// leaves the balance alone.
func (l *Ledger) Refund(_ context.Context, tagHash string, amountCents int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.cards[tagHash]
	if !ok {
		return fmt.Errorf("cardledger.Refund: %w", ErrCardNotFound)
	}
	c.BalanceCents += amountCents
	return nil
}
