package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// postgresStore persists DecisionRecords to a SQL "decision_records" table,
// following the same database/sql shape as internal/registry.postgresStore.
// The table is insert-only: DecisionRecords are never updated once written,
// per spec.md §3's invariant that exactly one record exists per event_id.
type postgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB as a decision log Store.
func NewPostgresStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Append(ctx context.Context, r *Record) error {
	ruleFlags, err := json.Marshal(r.RuleFlags)
	if err != nil {
		return fmt.Errorf("decisionlog.postgresStore.Append: marshal rule_flags: %w", err)
	}
	reasonCodes, err := json.Marshal(r.ReasonCodes)
	if err != nil {
		return fmt.Errorf("decisionlog.postgresStore.Append: marshal reason_codes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decision_records (
			event_id, reader_id, tag_hash, ts, amount_cents,
			ml_a, ml_b, iso_flag, rule_flags,
			trust_snapshot, decision, reason_codes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (event_id) DO NOTHING
	`,
		r.EventID, r.ReaderID, r.TagHash, r.Timestamp, r.AmountCents,
		r.MLA, r.MLB, r.IsoFlag, ruleFlags,
		r.TrustSnapshot, r.Decision, reasonCodes,
	)
	if err != nil {
		return fmt.Errorf("decisionlog.postgresStore.Append: %w", err)
	}
	return nil
}

func (s *postgresStore) Get(ctx context.Context, eventID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, reader_id, tag_hash, ts, amount_cents,
		       ml_a, ml_b, iso_flag, rule_flags, trust_snapshot, decision, reason_codes
		FROM decision_records WHERE event_id = $1
	`, eventID)
	r, ruleFlags, reasonCodes := &Record{}, "", ""
	if err := row.Scan(
		&r.EventID, &r.ReaderID, &r.TagHash, &r.Timestamp, &r.AmountCents,
		&r.MLA, &r.MLB, &r.IsoFlag, &ruleFlags, &r.TrustSnapshot, &r.Decision, &reasonCodes,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("decisionlog.postgresStore.Get: %w", err)
	}
	_ = json.Unmarshal([]byte(ruleFlags), &r.RuleFlags)
	_ = json.Unmarshal([]byte(reasonCodes), &r.ReasonCodes)
	return r, nil
}

func (s *postgresStore) ListSince(ctx context.Context, since time.Time) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, reader_id, tag_hash, ts, amount_cents,
		       ml_a, ml_b, iso_flag, rule_flags, trust_snapshot, decision, reason_codes
		FROM decision_records WHERE ts >= $1 ORDER BY ts ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("decisionlog.postgresStore.ListSince: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, ruleFlags, reasonCodes := &Record{}, "", ""
		if err := rows.Scan(
			&r.EventID, &r.ReaderID, &r.TagHash, &r.Timestamp, &r.AmountCents,
			&r.MLA, &r.MLB, &r.IsoFlag, &ruleFlags, &r.TrustSnapshot, &r.Decision, &reasonCodes,
		); err != nil {
			return nil, fmt.Errorf("decisionlog.postgresStore.ListSince: scan: %w", err)
		}
		_ = json.Unmarshal([]byte(ruleFlags), &r.RuleFlags)
		_ = json.Unmarshal([]byte(reasonCodes), &r.ReasonCodes)
		out = append(out, r)
	}
	return out, rows.Err()
}
