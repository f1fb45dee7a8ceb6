package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when a reader_id has no registry entry.
var ErrNotFound = errors.New("registry: reader not found")

// Store abstracts persistence for Reader records. Any transactional
// key/index store satisfies it; two implementations are provided here,
// following the same shape the tool registry used for its Postgres and
// unregistered-tool paths.
type Store interface {
	Get(ctx context.Context, readerID string) (*Reader, error)
	Put(ctx context.Context, r *Reader) error
	List(ctx context.Context) ([]*Reader, error)
}

// memoryStore is the default in-memory Store, used whenever no Postgres DSN
// is configured. Safe for concurrent use.
type memoryStore struct {
	mu      sync.RWMutex
	readers map[string]*Reader
}

// NewMemoryStore creates an empty in-memory reader store.
func NewMemoryStore() Store {
	return &memoryStore{readers: make(map[string]*Reader)}
}

func (s *memoryStore) Get(_ context.Context, readerID string) (*Reader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.readers[readerID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *memoryStore) Put(_ context.Context, r *Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readers[r.ReaderID] = r.Clone()
	return nil
}

func (s *memoryStore) List(_ context.Context) ([]*Reader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Reader, 0, len(s.readers))
	for _, r := range s.readers {
		out = append(out, r.Clone())
	}
	return out, nil
}

// readerRow mirrors the "readers" table's columns per the specification's
// persisted-state layout.
type readerRow struct {
	ReaderID             string
	Secret               []byte
	KeyVersion           int
	TrustScore           float64
	Status               string
	LastViolationAt      sql.NullTime
	LastTrustUpdateAt    sql.NullTime
	AuthFailures         int
	ReplayAttempts       int
	ConsecutiveSuccesses int
	CreatedAt            time.Time
}

// postgresStore is the Store backed by a SQL "readers" table via pgx's
// database/sql driver, following the same sqlToolStore-shaped read/write
// split the tool registry used.
type postgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB (registered under the
// "pgx" driver name via database/sql/pgx/v5/stdlib) as a reader Store.
func NewPostgresStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Get(ctx context.Context, readerID string) (*Reader, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT reader_id, secret, key_version, trust_score, status,
		       last_violation_at, last_trust_update_at,
		       auth_failures, replay_attempts, consecutive_successes, created_at
		FROM readers
		WHERE reader_id = $1
	`, readerID)

	var rr readerRow
	if err := row.Scan(
		&rr.ReaderID, &rr.Secret, &rr.KeyVersion, &rr.TrustScore, &rr.Status,
		&rr.LastViolationAt, &rr.LastTrustUpdateAt,
		&rr.AuthFailures, &rr.ReplayAttempts, &rr.ConsecutiveSuccesses, &rr.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("registry.postgresStore.Get: %w", err)
	}
	return rowToReader(rr), nil
}

func (s *postgresStore) Put(ctx context.Context, r *Reader) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO readers (
			reader_id, secret, key_version, trust_score, status,
			last_violation_at, last_trust_update_at,
			auth_failures, replay_attempts, consecutive_successes, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (reader_id) DO UPDATE SET
			secret = EXCLUDED.secret,
			key_version = EXCLUDED.key_version,
			trust_score = EXCLUDED.trust_score,
			status = EXCLUDED.status,
			last_violation_at = EXCLUDED.last_violation_at,
			last_trust_update_at = EXCLUDED.last_trust_update_at,
			auth_failures = EXCLUDED.auth_failures,
			replay_attempts = EXCLUDED.replay_attempts,
			consecutive_successes = EXCLUDED.consecutive_successes
	`,
		r.ReaderID, r.Secret, r.KeyVersion, r.TrustScore, string(r.Status),
		nullableTime(r.LastViolationAt), nullableTime(r.LastTrustUpdateAt),
		r.AuthFailures, r.ReplayAttempts, r.ConsecutiveSuccesses, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("registry.postgresStore.Put: %w", err)
	}
	return nil
}

func (s *postgresStore) List(ctx context.Context) ([]*Reader, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reader_id, secret, key_version, trust_score, status,
		       last_violation_at, last_trust_update_at,
		       auth_failures, replay_attempts, consecutive_successes, created_at
		FROM readers
	`)
	if err != nil {
		return nil, fmt.Errorf("registry.postgresStore.List: %w", err)
	}
	defer rows.Close()

	var out []*Reader
	for rows.Next() {
		var rr readerRow
		if err := rows.Scan(
			&rr.ReaderID, &rr.Secret, &rr.KeyVersion, &rr.TrustScore, &rr.Status,
			&rr.LastViolationAt, &rr.LastTrustUpdateAt,
			&rr.AuthFailures, &rr.ReplayAttempts, &rr.ConsecutiveSuccesses, &rr.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("registry.postgresStore.List: scan: %w", err)
		}
		out = append(out, rowToReader(rr))
	}
	return out, rows.Err()
}

func rowToReader(rr readerRow) *Reader {
	r := &Reader{
		ReaderID:             rr.ReaderID,
		Secret:               rr.Secret,
		KeyVersion:           rr.KeyVersion,
		TrustScore:           rr.TrustScore,
		Status:               Status(rr.Status),
		AuthFailures:         rr.AuthFailures,
		ReplayAttempts:       rr.ReplayAttempts,
		ConsecutiveSuccesses: rr.ConsecutiveSuccesses,
		CreatedAt:            rr.CreatedAt,
	}
	if rr.LastViolationAt.Valid {
		r.LastViolationAt = rr.LastViolationAt.Time
	}
	if rr.LastTrustUpdateAt.Valid {
		r.LastTrustUpdateAt = rr.LastTrustUpdateAt.Time
	}
	return r
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
