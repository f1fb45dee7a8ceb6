package fraud

import "context"

// NullScorer always reports "unavailable" (nil, nil), participating as
// neutral in fusion per spec.md §9. It's the default when no ML backend is
// configured — model training/serving is out of scope per spec.md §1.
type NullScorer struct{}

func (NullScorer) Score(_ context.Context, _ Event) (*float64, error) { return nil, nil }

// NullIsolationScorer is NullScorer's IsolationScorer counterpart.
type NullIsolationScorer struct{}

func (NullIsolationScorer) Flag(_ context.Context, _ Event) (*int, error) { return nil, nil }

// MockScorer returns a fixed value for every event, for tests and demo
// deployments that want deterministic fusion behavior without a real
// model.
type MockScorer struct{ Value float64 }

func (m MockScorer) Score(_ context.Context, _ Event) (*float64, error) {
	v := m.Value
	return &v, nil
}

// MockIsolationScorer is MockScorer's IsolationScorer counterpart.
type MockIsolationScorer struct{ Flag_ int }

func (m MockIsolationScorer) Flag(_ context.Context, _ Event) (*int, error) {
	v := m.Flag_
	return &v, nil
}
