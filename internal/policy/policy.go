// Package policy loads and serves the declarative trust/fraud/anchoring
// policy document. The document is reloadable without a restart: a reload
// swaps the entire snapshot behind an atomic pointer so readers never see a
// half-updated policy.
package policy

import "time"

// Policy holds every threshold, weight, window, interval, and difficulty
// named in the specification. All fields are read-only after Load returns;
// mutate by loading a new Policy and calling Store.Swap.
type Policy struct {
	// Ingest (C6)
	MaxDriftSeconds  int64   `yaml:"max_drift_seconds" json:"max_drift_seconds"`
	RateLimitPerSec  float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	RateLimitBurst   int     `yaml:"rate_limit_burst" json:"rate_limit_burst"`
	NonceRetentionX  int64   `yaml:"nonce_retention_multiplier" json:"nonce_retention_multiplier"`

	// Trust engine (C7)
	BasePenalty             map[string]float64 `yaml:"base_penalty" json:"base_penalty"`
	Weight                  map[string]float64 `yaml:"weight" json:"weight"`
	Severity                map[string]int     `yaml:"severity" json:"severity"`
	TrustedFloor            float64            `yaml:"trusted_floor" json:"trusted_floor"`
	DegradedFloor           float64            `yaml:"degraded_floor" json:"degraded_floor"`
	QuarantineFloor         float64            `yaml:"quarantine_floor" json:"quarantine_floor"`
	ProbationEntryFloor     float64            `yaml:"probation_entry_floor" json:"probation_entry_floor"`
	RestoreScore            float64            `yaml:"restore_score" json:"restore_score"`
	RecoveryMinGap          time.Duration      `yaml:"recovery_min_gap" json:"recovery_min_gap"`
	RecoveryCap             float64            `yaml:"recovery_cap" json:"recovery_cap"`
	RecoveryRate            float64            `yaml:"recovery_rate" json:"recovery_rate"`
	SuspicionWindow         time.Duration      `yaml:"suspicion_window" json:"suspicion_window"`
	SuspicionTTL            time.Duration      `yaml:"suspicion_ttl" json:"suspicion_ttl"`
	SuspicionMultiplier     float64            `yaml:"suspicion_multiplier" json:"suspicion_multiplier"`
	ConsensusApprovalRatio  float64            `yaml:"consensus_approval_ratio" json:"consensus_approval_ratio"`
	ConsensusMinVoters      int                `yaml:"consensus_min_voters" json:"consensus_min_voters"`
	ConsensusTimeout        time.Duration      `yaml:"consensus_timeout" json:"consensus_timeout"`
	TimingWindowMs          int64              `yaml:"timing_window_ms" json:"timing_window_ms"`
	ChallengeMaxAttempts    int                `yaml:"challenge_max_attempts" json:"challenge_max_attempts"`
	ChallengeTTL            time.Duration      `yaml:"challenge_ttl" json:"challenge_ttl"`
	RewardStreak            int                `yaml:"reward_streak" json:"reward_streak"`
	RewardPoints            float64            `yaml:"reward_points" json:"reward_points"`

	// Fraud detector (C8)
	AmountCeiling      float64            `yaml:"amount_ceiling" json:"amount_ceiling"`
	TariffCeilingByType map[string]float64 `yaml:"tariff_ceiling_by_type" json:"tariff_ceiling_by_type"`
	DuplicateWindow    time.Duration      `yaml:"duplicate_window" json:"duplicate_window"`
	MLBlockThreshold   float64            `yaml:"ml_block_threshold" json:"ml_block_threshold"`
	MLTimeout          time.Duration      `yaml:"ml_timeout" json:"ml_timeout"`
	CrossWindow        time.Duration      `yaml:"cross_window" json:"cross_window"`
	CrossMultiplier    float64            `yaml:"cross_multiplier" json:"cross_multiplier"`
	CrossStatsInterval time.Duration      `yaml:"cross_stats_interval" json:"cross_stats_interval"`

	// VDF chain (C10)
	VDFDifficulty          int    `yaml:"vdf_difficulty" json:"vdf_difficulty"`
	CheckpointGranularity  int    `yaml:"checkpoint_granularity" json:"checkpoint_granularity"`
	GenesisSeed            string `yaml:"genesis_seed" json:"genesis_seed"`
	ReorderTolerance       time.Duration `yaml:"reorder_tolerance" json:"reorder_tolerance"`
	VDFWorkers             int    `yaml:"vdf_workers" json:"vdf_workers"`
	ResponseAwaitsVDF      bool   `yaml:"response_awaits_vdf" json:"response_awaits_vdf"`
	VDFReconcileGrace      time.Duration `yaml:"vdf_reconcile_grace" json:"vdf_reconcile_grace"`

	// Anchor queue (C11)
	AnchorBatchSize    int           `yaml:"anchor_batch_size" json:"anchor_batch_size"`
	AnchorMaxDelay     time.Duration `yaml:"anchor_max_delay" json:"anchor_max_delay"`
	AnchorBackoffBase  time.Duration `yaml:"anchor_backoff_base" json:"anchor_backoff_base"`
	AnchorBackoffCap   time.Duration `yaml:"anchor_backoff_cap" json:"anchor_backoff_cap"`
	AnchorQueueMax     int           `yaml:"anchor_queue_max" json:"anchor_queue_max"`

	// Ingest deadline (C6/§5)
	IngestDeadline time.Duration `yaml:"ingest_deadline" json:"ingest_deadline"`

	// Timestamp-drift-as-violation ratio (§7 class 2)
	DriftViolationRatio float64 `yaml:"drift_violation_ratio" json:"drift_violation_ratio"`
}

// Violation classes used as keys into BasePenalty/Weight/Severity.
const (
	ViolationReplay             = "REPLAY"
	ViolationBadSignature       = "BAD_SIGNATURE"
	ViolationUnknownReader      = "UNKNOWN_READER"
	ViolationBadKeyVersion      = "BAD_KEY_VERSION"
	ViolationStaleTimestamp     = "STALE_TIMESTAMP"
	ViolationRateLimited        = "RATE_LIMITED"
	ViolationFraudRule          = "FRAUD_RULE"
	ViolationFraudML            = "FRAUD_ML"
	ViolationBalanceManipulation = "BALANCE_MANIPULATION"
	ViolationProbationFailure   = "PROBATION_CHALLENGE_FAILURE"
)

// Clone returns a shallow copy of p, safe to mutate a scalar field on
// before Store.Swap. Callers that need to mutate a map field must replace
// the whole map, not a key within the clone's map (it aliases p's).
func (p *Policy) Clone() *Policy {
	cp := *p
	return &cp
}

// Default returns a reasonable built-in policy matching the values named in
// the specification's worked examples, used when no policy file is supplied
// (tests, local development).
func Default() *Policy {
	return &Policy{
		MaxDriftSeconds: 300,
		RateLimitPerSec: 5,
		RateLimitBurst:  10,
		NonceRetentionX: 2,

		BasePenalty: map[string]float64{
			ViolationReplay:              40,
			ViolationBadSignature:        40,
			ViolationUnknownReader:       10,
			ViolationBadKeyVersion:       10,
			ViolationStaleTimestamp:      5,
			ViolationRateLimited:         5,
			ViolationFraudRule:           15,
			ViolationFraudML:             20,
			ViolationBalanceManipulation: 40,
			ViolationProbationFailure:    10,
		},
		Weight: map[string]float64{
			ViolationReplay:              1.0,
			ViolationBadSignature:        1.0,
			ViolationUnknownReader:       1.0,
			ViolationBadKeyVersion:       1.0,
			ViolationStaleTimestamp:      1.0,
			ViolationRateLimited:         1.0,
			ViolationFraudRule:           1.0,
			ViolationFraudML:             1.0,
			ViolationBalanceManipulation: 1.0,
			ViolationProbationFailure:    1.0,
		},
		Severity: map[string]int{
			ViolationReplay:              2,
			ViolationBadSignature:        2,
			ViolationBalanceManipulation: 3,
		},

		TrustedFloor:           70,
		DegradedFloor:          35,
		QuarantineFloor:        20,
		ProbationEntryFloor:    50,
		RestoreScore:           75,
		RecoveryMinGap:         time.Hour,
		RecoveryCap:            30,
		RecoveryRate:           5,
		SuspicionWindow:        time.Hour,
		SuspicionTTL:           30 * time.Minute,
		SuspicionMultiplier:    1.5,
		ConsensusApprovalRatio: 0.6,
		ConsensusMinVoters:     2,
		ConsensusTimeout:       24 * time.Hour,
		TimingWindowMs:         5000,
		ChallengeMaxAttempts:   2,
		ChallengeTTL:           time.Hour,
		RewardStreak:           10,
		RewardPoints:           1,

		AmountCeiling:      5000,
		TariffCeilingByType: map[string]float64{"CAR": 300},
		DuplicateWindow:    60 * time.Second,
		MLBlockThreshold:   0.7,
		MLTimeout:          200 * time.Millisecond,
		CrossWindow:        10 * time.Minute,
		CrossMultiplier:    3,
		CrossStatsInterval: 30 * time.Second,

		VDFDifficulty:         1000,
		CheckpointGranularity: 10,
		GenesisSeed:           "TOLLGUARD_VDF_GENESIS",
		ReorderTolerance:      2 * time.Second,
		VDFWorkers:            1,
		ResponseAwaitsVDF:     false,
		// Three sweep intervals: runNonceSweeper's reconciliation pass runs
		// every 30s, so a record can wait up to one missed sweep plus a
		// full one before it's overdue.
		VDFReconcileGrace: 90 * time.Second,

		AnchorBatchSize:   50,
		AnchorMaxDelay:    30 * time.Second,
		AnchorBackoffBase: 500 * time.Millisecond,
		AnchorBackoffCap:  time.Minute,
		AnchorQueueMax:    10000,

		IngestDeadline:      2 * time.Second,
		DriftViolationRatio: 0.5,
	}
}
