// Package tollsvc is the composition root: it wires C1-C12 plus the
// supplemental card ledger and telemetry reporter into one running service,
// following the shape of the teacher's cmd/tool-guard-server/main.go
// (env-driven config, zap logger, per-backend DSN-present-or-fallback,
// background workers under one lifecycle, signal-driven graceful
// shutdown) generalized from a single gRPC service to an HTTP surface plus
// four kinds of background loop (VDF worker pool, anchor worker, sweeper,
// cross-reader stats refresher), per spec.md §5's coroutine/timer redesign
// note.
package tollsvc

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aegisway/tollguard/internal/admin"
	"github.com/aegisway/tollguard/internal/anchor"
	"github.com/aegisway/tollguard/internal/cardledger"
	"github.com/aegisway/tollguard/internal/clockservice"
	"github.com/aegisway/tollguard/internal/decisionlog"
	"github.com/aegisway/tollguard/internal/fraud"
	"github.com/aegisway/tollguard/internal/ingest"
	"github.com/aegisway/tollguard/internal/nonceledger"
	"github.com/aegisway/tollguard/internal/policy"
	"github.com/aegisway/tollguard/internal/registry"
	"github.com/aegisway/tollguard/internal/statsnap"
	"github.com/aegisway/tollguard/internal/telemetry"
	"github.com/aegisway/tollguard/internal/trust"
	"github.com/aegisway/tollguard/internal/vdfchain"
	"go.uber.org/zap"
)

// Config is the composition root's env-sourced configuration, following the
// teacher's flat envOrDefault* struct-less style.
type Config struct {
	PolicyPath      string
	PostgresDSN     string
	ClickHouseDSN   string
	LedgerDSN       string
	AdminKey        string
	MasterKeyHex    string
	VDFWorkerCount  int
	AnchorTickEvery time.Duration
}

// Service holds every wired component the HTTP transport and background
// workers need.
type Service struct {
	Policy    *policy.Store
	Clock     clockservice.Clock
	Registry  *registry.Registry
	Nonces    *nonceledger.Ledger
	Cards     *cardledger.Ledger
	Verifier  *ingest.Verifier
	Trust     *trust.Engine
	Stats     *statsnap.Store
	StatsRec  *statsnap.Recorder
	Detector  *fraud.Detector
	Decisions decisionlog.Store
	Events    decisionlog.EventWriter
	Chain     *vdfchain.Chain
	Anchors   *anchor.Queue
	Admin     *admin.Surface
	Telemetry *telemetry.Reporter

	logger   *zap.Logger
	vdfQueue chan vdfAppendJob
}

// Build wires every component from cfg. It never starts background
// workers or listens on any socket; call Run for that once Build succeeds.
func Build(ctx context.Context, cfg Config, logger *zap.Logger) (*Service, error) {
	pol := policy.Default()
	if cfg.PolicyPath != "" {
		loaded, err := policy.Load(cfg.PolicyPath)
		if err != nil {
			return nil, fmt.Errorf("tollsvc.Build: %w", err)
		}
		pol = loaded
	}
	polStore := policy.NewStore(pol)
	clock := clockservice.System{}

	regStore, err := buildRegistryStore(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("tollsvc.Build: %w", err)
	}
	masterKey, err := decodeMasterKey(cfg.MasterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("tollsvc.Build: %w", err)
	}
	reg := registry.New(regStore, masterKey, logger)

	nonces := nonceledger.New()
	cards := cardledger.New()

	trustEngine := trust.NewEngine(reg, polStore, clock, cards, logger)
	verifier := ingest.NewVerifier(reg, nonces, polStore, clock, trustEngine, logger)

	statsStore := &statsnap.Store{}
	statsRec := statsnap.NewRecorder()

	decisions, err := buildDecisionStore(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("tollsvc.Build: %w", err)
	}
	events := buildEventWriter(cfg.ClickHouseDSN, logger)

	detector := fraud.NewDetector(polStore, nil, nil, nil, statsStore, trustEngine, logger)

	chainStore := vdfchain.NewMemoryStore()
	chain, err := vdfchain.New(ctx, chainStore, polStore, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("tollsvc.Build: %w", err)
	}

	ledgerClient := buildLedgerClient(cfg.LedgerDSN, logger)
	anchorStore := anchor.NewMemoryStore()
	anchorQueue := anchor.NewQueue(anchorStore, ledgerClient, polStore, logger)

	adminSurface, err := admin.New(cfg.AdminKey, reg, trustEngine, nonces, chain, anchorQueue, logger)
	if err != nil {
		return nil, fmt.Errorf("tollsvc.Build: %w", err)
	}

	reporter := telemetry.New(reg, decisions, chain, anchorQueue, statsStore, clock, clock.Now())

	return &Service{
		Policy:    polStore,
		Clock:     clock,
		Registry:  reg,
		Nonces:    nonces,
		Cards:     cards,
		Verifier:  verifier,
		Trust:     trustEngine,
		Stats:     statsStore,
		StatsRec:  statsRec,
		Detector:  detector,
		Decisions: decisions,
		Events:    events,
		Chain:     chain,
		Anchors:   anchorQueue,
		Admin:     adminSurface,
		Telemetry: reporter,
		logger:    logger,
		vdfQueue:  make(chan vdfAppendJob, 4096),
	}, nil
}

func buildRegistryStore(postgresDSN string) (registry.Store, error) {
	if postgresDSN == "" {
		return registry.NewMemoryStore(), nil
	}
	db, err := openPostgres(postgresDSN)
	if err != nil {
		return nil, err
	}
	return registry.NewPostgresStore(db), nil
}

func buildDecisionStore(postgresDSN string) (decisionlog.Store, error) {
	if postgresDSN == "" {
		return decisionlog.NewMemoryStore(), nil
	}
	db, err := openPostgres(postgresDSN)
	if err != nil {
		return nil, err
	}
	return decisionlog.NewPostgresStore(db), nil
}

func buildEventWriter(clickhouseDSN string, logger *zap.Logger) decisionlog.EventWriter {
	if clickhouseDSN == "" {
		return decisionlog.NewLogWriter(logger)
	}
	writer, err := decisionlog.NewClickHouseWriter(clickhouseDSN, logger)
	if err != nil {
		logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
		return decisionlog.NewLogWriter(logger)
	}
	return writer
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Close releases every resource that owns a background goroutine or
// connection but isn't otherwise stopped by ctx cancellation.
func (s *Service) Close() {
	s.Events.Close()
}
