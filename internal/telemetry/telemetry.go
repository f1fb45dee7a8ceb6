// Package telemetry builds the read-only snapshot payloads behind
// spec.md §6's telemetry endpoints (/readers, /decisions,
// /blockchain/audit, /stats/summary, /system/status). It owns no state:
// every call reads straight through to the component that owns the data.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/aegisway/tollguard/internal/anchor"
	"github.com/aegisway/tollguard/internal/clockservice"
	"github.com/aegisway/tollguard/internal/decisionlog"
	"github.com/aegisway/tollguard/internal/registry"
	"github.com/aegisway/tollguard/internal/statsnap"
	"github.com/aegisway/tollguard/internal/vdfchain"
	"github.com/dustin/go-humanize"
)

// Reporter wires the telemetry endpoints over the components that own the
// underlying data; it has no state of its own.
type Reporter struct {
	registry  *registry.Registry
	decisions decisionlog.Store
	chain     *vdfchain.Chain
	anchors   *anchor.Queue
	stats     *statsnap.Store
	clock     clockservice.Clock
	startedAt time.Time
}

// New wires a Reporter. startedAt records process boot time for the
// system-status uptime field.
func New(reg *registry.Registry, decisions decisionlog.Store, chain *vdfchain.Chain, anchors *anchor.Queue, stats *statsnap.Store, clock clockservice.Clock, startedAt time.Time) *Reporter {
	return &Reporter{
		registry:  reg,
		decisions: decisions,
		chain:     chain,
		anchors:   anchors,
		stats:     stats,
		clock:     clock,
		startedAt: startedAt,
	}
}

// Readers implements the /readers endpoint: the full reader registry.
func (r *Reporter) Readers(ctx context.Context) ([]*registry.Reader, error) {
	readers, err := r.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("telemetry.Readers: %w", err)
	}
	return readers, nil
}

// Decisions implements the /decisions endpoint: decision records since a
// caller-supplied cutoff.
func (r *Reporter) Decisions(ctx context.Context, since time.Time) ([]*decisionlog.Record, error) {
	records, err := r.decisions.ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("telemetry.Decisions: %w", err)
	}
	return records, nil
}

// BlockchainAudit implements /blockchain/audit: a VerifyResult covering the
// whole chain, cross-checked against the decision log.
func (r *Reporter) BlockchainAudit(ctx context.Context) (vdfchain.VerifyResult, error) {
	result, err := r.chain.VerifyChain(ctx, r.decisions)
	if err != nil {
		return vdfchain.VerifyResult{}, fmt.Errorf("telemetry.BlockchainAudit: %w", err)
	}
	return result, nil
}

// StatsSummary is the /stats/summary payload: a count of readers by status
// plus the current cross-reader transaction snapshot.
type StatsSummary struct {
	ReadersByStatus map[registry.Status]int `json:"readers_by_status"`
	CrossReaderMean float64                 `json:"cross_reader_mean"`
	SnapshotAge     string                  `json:"snapshot_age"`
	ChainLength     int64                   `json:"chain_length"`
	AnchorBacklog   int                     `json:"anchor_backlog"`
}

// StatsSummary implements the /stats/summary endpoint.
func (r *Reporter) StatsSummary(ctx context.Context) (StatsSummary, error) {
	readers, err := r.registry.List(ctx)
	if err != nil {
		return StatsSummary{}, fmt.Errorf("telemetry.StatsSummary: %w", err)
	}
	byStatus := make(map[registry.Status]int)
	for _, rd := range readers {
		byStatus[rd.Status]++
	}

	snap := r.stats.Load()
	chainLen, err := r.chain.Len(ctx)
	if err != nil {
		return StatsSummary{}, fmt.Errorf("telemetry.StatsSummary: %w", err)
	}
	pending, err := r.anchors.ListPending(ctx)
	if err != nil {
		return StatsSummary{}, fmt.Errorf("telemetry.StatsSummary: %w", err)
	}

	return StatsSummary{
		ReadersByStatus: byStatus,
		CrossReaderMean: snap.Mean,
		SnapshotAge:     humanize.Time(snap.ComputedAt),
		ChainLength:     chainLen,
		AnchorBacklog:   len(pending),
	}, nil
}

// SystemStatus is the /system/status payload: process uptime, chain
// length, the anchor overflow warning count, and active/quarantined reader
// counts. It carries no per-component health check.
type SystemStatus struct {
	Uptime              string `json:"uptime"`
	ChainLength         int64  `json:"chain_length"`
	AnchorOverflowTotal int64  `json:"anchor_overflow_warnings_total"`
	ActiveReaders       int    `json:"active_readers"`
	QuarantinedReaders  int    `json:"quarantined_readers"`
}

// SystemStatus implements the /system/status endpoint.
func (r *Reporter) SystemStatus(ctx context.Context) (SystemStatus, error) {
	readers, err := r.registry.List(ctx)
	if err != nil {
		return SystemStatus{}, fmt.Errorf("telemetry.SystemStatus: %w", err)
	}
	active, quarantined := 0, 0
	for _, rd := range readers {
		switch rd.Status {
		case registry.StatusActive:
			active++
		case registry.StatusQuarantined:
			quarantined++
		}
	}
	chainLen, err := r.chain.Len(ctx)
	if err != nil {
		return SystemStatus{}, fmt.Errorf("telemetry.SystemStatus: %w", err)
	}

	return SystemStatus{
		Uptime:              humanize.RelTime(r.startedAt, r.clock.Now(), "ago", "from now"),
		ChainLength:         chainLen,
		AnchorOverflowTotal: r.anchors.OverflowWarnings(),
		ActiveReaders:       active,
		QuarantinedReaders:  quarantined,
	}, nil
}
