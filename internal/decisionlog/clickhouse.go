package decisionlog

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseWriter fans DecisionRecords out to ClickHouse asynchronously
// for analytics, adapted from the teacher's tool-check-event writer: Write
// never blocks, insertion happens in a background goroutine on a ticker.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *Record
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

// NewClickHouseWriter opens a ClickHouse connection and starts the
// background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *Record, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
	go w.flushLoop()
	return w, nil
}

// Write queues r for async insertion. Non-blocking: drops r if the buffer
// is full, per spec.md §4.5's backpressure rule that analytics fan-out
// must never block or lose ingest throughput.
func (w *ClickHouseWriter) Write(r *Record) {
	select {
	case w.buffer <- r:
	default:
		w.logger.Warn("decisionlog clickhouse buffer full, dropping record",
			zap.String("event_id", r.EventID),
		)
	}
}

// Close signals the flush loop to drain remaining records.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, flushBatch)

	for {
		select {
		case r := <-w.buffer:
			batch = append(batch, r)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case r := <-w.buffer:
					batch = append(batch, r)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(records []*Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO decision_records (
			event_id, reader_id, tag_hash, ts, amount_cents,
			ml_a, ml_b, iso_flag, rule_flags,
			trust_snapshot, decision, reason_codes
		)
	`)
	if err != nil {
		w.logger.Error("decisionlog clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, r := range records {
		ruleFlags := make([]string, len(r.RuleFlags))
		copy(ruleFlags, r.RuleFlags)

		if err := batch.Append(
			r.EventID, r.ReaderID, r.TagHash, r.Timestamp, r.AmountCents,
			r.MLA, r.MLB, r.IsoFlag, ruleFlags,
			r.TrustSnapshot, r.Decision, r.ReasonCodes,
		); err != nil {
			w.logger.Error("decisionlog clickhouse append record failed",
				zap.String("event_id", r.EventID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("decisionlog clickhouse batch send failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback EventWriter for local development, mirroring the
// teacher's storage.LogWriter.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that logs each record at info level.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(r *Record) {
	w.logger.Info("decision_record",
		zap.String("event_id", r.EventID),
		zap.String("reader_id", r.ReaderID),
		zap.String("decision", r.Decision),
		zap.Strings("reason_codes", r.ReasonCodes),
		zap.Int64("amount_cents", r.AmountCents),
	)
}

func (w *LogWriter) Close() {}
