package tollsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aegisway/tollguard/internal/anchor"
	"github.com/aegisway/tollguard/internal/clockservice"
	"github.com/aegisway/tollguard/internal/ingest"
	"github.com/aegisway/tollguard/internal/registry"
	"go.uber.org/zap"
)

// NewHandler builds the net/http surface for spec.md §6's endpoints: the
// ingest endpoint, /time, the admin surface (X-API-Key gated), and the
// read-only telemetry endpoints.
func (s *Service) NewHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /time", s.handleTime)

	mux.HandleFunc("POST /reader/register", s.withAdmin(s.handleReaderRegister))
	mux.HandleFunc("POST /reader/rotate", s.withAdmin(s.handleReaderRotate))
	mux.HandleFunc("POST /reader/trust/reset", s.withAdmin(s.handleTrustReset))
	mux.HandleFunc("POST /reader/force_quarantine", s.withAdmin(s.handleForceQuarantine))
	mux.HandleFunc("POST /peer_vote", s.withAdmin(s.handlePeerVote))
	mux.HandleFunc("GET /vdf/verify", s.withAdmin(s.handleVDFVerify))
	mux.HandleFunc("GET /anchor/pending", s.withAdmin(s.handleAnchorPending))
	mux.HandleFunc("POST /anchor/retry", s.withAdmin(s.handleAnchorRetry))
	mux.HandleFunc("POST /admin/nonces/clear", s.withAdmin(s.handleClearNonces))
	mux.HandleFunc("POST /admin/vdf/reseed", s.withAdmin(s.handleReseedGenesis))

	mux.HandleFunc("GET /readers", s.handleReaders)
	mux.HandleFunc("GET /decisions", s.handleDecisions)
	mux.HandleFunc("GET /blockchain/audit", s.handleBlockchainAudit)
	mux.HandleFunc("GET /stats/summary", s.handleStatsSummary)
	mux.HandleFunc("GET /system/status", s.handleSystemStatus)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}

func (s *Service) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if err := s.Admin.Authenticate(key); err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
			return
		}
		next(w, r)
	}
}

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	var ev ingest.TollEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED", "invalid request body")
		return
	}

	ctx := r.Context()
	if d := s.Policy.Get().IngestDeadline; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	result, err := s.ProcessEvent(ctx, ev)
	if err != nil {
		s.logger.Error("ingest processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "processing failed")
		return
	}
	if !result.Accepted {
		writeError(w, ingestRejectStatus(result.RejectCode), string(result.RejectCode), rejectDetail(result.RejectCode))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"decision":     result.Decision,
		"reason_codes": result.ReasonCodes,
		"trust_score":  int(result.TrustScore),
		"event_id":     result.EventID,
		"vdf_seq":      result.VDFSeq,
	})
}

func (s *Service) handleTime(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "%d", clockservice.EpochSeconds(s.Clock))
}

func (s *Service) handleReaderRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReaderID string `json:"reader_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED", "invalid request body")
		return
	}
	reader, err := s.Registry.Register(r.Context(), req.ReaderID)
	if err != nil {
		writeError(w, http.StatusConflict, "REGISTER_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reader_id": reader.ReaderID, "key_version": reader.KeyVersion})
}

func (s *Service) handleReaderRotate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReaderID string `json:"reader_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED", "invalid request body")
		return
	}
	v, err := s.Admin.RotateReaderSecret(r.Context(), req.ReaderID)
	if err != nil {
		writeError(w, http.StatusNotFound, "ROTATE_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"new_key_version": v})
}

func (s *Service) handleTrustReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReaderID string  `json:"reader_id"`
		Score    float64 `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED", "invalid request body")
		return
	}
	if err := s.Admin.ResetTrust(r.Context(), req.ReaderID, req.Score); err != nil {
		writeError(w, http.StatusNotFound, "RESET_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleForceQuarantine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReaderID string `json:"reader_id"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED", "invalid request body")
		return
	}
	if err := s.Admin.ForceQuarantine(r.Context(), req.ReaderID, req.Reason); err != nil {
		writeError(w, http.StatusNotFound, "QUARANTINE_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handlePeerVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QuarantineID  string `json:"quarantine_id"`
		VoterReaderID string `json:"voter_reader_id"`
		Decision      string `json:"decision"`
		Reason        string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED", "invalid request body")
		return
	}
	if err := s.Trust.CastPeerVote(r.Context(), req.QuarantineID, req.VoterReaderID, req.Decision, req.Reason); err != nil {
		writeError(w, http.StatusBadRequest, "VOTE_FAILED", err.Error())
		return
	}
	readerID := s.Trust.ReaderIDForQuarantine(req.QuarantineID)
	if readerID == "" {
		writeError(w, http.StatusNotFound, "QUARANTINE_NOT_FOUND", "no active quarantine with that id")
		return
	}
	result, err := s.Trust.AttemptRestoration(r.Context(), readerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleVDFVerify(w http.ResponseWriter, r *http.Request) {
	result, err := s.Telemetry.BlockchainAudit(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleAnchorPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.Admin.ListPendingAnchors(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Service) handleAnchorRetry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED", "invalid request body")
		return
	}
	if err := s.Admin.RetryAnchor(r.Context(), req.ID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, anchor.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, "RETRY_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleClearNonces(w http.ResponseWriter, r *http.Request) {
	beforeStr := r.URL.Query().Get("before")
	before := s.Clock.Now()
	if beforeStr != "" {
		secs, err := strconv.ParseInt(beforeStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "MALFORMED", "before must be epoch seconds")
			return
		}
		before = time.Unix(secs, 0)
	}
	n := s.Admin.ClearNonces(r.Context(), before)
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Service) handleReseedGenesis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seed string `json:"seed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED", "invalid request body")
		return
	}
	if err := s.Admin.ReseedVDFGenesis(r.Context(), req.Seed); err != nil {
		writeError(w, http.StatusConflict, "RESEED_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleReaders(w http.ResponseWriter, r *http.Request) {
	readers, err := s.Telemetry.Readers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, redactSecrets(readers))
}

func redactSecrets(readers []*registry.Reader) []map[string]any {
	out := make([]map[string]any, len(readers))
	for i, r := range readers {
		out[i] = map[string]any{
			"reader_id":   r.ReaderID,
			"key_version": r.KeyVersion,
			"trust_score": r.TrustScore,
			"status":      r.Status,
			"created_at":  r.CreatedAt,
		}
	}
	return out
}

func (s *Service) handleDecisions(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if v := r.URL.Query().Get("since"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "MALFORMED", "since must be epoch seconds")
			return
		}
		since = time.Unix(secs, 0)
	}
	records, err := s.Telemetry.Decisions(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Service) handleBlockchainAudit(w http.ResponseWriter, r *http.Request) {
	result, err := s.Telemetry.BlockchainAudit(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Telemetry.StatsSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Service) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.Telemetry.SystemStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}
