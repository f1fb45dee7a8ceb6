package anchor

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NullLedger discards every submission and returns a synthetic receipt.
// Used when no external ledger endpoint is configured — anchoring still
// exercises the batching/backoff machinery end to end without a real
// downstream dependency.
type NullLedger struct{}

func (NullLedger) Submit(_ context.Context, clientReference string, _ []byte, _, _ int64) (string, error) {
	return "null-receipt-" + clientReference[:min(8, len(clientReference))], nil
}

// HTTPLedger submits anchors to an external ledger service over HTTP,
// following the request/decode/status-check shape of
// AethelredFoundation-aethelred-core's tee_client.go. Network errors, 5xx
// responses and undecodable replies are wrapped as *TransientError so the
// worker retries with backoff; any other non-200 status is returned as a
// plain error, which the worker treats as permanent and marks FAILED.
type HTTPLedger struct {
	endpoint string
	client   *http.Client
}

// NewHTTPLedger wires an HTTPLedger against baseURL.
func NewHTTPLedger(baseURL string) *HTTPLedger {
	return &HTTPLedger{endpoint: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

type submitRequest struct {
	ClientReference string `json:"client_reference"`
	RootHash        string `json:"root_hash"`
	SeqFrom         int64  `json:"seq_from"`
	SeqTo           int64  `json:"seq_to"`
}

type submitResponse struct {
	Receipt string `json:"receipt"`
}

func (l *HTTPLedger) Submit(ctx context.Context, clientReference string, rootHash []byte, seqFrom, seqTo int64) (string, error) {
	body, err := json.Marshal(submitRequest{
		ClientReference: clientReference,
		RootHash:        hex.EncodeToString(rootHash),
		SeqFrom:         seqFrom,
		SeqTo:           seqTo,
	})
	if err != nil {
		return "", fmt.Errorf("anchor.HTTPLedger.Submit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint+"/anchors", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("anchor.HTTPLedger.Submit: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", &TransientError{Err: fmt.Errorf("ledger returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anchor.HTTPLedger.Submit: ledger rejected submission with status %d", resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &TransientError{Err: err}
	}
	return out.Receipt, nil
}
