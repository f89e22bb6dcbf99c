package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Entry is one deposit-code fact mirrored to the external ledger.
type Entry struct {
	Code        string `json:"code"`
	UserID      string `json:"user_id,omitempty"`
	PaymentID   string `json:"payment_id,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Mirror is the optional external ledger. All record methods are best-effort:
// implementations return false on failure and callers log and continue, the
// local record stays authoritative. Exists is the only read used by
// validation, and only its positive "missing" answer is acted on.
type Mirror interface {
	RecordCreation(ctx context.Context, entry Entry) bool
	RecordUsage(ctx context.Context, entry Entry) bool
	RecordRejection(ctx context.Context, entry Entry) bool
	Exists(ctx context.Context, code string) (bool, error)
}

// HTTPMirror talks to the ledger service over REST with a short timeout so a
// slow ledger never stalls code generation or validation.
type HTTPMirror struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPMirror(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPMirror {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPMirror{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (m *HTTPMirror) RecordCreation(ctx context.Context, entry Entry) bool {
	return m.post(ctx, "/v1/deposit-codes", entry)
}

func (m *HTTPMirror) RecordUsage(ctx context.Context, entry Entry) bool {
	return m.post(ctx, fmt.Sprintf("/v1/deposit-codes/%s/usage", entry.Code), entry)
}

func (m *HTTPMirror) RecordRejection(ctx context.Context, entry Entry) bool {
	return m.post(ctx, fmt.Sprintf("/v1/deposit-codes/%s/rejection", entry.Code), entry)
}

func (m *HTTPMirror) Exists(ctx context.Context, code string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/v1/deposit-codes/"+code, nil)
	if err != nil {
		return false, err
	}
	m.authorize(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}
}

func (m *HTTPMirror) post(ctx context.Context, path string, entry Entry) bool {
	body, err := json.Marshal(entry)
	if err != nil {
		m.logger.Error("ledger mirror: failed to marshal entry", "error", err, "code", entry.Code)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		m.logger.Error("ledger mirror: failed to create request", "error", err, "code", entry.Code)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	m.authorize(req)

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("ledger mirror: request failed", "error", err, "path", path, "code", entry.Code)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		m.logger.Warn("ledger mirror: unexpected status", "status", resp.StatusCode, "path", path, "code", entry.Code)
		return false
	}
	return true
}

func (m *HTTPMirror) authorize(req *http.Request) {
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
}
