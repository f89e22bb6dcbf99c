package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
)

// RESTIntegration is a generic JSON-over-HTTP GatewayIntegration. Concrete
// provider clients own their wire formats; this adapter covers providers that
// are fronted by an internal proxy speaking the normalized shape below.
type RESTIntegration struct {
	providerType Type
	baseURL      string
	apiKey       string
	client       *http.Client
	logger       *slog.Logger
}

type RESTConfig struct {
	ProviderType Type
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
}

func NewRESTIntegration(cfg RESTConfig, logger *slog.Logger) *RESTIntegration {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTIntegration{
		providerType: cfg.ProviderType,
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

type executePayload struct {
	PaymentID     string `json:"payment_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type executeResponse struct {
	Data struct {
		ExternalTxID string `json:"external_tx_id"`
		Status       string `json:"status"`
	} `json:"data"`
}

func (i *RESTIntegration) Execute(ctx context.Context, p *paymentmodel.Payment) (*Result, error) {
	payload := executePayload{
		PaymentID:     p.ID,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		Type:          string(p.Type),
		CorrelationID: p.CorrelationID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal execute payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/v1/payments", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("create execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	i.authorize(req)

	i.logger.Info("executing payment against provider",
		"provider", i.providerType,
		"payment_id", p.ID,
		"amount_cents", p.AmountCents,
		"currency", p.Currency)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s request failed: %w", i.providerType, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("provider %s returned status %d: %s", i.providerType, resp.StatusCode, string(respBody))
	}

	var parsed executeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}

	return &Result{
		Status:       mapProviderStatus(parsed.Data.Status),
		ExternalTxID: parsed.Data.ExternalTxID,
		RawResponse:  respBody,
	}, nil
}

func (i *RESTIntegration) VerifyMethod(ctx context.Context, methodID string) (*Verification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.baseURL+"/v1/payment-methods/"+methodID, nil)
	if err != nil {
		return nil, fmt.Errorf("create verify request: %w", err)
	}
	i.authorize(req)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s verify failed: %w", i.providerType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Verification{IsValid: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider %s verify returned status %d", i.providerType, resp.StatusCode)
	}

	var parsed struct {
		Data struct {
			IsValid  bool              `json:"is_valid"`
			Metadata map[string]string `json:"metadata"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}

	return &Verification{IsValid: parsed.Data.IsValid, Metadata: parsed.Data.Metadata}, nil
}

func (i *RESTIntegration) authorize(req *http.Request) {
	if i.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+i.apiKey)
	}
}

// mapProviderStatus folds the proxy's status vocabulary into payment statuses.
// Unknown statuses stay Processing until a webhook settles them.
func mapProviderStatus(status string) paymentmodel.Status {
	switch status {
	case "succeeded", "success", "completed":
		return paymentmodel.StatusCompleted
	case "failed", "declined", "error":
		return paymentmodel.StatusFailed
	case "pending":
		return paymentmodel.StatusPending
	default:
		return paymentmodel.StatusProcessing
	}
}
