package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	errors "github.com/mistic96/payment-broker/internal"
)

// Verifier checks HMAC-SHA256 signatures against per-provider shared
// secrets. Providers without a configured secret are accepted with a warning
// so test-mode rails keep working; configured providers must match.
type Verifier struct {
	secrets map[string]string
	logger  *slog.Logger
}

func NewVerifier(secrets map[string]string, logger *slog.Logger) *Verifier {
	normalized := make(map[string]string, len(secrets))
	for provider, secret := range secrets {
		normalized[strings.ToLower(provider)] = secret
	}
	return &Verifier{secrets: normalized, logger: logger}
}

// Verify checks the hex HMAC-SHA256 of body under the provider's secret.
func (v *Verifier) Verify(provider string, body []byte, signature string) error {
	secret, ok := v.secrets[strings.ToLower(provider)]
	if !ok || secret == "" {
		v.logger.Warn("no webhook secret configured, accepting unverified delivery", "provider", provider)
		return nil
	}
	if signature == "" {
		return errors.ErrWebhookBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return errors.ErrWebhookBadSignature
	}
	return nil
}

// Sign computes the signature a provider would attach. Used by the sandbox
// and by tests.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
