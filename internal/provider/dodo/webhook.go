package dodo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/entitled/internal/clock"
	"github.com/smallbiznis/entitled/internal/config"
	"github.com/smallbiznis/entitled/internal/entitlement/domain"
)

const (
	headerWebhookID        = "webhook-id"
	headerWebhookTimestamp = "webhook-timestamp"
	headerWebhookSignature = "webhook-signature"

	secretPrefix = "whsec_"
)

// Verifier checks Standard Webhooks signatures on raw delivery bodies. The
// signed content is "<id>.<timestamp>.<body>" under HMAC-SHA256; the secret
// is base64 key material, optionally carrying the whsec_ prefix.
type Verifier struct {
	secret []byte
	window time.Duration
	clock  clock.Clock
}

func NewVerifier(cfg config.Config, clk clock.Clock) *Verifier {
	return &Verifier{
		secret: decodeSecret(cfg.Dodo.WebhookSecret),
		window: cfg.Dodo.ReplayWindow,
		clock:  clk,
	}
}

// Verify authenticates one delivery and returns its webhook id. It fails
// closed: no configured secret rejects every delivery.
func (v *Verifier) Verify(headers http.Header, payload []byte) (string, error) {
	if len(v.secret) == 0 {
		return "", domain.ErrMissingSecret
	}

	id := strings.TrimSpace(headers.Get(headerWebhookID))
	timestamp := strings.TrimSpace(headers.Get(headerWebhookTimestamp))
	sigHeader := strings.TrimSpace(headers.Get(headerWebhookSignature))
	if id == "" || timestamp == "" || sigHeader == "" {
		return "", domain.ErrInvalidSignature
	}

	if err := v.checkTimestamp(timestamp); err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, entry := range strings.Fields(sigHeader) {
		version, encoded, found := strings.Cut(entry, ",")
		if !found || version != "v1" {
			continue
		}
		candidate, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return id, nil
		}
	}

	return "", domain.ErrInvalidSignature
}

func (v *Verifier) checkTimestamp(raw string) error {
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	if v.window <= 0 {
		return nil
	}

	now := v.clock.Now()
	sent := time.Unix(unix, 0)
	if sent.Before(now.Add(-v.window)) || sent.After(now.Add(v.window)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func decodeSecret(raw string) []byte {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), secretPrefix))
	if trimmed == "" {
		return nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return decoded
	}
	return []byte(trimmed)
}
