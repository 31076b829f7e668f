package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Doer sends an outbound request. resilience.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// WebhookNotifier posts every event to a single subscriber URL, signed with
// HMAC-SHA256 over "<ts>.<eventId>.<body>".
type WebhookNotifier struct {
	URL    string
	Secret string
	Client Doer
	Topics map[string]bool
}

// WebhookTransport returns an instrumented http.Client for webhook delivery.
func WebhookTransport(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Notify implements Notifier. Non-2xx responses are reported as errors.
func (n WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n.Client == nil {
		return errors.New("events: webhook client not configured")
	}
	if len(n.Topics) > 0 && !n.Topics[event.Topic] {
		return nil
	}
	if err := validateURL(n.URL); err != nil {
		return err
	}
	ctx, span := otel.Tracer("events.WebhookNotifier").Start(ctx, "WebhookNotifier.Notify")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.topic", event.Topic),
	)

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cartino-events/1.0")
	req.Header.Set("X-Event-ID", event.ID)
	req.Header.Set("X-Event-Topic", event.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", ComputeSignature(n.Secret, ts, event.ID, body))

	resp, err := n.Client.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("events: webhook delivery: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("events: webhook responded %s", resp.Status)
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("events: invalid webhook url: %w", err)
	}
	if parsed.Host == "" {
		return errors.New("events: webhook url must include host")
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("events: http webhook only allowed for localhost")
		}
	default:
		return errors.New("events: webhook url must be http or https")
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
