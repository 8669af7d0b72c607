package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	SignatureHeader = "X-Clinic-Signature"
	EventIDHeader   = "X-Clinic-Event-ID"
	EventTypeHeader = "X-Clinic-Event-Type"
	TimestampHeader = "X-Clinic-Timestamp"
)

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a SignatureHeader value, with or without the
// "sha256=" prefix.
func VerifySignature(payload []byte, secret, signature string) bool {
	if len(signature) > 7 && signature[:7] == "sha256=" {
		signature = signature[7:]
	}
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// WebhookOption configures a WebhookPublisher.
type WebhookOption func(*WebhookPublisher)

func WithHTTPClient(c *http.Client) WebhookOption {
	return func(p *WebhookPublisher) { p.client = c }
}

// WithRetryDelays sets the waits between attempts; len(delays)+1 attempts
// are made in total.
func WithRetryDelays(delays ...time.Duration) WebhookOption {
	return func(p *WebhookPublisher) { p.delays = delays }
}

func WithWebhookLogger(l zerolog.Logger) WebhookOption {
	return func(p *WebhookPublisher) { p.logger = l }
}

// WebhookPublisher POSTs each event as signed JSON to one endpoint, for chat
// transports that take pushes over HTTP instead of consuming the broker.
type WebhookPublisher struct {
	url    string
	secret string
	client *http.Client
	delays []time.Duration
	logger zerolog.Logger
}

func NewWebhookPublisher(rawURL, secret string, opts ...WebhookOption) (*WebhookPublisher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("webhook url must include a host")
	}
	p := &WebhookPublisher{
		url:    rawURL,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		delays: []time.Duration{time.Second, 5 * time.Second},
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// errPermanent marks responses that retrying cannot fix.
type errPermanent struct{ status int }

func (e errPermanent) Error() string { return fmt.Sprintf("webhook rejected event: status %d", e.status) }

func (p *WebhookPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	sig := SignPayload(body, p.secret)

	var lastErr error
	for attempt := 0; attempt <= len(p.delays); attempt++ {
		if attempt > 0 {
			t := time.NewTimer(p.delays[attempt-1])
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("deliver %s: %w (last error: %v)", ev.Type, ctx.Err(), lastErr)
			case <-t.C:
			}
		}
		lastErr = p.deliver(ctx, ev, body, sig)
		if lastErr == nil {
			return nil
		}
		var perm errPermanent
		if errors.As(lastErr, &perm) {
			break
		}
		p.logger.Warn().Err(lastErr).Str("event_id", ev.ID).Int("attempt", attempt+1).Msg("webhook delivery failed")
	}
	return fmt.Errorf("deliver %s: %w", ev.Type, lastErr)
}

func (p *WebhookPublisher) deliver(ctx context.Context, ev Event, body []byte, sig string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+sig)
	req.Header.Set(EventIDHeader, ev.ID)
	req.Header.Set(EventTypeHeader, string(ev.Type))
	req.Header.Set(TimestampHeader, time.Now().UTC().Format(time.RFC3339))

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return errPermanent{status: resp.StatusCode}
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

func (p *WebhookPublisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
