// Package push delivers Web Push messages to browser subscriptions.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/nhle/task-reminders/internal/model"
)

// ErrSubscriptionGone means the push service no longer knows the endpoint
// (HTTP 404 or 410). Retrying the same subscription will keep failing.
var ErrSubscriptionGone = errors.New("push subscription expired or unsubscribed")

// DeliveryError describes a failed push send.
type DeliveryError struct {
	Endpoint   string
	StatusCode int

	// Permanent is true when retrying the same message cannot succeed.
	Permanent bool

	Err error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("push to %s failed (%s, status %d): %v", e.Endpoint, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("push to %s failed (%s): %v", e.Endpoint, kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsGone reports whether err (or any error in its chain) signals an
// expired subscription.
func IsGone(err error) bool {
	return errors.Is(err, ErrSubscriptionGone)
}

// IsPermanent reports whether err is a delivery failure that will not
// recover on retry.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}

// Payload is the JSON document the service worker receives.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Icon  string            `json:"icon,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// DueNowPayload builds the notification sent when a task reaches its due time.
func DueNowPayload(task model.Task, icon, url string) Payload {
	p := Payload{
		Title: "Task Due Reminder",
		Body:  fmt.Sprintf("Your task \"%s\" is due now.", task.Title),
		Icon:  icon,
	}
	if url != "" {
		p.Data = map[string]string{"url": url, "taskId": task.ID}
	}
	return p
}

// Config holds the VAPID identity and message options.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string

	// Subject is a mailto: address or https: URL identifying the sender.
	Subject string

	TTL time.Duration
}

// Sender sends Web Push messages with VAPID authentication.
type Sender struct {
	cfg    Config
	client *http.Client
}

// NewSender creates a Sender. A nil client uses a default http.Client;
// per-send deadlines come from the context.
func NewSender(cfg Config, client *http.Client) (*Sender, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, errors.New("push: VAPID keypair is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Sender{cfg: cfg, client: client}, nil
}

// Send encrypts payload for sub and posts it to the push service.
// It returns nil on 2xx and a *DeliveryError otherwise.
func (s *Sender) Send(ctx context.Context, sub model.Subscription, payload Payload) error {
	if err := sub.Validate(); err != nil {
		return &DeliveryError{Endpoint: sub.Endpoint, Permanent: true, Err: err}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{Endpoint: sub.Endpoint, Permanent: true, Err: fmt.Errorf("encoding payload: %w", err)}
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      strings.TrimPrefix(s.cfg.Subject, "mailto:"),
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             int(s.cfg.TTL.Seconds()),
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return &DeliveryError{Endpoint: sub.Endpoint, Err: err}
	}
	defer resp.Body.Close()

	return classifyResponse(sub.Endpoint, resp)
}

// classifyResponse maps a push service response onto a send outcome.
func classifyResponse(endpoint string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(detail)))

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return &DeliveryError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Permanent:  true,
			Err:        fmt.Errorf("%w: %v", ErrSubscriptionGone, cause),
		}
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return &DeliveryError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: cause}
	default:
		return &DeliveryError{Endpoint: endpoint, StatusCode: resp.StatusCode, Permanent: true, Err: cause}
	}
}

// GenerateVAPIDKeys returns a new base64url-encoded VAPID keypair.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generating VAPID keys: %w", err)
	}
	return publicKey, privateKey, nil
}
