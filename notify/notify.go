// Package notify delivers operator alerts about structural drift and
// terminally failed listings. Delivery is fire-and-forget: failures are
// logged and never reach the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"imovel-scraper/models"
	"imovel-scraper/utils"
)

const webhookTimeout = 5 * time.Second

// Alert kinds.
const (
	KindStructureChange = "structure_change"
	KindListingFailed   = "listing_failed"
)

// Alert is one operator notification.
type Alert struct {
	Kind       string          `json:"kind"`
	Subject    string          `json:"subject"`
	Severity   models.Severity `json:"severity,omitempty"`
	Changes    models.Changes  `json:"changes,omitempty"`
	Error      string          `json:"error,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Notifier accepts operator alerts.
type Notifier interface {
	StructureChanged(ctx context.Context, subject string, severity models.Severity, changes models.Changes)
	ListingFailed(ctx context.Context, code, reason string)
}

// LogNotifier writes alerts to the log.
type LogNotifier struct {
	logger *utils.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *utils.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// StructureChanged logs a drift alert.
func (n *LogNotifier) StructureChanged(_ context.Context, subject string, severity models.Severity, changes models.Changes) {
	n.logger.Warn("[notify] structure change on %s: severity=%s changes=%d", subject, severity, len(changes))
}

// ListingFailed logs a terminal listing failure.
func (n *LogNotifier) ListingFailed(_ context.Context, code, reason string) {
	n.logger.Error("[notify] listing %s failed: %s", code, reason)
}

// WebhookNotifier posts alerts as JSON to a URL, and also logs them.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	log        *LogNotifier
	logger     *utils.Logger
}

// NewWebhookNotifier creates a WebhookNotifier posting to url.
func NewWebhookNotifier(url string, logger *utils.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: webhookTimeout},
		log:        NewLogNotifier(logger),
		logger:     logger,
	}
}

// New returns a WebhookNotifier when url is set, a LogNotifier otherwise.
func New(url string, logger *utils.Logger) Notifier {
	if url == "" {
		return NewLogNotifier(logger)
	}
	return NewWebhookNotifier(url, logger)
}

// StructureChanged posts a drift alert.
func (n *WebhookNotifier) StructureChanged(ctx context.Context, subject string, severity models.Severity, changes models.Changes) {
	n.log.StructureChanged(ctx, subject, severity, changes)
	n.send(ctx, Alert{
		Kind:       KindStructureChange,
		Subject:    subject,
		Severity:   severity,
		Changes:    changes,
		OccurredAt: time.Now().UTC(),
	})
}

// ListingFailed posts a terminal failure alert.
func (n *WebhookNotifier) ListingFailed(ctx context.Context, code, reason string) {
	n.log.ListingFailed(ctx, code, reason)
	n.send(ctx, Alert{
		Kind:       KindListingFailed,
		Subject:    code,
		Error:      reason,
		OccurredAt: time.Now().UTC(),
	})
}

func (n *WebhookNotifier) send(ctx context.Context, a Alert) {
	if err := n.post(ctx, a); err != nil {
		n.logger.Warn("[notify] webhook delivery failed: %v", err)
	}
}

func (n *WebhookNotifier) post(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("notify: marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}
