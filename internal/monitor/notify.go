package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
	"github.com/vantagesec/verdict/internal/logging"
	"github.com/vantagesec/verdict/internal/metrics"
)

// Direction of the threshold crossing that fired the alert.
const (
	DirectionCrossedUp = "crossed_up"
	DirectionRecovered = "recovered"
)

// Alert describes one edge-triggered threshold crossing.
type Alert struct {
	JobID         string              `json:"job_id"`
	Indicator     indicator.Indicator `json:"indicator"`
	PreviousScore float64             `json:"previous_score"`
	NewScore      float64             `json:"new_score"`
	Threshold     float64             `json:"threshold"`
	Direction     string              `json:"direction"`
	RiskLevel     intel.RiskLevel     `json:"risk_level"`
	FiredAt       time.Time           `json:"fired_at"`
}

// Notifier is one delivery channel. Delivery failure is the channel's own
// problem: the scheduler logs it and moves on.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// LogChannel writes alerts to the engine log.
type LogChannel struct {
	log *logging.Logger
}

func NewLogChannel(log *logging.Logger) *LogChannel {
	return &LogChannel{log: log}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Notify(_ context.Context, a Alert) error {
	c.log.Warn("monitor alert",
		"job", a.JobID,
		"indicator", a.Indicator.Value,
		"direction", a.Direction,
		"previous", a.PreviousScore,
		"new", a.NewScore,
		"threshold", a.Threshold,
	)
	return nil
}

// WebhookChannel POSTs the alert as JSON with retry. Retries stay inside a
// short elapsed budget so a dead webhook cannot stall the tick that follows.
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

func NewWebhookChannel(name, url string, client *http.Client) *WebhookChannel {
	return &WebhookChannel{name: name, url: url, client: client}
}

func (c *WebhookChannel) Name() string { return c.name }

func (c *WebhookChannel) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("bad status: %d", resp.StatusCode)
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	err = backoff.Retry(op, backoff.WithContext(bo, ctx))
	if err != nil {
		metrics.AlertsTotal.WithLabelValues(c.name, "error").Inc()
		return err
	}
	metrics.AlertsTotal.WithLabelValues(c.name, "ok").Inc()
	return nil
}
