package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-warehouse/internal/audit"
	"github.com/sells-group/campaign-warehouse/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRejectRate     AlertType = "reject_rate"
	AlertStructuralRate AlertType = "structural_rate"
	AlertNoValidRows    AlertType = "no_valid_rows"
	AlertRunFailure     AlertType = "run_failure"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Source    string         `json:"source,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates run reports and metric snapshots against configured
// thresholds and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// EvaluateRun checks one finished run's data quality. Rate alerts need at
// least min_rows input rows so that a tiny batch cannot trip them.
func (a *Alerter) EvaluateRun(rep *audit.Report) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	s := rep.Summary

	if s.TotalRows >= a.cfg.MinRows {
		if rate := s.RejectRate(); rate > a.cfg.RejectRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertRejectRate,
				Severity: "high",
				Source:   s.Source,
				Message: fmt.Sprintf(
					"%s reject rate %.1f%% exceeds threshold %.1f%% (%d rejected / %d rows)",
					s.Source, rate*100, a.cfg.RejectRateThreshold*100, s.Rejected, s.TotalRows,
				),
				Details: map[string]any{
					"reject_rate":          rate,
					"threshold":            a.cfg.RejectRateThreshold,
					"rejected":             s.Rejected,
					"total_rows":           s.TotalRows,
					"rejections_by_reason": s.RejectionsByReason,
				},
				Timestamp: now,
			})
		}

		if rate := s.StructuralRate(); rate > a.cfg.StructuralRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertStructuralRate,
				Severity: "medium",
				Source:   s.Source,
				Message: fmt.Sprintf(
					"%s structural mismatch rate %.1f%% exceeds threshold %.1f%% (%d malformed lines)",
					s.Source, rate*100, a.cfg.StructuralRateThreshold*100, s.StructuralMismatch,
				),
				Details: map[string]any{
					"structural_rate": rate,
					"threshold":       a.cfg.StructuralRateThreshold,
					"structural":      s.StructuralMismatch,
					"total_rows":      s.TotalRows,
				},
				Timestamp: now,
			})
		}
	}

	if s.TotalRows > 0 && s.Valid == 0 {
		alerts = append(alerts, Alert{
			Type:     AlertNoValidRows,
			Severity: "high",
			Source:   s.Source,
			Message:  fmt.Sprintf("%s produced no valid rows out of %d", s.Source, s.TotalRows),
			Details: map[string]any{
				"total_rows": s.TotalRows,
				"rejected":   s.Rejected,
				"structural": s.StructuralMismatch,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// EvaluateSnapshot checks the aggregate view for failed runs.
func (a *Alerter) EvaluateSnapshot(snap *MetricsSnapshot) []Alert {
	if snap.RunsFailed == 0 {
		return nil
	}

	failed := make([]map[string]any, 0, len(snap.FailedRuns))
	for _, r := range snap.FailedRuns {
		failed = append(failed, map[string]any{
			"id":     r.ID,
			"source": r.Source,
			"error":  r.Error,
		})
	}

	return []Alert{{
		Type:     AlertRunFailure,
		Severity: "high",
		Message: fmt.Sprintf(
			"%d ingest run(s) failed in last %dh",
			snap.RunsFailed, snap.LookbackHours,
		),
		Details: map[string]any{
			"failed_count": snap.RunsFailed,
			"total_runs":   snap.RunsTotal,
			"failed_runs":  failed,
		},
		Timestamp: time.Now().UTC(),
	}}
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if len(alerts) == 0 {
		return 0
	}
	if a.cfg.WebhookURL == "" {
		for _, alert := range alerts {
			zap.L().Warn("monitoring: alert (no webhook configured)",
				zap.String("type", string(alert.Type)),
				zap.String("source", alert.Source),
				zap.String("message", alert.Message),
			)
		}
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
