package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/campaign-warehouse/internal/config"
)

const defaultWatchInterval = 5 * time.Minute

// Checker watches recent run history and raises data-quality alerts for
// failed runs and for sources whose reject rate across the lookback window
// is over threshold. A failed run is reported once. A source is reported
// when it enters breach and again only after it has recovered.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu       sync.Mutex
	reported map[string]bool // failed run IDs already alerted
	inBreach map[string]bool // sources currently over the reject threshold
}

// NewChecker returns a Checker reading history through collector.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		reported:  map[string]bool{},
		inBreach:  map[string]bool{},
	}
}

// Run checks once at start and then on every tick until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultWatchInterval
	}

	log := zap.L().With(zap.String("component", "monitoring.dq_watch"))
	if ctx.Err() != nil {
		return
	}
	log.Info("dq watch started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)
	c.Check(ctx, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("dq watch stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects the lookback window, raises alerts for new failures and
// new reject-rate breaches, and sends them. It returns the alerts raised.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("dq watch: collect run history", zap.Error(err))
		return nil
	}

	c.mu.Lock()
	alerts := c.alerter.EvaluateSnapshot(c.newFailures(snap))
	alerts = append(alerts, c.newBreaches(snap)...)
	c.mu.Unlock()

	if len(alerts) == 0 {
		log.Debug("dq watch: no new alerts",
			zap.Int("runs", snap.RunsTotal),
			zap.Float64("reject_rate", snap.RejectRate),
		)
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("dq watch: alerts raised",
		zap.Int("raised", len(alerts)),
		zap.Int("sent", sent),
	)
	return alerts
}

// newFailures narrows snap to failed runs not yet reported. IDs that left
// the window are forgotten. Callers hold c.mu.
func (c *Checker) newFailures(snap *MetricsSnapshot) *MetricsSnapshot {
	seen := make(map[string]bool, len(snap.FailedRuns))
	fresh := *snap
	fresh.FailedRuns = nil
	for _, r := range snap.FailedRuns {
		seen[r.ID] = true
		if !c.reported[r.ID] {
			fresh.FailedRuns = append(fresh.FailedRuns, r)
		}
	}
	c.reported = seen
	fresh.RunsFailed = len(fresh.FailedRuns)
	return &fresh
}

// newBreaches reports sources whose windowed reject rate crossed the
// threshold since the last check. Windows under min_rows never breach.
// Callers hold c.mu.
func (c *Checker) newBreaches(snap *MetricsSnapshot) []Alert {
	sources := make([]string, 0, len(snap.Sources))
	for name := range snap.Sources {
		sources = append(sources, name)
	}
	sort.Strings(sources)

	now := time.Now().UTC()
	breach := make(map[string]bool, len(sources))
	var alerts []Alert
	for _, name := range sources {
		st := snap.Sources[name]
		if st.RowsTotal == 0 || st.RowsTotal < c.cfg.MinRows || st.RejectRate <= c.cfg.RejectRateThreshold {
			continue
		}
		breach[name] = true
		if c.inBreach[name] {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertRejectRate,
			Severity: "medium",
			Source:   name,
			Message: fmt.Sprintf(
				"%s reject rate %.1f%% over last %dh exceeds threshold %.1f%% (%d rejected / %d rows in %d runs)",
				name, st.RejectRate*100, snap.LookbackHours, c.cfg.RejectRateThreshold*100,
				st.Rejected, st.RowsTotal, st.Runs,
			),
			Details: map[string]any{
				"reject_rate":  st.RejectRate,
				"threshold":    c.cfg.RejectRateThreshold,
				"rejected":     st.Rejected,
				"total_rows":   st.RowsTotal,
				"runs":         st.Runs,
				"window_hours": snap.LookbackHours,
			},
			Timestamp: now,
		})
	}
	c.inBreach = breach
	return alerts
}
