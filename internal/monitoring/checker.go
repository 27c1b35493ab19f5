package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-sync/internal/config"
	"github.com/sells-group/places-sync/internal/model"
)

// AlertLog remembers which alerts were delivered on a given day.
type AlertLog interface {
	GetUsage(ctx context.Context, day string) (map[string]int, error)
	IncrementUsage(ctx context.Context, day, metric string, delta int) error
}

// Checker runs periodic alert checks in the background. Each alert type is
// delivered at most once per calendar day.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	sent      AlertLog
	cfg       config.MonitoringConfig
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, sent AlertLog, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		sent:      sent,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			alerts, err := c.Check(ctx)
			if err != nil {
				log.Error("monitoring: alert check failed", zap.Error(err))
				continue
			}
			if len(alerts) > 0 {
				log.Info("monitoring: alert check complete", zap.Int("alerts_sent", len(alerts)))
			}
		}
	}
}

// Check collects a snapshot, evaluates it and delivers the alerts not yet
// sent today. It returns the alerts delivered by this call.
func (c *Checker) Check(ctx context.Context) ([]Alert, error) {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect")
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return nil, nil
	}

	already, err := c.sent.GetUsage(ctx, snap.Day)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load sent alerts")
	}
	var pending []Alert
	for _, a := range alerts {
		if already[alertMetric(a.Type)] > 0 {
			continue
		}
		pending = append(pending, a)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	sent := c.alerter.SendAlerts(ctx, pending)
	for _, a := range sent {
		if err := c.sent.IncrementUsage(ctx, snap.Day, alertMetric(a.Type), 1); err != nil {
			return sent, eris.Wrapf(err, "monitoring: mark %s sent", a.Type)
		}
	}
	return sent, nil
}

func alertMetric(t AlertType) string {
	return model.MetricAlertPrefix + string(t)
}
