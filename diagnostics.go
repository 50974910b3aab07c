package publisher

import (
	"context"

	"go.uber.org/zap"
)

// DiagnosticsService periodically reports the publisher's internal state:
// poll schedule, queue depth and lifetime outcome counters. It exists for
// operators reading logs and dashboards; nothing depends on its output.
type DiagnosticsService struct {
	poller      *AdaptivePoller
	queue       *RetryQueue
	pipeline    *Pipeline
	broadcaster *Broadcaster
	logger      *zap.Logger
	metrics     MetricsCollector
}

// NewDiagnosticsService creates a new DiagnosticsService.
func NewDiagnosticsService(
	poller *AdaptivePoller,
	queue *RetryQueue,
	pipeline *Pipeline,
	broadcaster *Broadcaster,
	logger *zap.Logger,
	metrics MetricsCollector,
) *DiagnosticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	return &DiagnosticsService{
		poller:      poller,
		queue:       queue,
		pipeline:    pipeline,
		broadcaster: broadcaster,
		logger:      logger,
		metrics:     metrics,
	}
}

// Report is the workFunc run by the diagnostics worker. It always returns
// nil; a reporting hiccup must not stop the worker.
func (s *DiagnosticsService) Report(_ context.Context) error {
	poll := s.poller.Snapshot()
	pipe := s.pipeline.Stats()
	cast := s.broadcaster.Stats()

	s.logger.Info("Publisher status",
		zap.Stringer("app_state", poll.AppState),
		zap.Duration("poll_interval", poll.Interval),
		zap.Time("last_poll", poll.LastPoll),
		zap.Int("pending_retries", poll.PendingRetries),
		zap.Int("unready_items", poll.Unready),
		zap.Int64("delivered", pipe.Delivered),
		zap.Int64("terminal_failed", pipe.Terminal),
		zap.Int64("retried", pipe.Retried),
		zap.Int64("skipped", pipe.Skipped),
		zap.Int64("relay_sends", cast.Attempts),
		zap.Int64("relay_accepts", cast.Successes),
	)

	s.metrics.RecordGauge("diagnostics.pending_retries", float64(s.queue.Len()), nil)
	s.metrics.RecordGauge("diagnostics.delivered_total", float64(pipe.Delivered), nil)
	s.metrics.RecordGauge("diagnostics.terminal_total", float64(pipe.Terminal), nil)
	s.metrics.IncrementCounter("diagnostics.reported", nil)

	return nil
}
