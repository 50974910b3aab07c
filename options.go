package publisher

import (
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseInterval        = 2 * time.Minute
	defaultActiveInterval      = 30 * time.Second
	defaultIdleInterval        = 5 * time.Minute
	defaultCatchUpThreshold    = 10 * time.Minute
	defaultRetryDelay          = 30 * time.Second
	defaultMaxAttempts         = 3
	defaultSendTimeout         = 10 * time.Second
	defaultDiagnosticsInterval = 1 * time.Minute
)

//
// Broadcaster Options
//

type BroadcasterOption func(*Broadcaster)

func WithBroadcasterLogger(logger *zap.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

func WithBroadcasterMetrics(metrics MetricsCollector) BroadcasterOption {
	return func(b *Broadcaster) {
		b.metrics = metrics
	}
}

func WithBroadcasterSendTimeout(timeout time.Duration) BroadcasterOption {
	return func(b *Broadcaster) {
		b.sendTimeout = timeout
	}
}

//
// RetryQueue Options
//

type RetryQueueOption func(*RetryQueue)

func WithRetryQueueLogger(logger *zap.Logger) RetryQueueOption {
	return func(q *RetryQueue) {
		q.logger = logger
	}
}

func WithRetryQueueMetrics(metrics MetricsCollector) RetryQueueOption {
	return func(q *RetryQueue) {
		q.metrics = metrics
	}
}

func WithRetryQueueDelay(delay time.Duration) RetryQueueOption {
	return func(q *RetryQueue) {
		q.delay = delay
	}
}

func WithRetryQueueMaxAttempts(attempts int) RetryQueueOption {
	return func(q *RetryQueue) {
		q.maxAttempts = attempts
	}
}

func WithRetryQueueNotifier(notifier UserNotifier) RetryQueueOption {
	return func(q *RetryQueue) {
		q.notifier = notifier
	}
}

func WithRetryQueueClock(clock Clock) RetryQueueOption {
	return func(q *RetryQueue) {
		q.clock = clock
	}
}

//
// Pipeline Options
//

type PipelineOption func(*Pipeline)

func WithPipelineLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithPipelineMetrics(metrics MetricsCollector) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

//
// AdaptivePoller Options
//

type PollerOption func(*AdaptivePoller)

func WithPollerLogger(logger *zap.Logger) PollerOption {
	return func(p *AdaptivePoller) {
		p.logger = logger
	}
}

func WithPollerMetrics(metrics MetricsCollector) PollerOption {
	return func(p *AdaptivePoller) {
		p.metrics = metrics
	}
}

func WithPollerIntervals(base, active, idle time.Duration) PollerOption {
	return func(p *AdaptivePoller) {
		p.baseInterval = base
		p.activeInterval = active
		p.idleInterval = idle
	}
}

func WithPollerCatchUpThreshold(threshold time.Duration) PollerOption {
	return func(p *AdaptivePoller) {
		p.catchUpThreshold = threshold
	}
}

func WithPollerClock(clock Clock) PollerOption {
	return func(p *AdaptivePoller) {
		p.clock = clock
	}
}

//
// LifecycleMonitor Options
//

type LifecycleOption func(*LifecycleMonitor)

func WithLifecycleLogger(logger *zap.Logger) LifecycleOption {
	return func(m *LifecycleMonitor) {
		m.logger = logger
	}
}

func WithLifecycleClock(clock Clock) LifecycleOption {
	return func(m *LifecycleMonitor) {
		m.clock = clock
	}
}

//
// Service Options
//

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(metrics MetricsCollector) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

func WithClock(clock Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

func WithLifecycle(monitor *LifecycleMonitor) Option {
	return func(s *Service) {
		s.lifecycle = monitor
	}
}

func WithPollIntervals(base, active, idle time.Duration) Option {
	return func(s *Service) {
		s.baseInterval = base
		s.activeInterval = active
		s.idleInterval = idle
	}
}

func WithCatchUpThreshold(threshold time.Duration) Option {
	return func(s *Service) {
		s.catchUpThreshold = threshold
	}
}

func WithRetryDelay(delay time.Duration) Option {
	return func(s *Service) {
		s.retryDelay = delay
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(s *Service) {
		s.maxAttempts = attempts
	}
}

func WithSendTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.sendTimeout = timeout
	}
}

func WithDiagnosticsInterval(interval time.Duration) Option {
	return func(s *Service) {
		s.diagnosticsInterval = interval
	}
}

// WithWorkers registers additional workers to run under the service's
// dispatcher, such as a relay pool maintainer.
func WithWorkers(workers ...Worker) Option {
	return func(s *Service) {
		s.extraWorkers = append(s.extraWorkers, workers...)
	}
}
