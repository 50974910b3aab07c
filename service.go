package publisher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Dependencies holds the external collaborators the publisher drives. All of
// them are required.
type Dependencies struct {
	Source   ReadySource
	Cleaner  StagingCleaner
	Signer   Signer
	Conns    ConnProvider
	Status   StatusStore
	Notifier UserNotifier
}

func (d Dependencies) validate() error {
	switch {
	case d.Source == nil:
		return errors.New("ready source is required")
	case d.Cleaner == nil:
		return errors.New("staging cleaner is required")
	case d.Signer == nil:
		return errors.New("signer is required")
	case d.Conns == nil:
		return errors.New("relay connection provider is required")
	case d.Status == nil:
		return errors.New("status store is required")
	case d.Notifier == nil:
		return errors.New("user notifier is required")
	}
	return nil
}

// Service assembles the whole publisher: broadcaster, pipeline, retry queue,
// adaptive poller and diagnostics, all running under one dispatcher. Host
// applications construct it once, run Start in a goroutine, report lifecycle
// changes through Lifecycle and shut down with Stop.
type Service struct {
	logger  *zap.Logger
	metrics MetricsCollector
	clock   Clock

	baseInterval        time.Duration
	activeInterval      time.Duration
	idleInterval        time.Duration
	catchUpThreshold    time.Duration
	retryDelay          time.Duration
	maxAttempts         int
	sendTimeout         time.Duration
	diagnosticsInterval time.Duration
	extraWorkers        []Worker

	lifecycle   *LifecycleMonitor
	registry    *SubscriptionRegistry
	broadcaster *Broadcaster
	pipeline    *Pipeline
	queue       *RetryQueue
	poller      *AdaptivePoller
	dispatcher  *Dispatcher
}

// New wires a Service from its dependencies and options.
func New(deps Dependencies, opts ...Option) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	s := &Service{
		logger:              zap.NewNop(),
		metrics:             NewNopMetricsCollector(),
		clock:               RealClock{},
		baseInterval:        defaultBaseInterval,
		activeInterval:      defaultActiveInterval,
		idleInterval:        defaultIdleInterval,
		catchUpThreshold:    defaultCatchUpThreshold,
		retryDelay:          defaultRetryDelay,
		maxAttempts:         defaultMaxAttempts,
		sendTimeout:         defaultSendTimeout,
		diagnosticsInterval: defaultDiagnosticsInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.lifecycle == nil {
		s.lifecycle = NewLifecycleMonitor(
			WithLifecycleLogger(s.logger),
			WithLifecycleClock(s.clock),
		)
	}
	s.registry = NewSubscriptionRegistry(s.logger)

	s.broadcaster = NewBroadcaster(deps.Conns,
		WithBroadcasterLogger(s.logger),
		WithBroadcasterMetrics(s.metrics),
		WithBroadcasterSendTimeout(s.sendTimeout),
	)

	// The queue redelivers through the pipeline and the pipeline enqueues
	// into the queue; the closure breaks the construction cycle.
	var pipeline *Pipeline
	s.queue = NewRetryQueue(
		func(ctx context.Context, entry RetryEntry) error {
			return pipeline.Redeliver(ctx, entry)
		},
		WithRetryQueueLogger(s.logger),
		WithRetryQueueMetrics(s.metrics),
		WithRetryQueueDelay(s.retryDelay),
		WithRetryQueueMaxAttempts(s.maxAttempts),
		WithRetryQueueNotifier(deps.Notifier),
		WithRetryQueueClock(s.clock),
	)
	pipeline = NewPipeline(
		s.broadcaster,
		deps.Signer,
		deps.Status,
		deps.Cleaner,
		deps.Notifier,
		s.queue,
		WithPipelineLogger(s.logger),
		WithPipelineMetrics(s.metrics),
	)
	s.pipeline = pipeline

	s.poller = NewAdaptivePoller(deps.Source, pipeline, s.queue, s.lifecycle,
		WithPollerLogger(s.logger),
		WithPollerMetrics(s.metrics),
		WithPollerIntervals(s.baseInterval, s.activeInterval, s.idleInterval),
		WithPollerCatchUpThreshold(s.catchUpThreshold),
		WithPollerClock(s.clock),
	)

	diagnostics := NewDiagnosticsService(s.poller, s.queue, s.pipeline, s.broadcaster, s.logger, s.metrics)
	workers := append([]Worker{
		s.poller,
		s.queue,
		NewBaseWorker("diagnostics", s.diagnosticsInterval, s.logger, diagnostics.Report),
	}, s.extraWorkers...)
	s.dispatcher = NewDispatcher(s.logger, workers...)

	return s, nil
}

// Start runs the publisher's workers. It blocks until the context is
// cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.dispatcher.Start(ctx)
}

// Stop shuts the publisher down gracefully. Poll and retry timers are
// cancelled; a broadcast already in flight completes first.
func (s *Service) Stop() {
	s.dispatcher.Stop()
}

// ForcePoll requests an immediate poll cycle, typically right after an
// upload finishes so the new item publishes without waiting for the next
// scheduled tick.
func (s *Service) ForcePoll() {
	s.poller.ForcePoll()
}

// Lifecycle returns the monitor the host reports app state changes to.
func (s *Service) Lifecycle() *LifecycleMonitor {
	return s.lifecycle
}

// Subscriptions returns the registry routing incoming relay events to
// consumers.
func (s *Service) Subscriptions() *SubscriptionRegistry {
	return s.registry
}

// PollState returns the poller's current diagnostic snapshot.
func (s *Service) PollState() PollState {
	return s.poller.Snapshot()
}
