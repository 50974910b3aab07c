package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rabble/nostrvine-publisher"
	"github.com/rabble/nostrvine-publisher/relaypool"
	"github.com/rabble/nostrvine-publisher/staging"
)

// logStatusStore records publication state in the log only. A real host
// would persist it next to its upload metadata.
type logStatusStore struct {
	logger *zap.Logger
}

func (s logStatusStore) MarkPublished(_ context.Context, itemID, eventID string) error {
	s.logger.Info("Upload marked published",
		zap.String("item_id", itemID),
		zap.String("event_id", eventID),
	)
	return nil
}

// logNotifier stands in for the host's UI layer.
type logNotifier struct {
	logger *zap.Logger
}

func (n logNotifier) NotifyPublished(itemID, eventID string) {
	n.logger.Info("Video is live",
		zap.String("item_id", itemID),
		zap.String("event_id", eventID),
	)
}

func (n logNotifier) NotifyFailed(itemID, reason string) {
	n.logger.Warn("Video could not be published",
		zap.String("item_id", itemID),
		zap.String("reason", reason),
	)
}

func main() {
	cfg, err := publisher.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := relaypool.New(cfg.RelayURLs, logger)
	pool.Connect(ctx)
	defer pool.Close()

	backend, err := staging.NewClient(cfg.StagingURL,
		staging.WithAPIKey(cfg.StagingAPIKey),
		staging.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("Failed to create staging client", zap.Error(err))
	}

	svc, err := publisher.New(
		publisher.Dependencies{
			Source:   backend,
			Cleaner:  backend,
			Signer:   publisher.NewLocalSigner(cfg.SecretKey),
			Conns:    pool,
			Status:   logStatusStore{logger},
			Notifier: logNotifier{logger},
		},
		publisher.WithLogger(logger),
		publisher.WithPollIntervals(cfg.BasePollInterval, cfg.ActivePollInterval, cfg.IdlePollInterval),
		publisher.WithCatchUpThreshold(cfg.CatchUpThreshold),
		publisher.WithRetryDelay(cfg.RetryDelay),
		publisher.WithMaxAttempts(cfg.MaxAttempts),
		publisher.WithSendTimeout(cfg.SendTimeout),
		publisher.WithWorkers(
			publisher.NewBaseWorker("relay-maintainer", time.Minute, logger, pool.Maintain),
		),
	)
	if err != nil {
		logger.Fatal("Failed to create publisher", zap.Error(err))
	}

	// Watch our own short-video events coming back from the relays.
	sub := svc.Subscriptions().Register(
		nostr.Filter{Kinds: []int{publisher.KindShortVideo}},
		func(ev nostr.Event) {
			logger.Info("Observed short video on the network",
				zap.String("event_id", ev.ID),
				zap.String("author", ev.PubKey),
			)
		},
	)
	defer sub.Close()

	since := nostr.Now()
	pool.Listen(ctx, nostr.Filters{{Kinds: []int{publisher.KindShortVideo}, Since: &since}}, func(ev nostr.Event) {
		svc.Subscriptions().Dispatch(ev)
	})

	go svc.Start(ctx)

	// A host application forwards its UI lifecycle into the publisher:
	//   svc.Lifecycle().Backgrounded() / svc.Lifecycle().Foregrounded()
	// and nudges it after a fresh upload with svc.ForcePoll().

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping publisher")
	svc.Stop()
	logger.Info("Publisher stopped gracefully")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
