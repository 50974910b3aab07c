package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// mockWorker is a Worker whose Start blocks like the real ones do.
type mockWorker struct {
	name        string
	startCalled chan struct{}
	stopCalled  chan struct{}
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

func newMockWorker(name string) *mockWorker {
	return &mockWorker{
		name:        name,
		startCalled: make(chan struct{}, 1),
		stopCalled:  make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
	}
}

func (m *mockWorker) Name() string {
	return m.name
}

func (m *mockWorker) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()
	m.startCalled <- struct{}{}

	select {
	case <-ctx.Done():
	case <-m.stopChan:
	}
}

func (m *mockWorker) Stop() {
	m.stopCalled <- struct{}{}
	close(m.stopChan)
	m.wg.Wait() // wait for the Start loop to exit
}

func TestDispatcher_StartAndStop(t *testing.T) {
	poller := newMockWorker("poller")
	retries := newMockWorker("retry-queue")
	dispatcher := NewDispatcher(zap.NewNop(), poller, retries)

	assert.False(t, dispatcher.IsStarted())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Start(ctx)
	}()

	for _, worker := range []*mockWorker{poller, retries} {
		select {
		case <-worker.startCalled:
			// success
		case <-time.After(time.Second):
			t.Fatalf("%s.Start was not called", worker.name)
		}
	}
	assert.True(t, dispatcher.IsStarted())

	dispatcher.Stop()

	for _, worker := range []*mockWorker{poller, retries} {
		select {
		case <-worker.stopCalled:
			// success
		case <-time.After(time.Second):
			t.Fatalf("%s.Stop was not called", worker.name)
		}
	}

	wg.Wait() // wait for the dispatcher's Start routine to exit
	assert.False(t, dispatcher.IsStarted())
}

func TestDispatcher_ContextCancellation(t *testing.T) {
	worker := newMockWorker("poller")
	dispatcher := NewDispatcher(zap.NewNop(), worker)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	dispatcher.Start(ctx)

	select {
	case <-worker.stopCalled:
		// success
	case <-time.After(time.Second):
		t.Fatal("worker.Stop was not called after context cancellation")
	}
}

func TestDispatcher_RepeatedStartAndStop(t *testing.T) {
	worker := newMockWorker("poller")
	dispatcher := NewDispatcher(zap.NewNop(), worker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dispatcher.Start(ctx)
	<-worker.startCalled
	assert.True(t, dispatcher.IsStarted())

	// Starting again is a no-op.
	dispatcher.Start(ctx)
	assert.True(t, dispatcher.IsStarted())

	dispatcher.Stop()
	<-worker.stopCalled
	time.Sleep(10 * time.Millisecond) // let the Start routine wind down
	assert.False(t, dispatcher.IsStarted())

	// Stopping again is a no-op.
	dispatcher.Stop()
	assert.False(t, dispatcher.IsStarted())
}
