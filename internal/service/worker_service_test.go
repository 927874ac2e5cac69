package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/observability"
	"github.com/kursadbilgin/multichannel-notifier/internal/queue"
	"go.uber.org/zap"
)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeDispatcher struct {
	dispatchFn func(ctx context.Context, notificationID string) error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, notificationID string) error {
	return f.dispatchFn(ctx, notificationID)
}

func TestWorkerServiceProcessMessage(t *testing.T) {
	t.Parallel()

	var gotID, gotCorrelation string
	dispatcher := &fakeDispatcher{dispatchFn: func(ctx context.Context, notificationID string) error {
		gotID = notificationID
		gotCorrelation, _ = observability.CorrelationIDFromContext(ctx)
		return nil
	}}
	worker, err := NewWorkerService(&fakeConsumer{}, dispatcher, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	err = worker.processMessage(context.Background(), queue.NotificationMessage{
		NotificationID: "n1",
		CorrelationID:  "corr-1",
		Channel:        domain.ChannelSMS,
		Priority:       domain.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if gotID != "n1" || gotCorrelation != "corr-1" {
		t.Fatalf("dispatched %q with correlation %q, want n1/corr-1", gotID, gotCorrelation)
	}
}

func TestWorkerServiceDropsMalformedMessages(t *testing.T) {
	t.Parallel()

	dispatcher := &fakeDispatcher{dispatchFn: func(ctx context.Context, notificationID string) error {
		t.Fatal("malformed message must not be dispatched")
		return nil
	}}
	worker, err := NewWorkerService(&fakeConsumer{}, dispatcher, 1, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	for _, msg := range []queue.NotificationMessage{
		{Channel: domain.ChannelSMS, Priority: domain.PriorityNormal},
		{NotificationID: "n1", Channel: "fax", Priority: domain.PriorityNormal},
		{NotificationID: "n1", Channel: domain.ChannelSMS, Priority: "asap"},
	} {
		if err := worker.processMessage(context.Background(), msg); err != nil {
			t.Fatalf("processMessage(%+v) error = %v, want nil", msg, err)
		}
	}
}

func TestWorkerServicePropagatesDispatchError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("db unavailable")
	dispatcher := &fakeDispatcher{dispatchFn: func(ctx context.Context, notificationID string) error {
		return wantErr
	}}
	worker, err := NewWorkerService(&fakeConsumer{}, dispatcher, 1, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	err = worker.processMessage(context.Background(), queue.NotificationMessage{
		NotificationID: "n1",
		Channel:        domain.ChannelEmail,
		Priority:       domain.PriorityNormal,
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("processMessage() error = %v, want %v", err, wantErr)
	}
}

func TestWorkerServiceStartConsumesEveryQueue(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[string]int{}
	ctx, cancel := context.WithCancel(context.Background())
	var started sync.WaitGroup
	started.Add(len(queue.WorkQueueNames()))

	consumer := &fakeConsumer{consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
		mu.Lock()
		seen[queueName]++
		mu.Unlock()
		started.Done()
		<-ctx.Done()
		return nil
	}}
	worker, err := NewWorkerService(consumer, &fakeDispatcher{}, 1, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()

	started.Wait()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, name := range queue.WorkQueueNames() {
		if seen[name] != 1 {
			t.Fatalf("queue %s consumers = %d, want 1", name, seen[name])
		}
	}
}

func TestWorkerServiceStartReturnsConsumerError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("channel closed")
	failQueue := queue.QueueName(domain.ChannelPush)
	consumer := &fakeConsumer{consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
		if queueName == failQueue {
			return wantErr
		}
		<-ctx.Done()
		return nil
	}}
	worker, err := NewWorkerService(consumer, &fakeDispatcher{}, 4, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	if err := worker.Start(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Start() error = %v, want %v", err, wantErr)
	}
}

func TestNewWorkerServiceRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewWorkerService(nil, &fakeDispatcher{}, 1, nil); err == nil {
		t.Fatal("NewWorkerService(nil consumer) error = nil")
	}
	if _, err := NewWorkerService(&fakeConsumer{}, nil, 1, nil); err == nil {
		t.Fatal("NewWorkerService(nil dispatcher) error = nil")
	}
}
