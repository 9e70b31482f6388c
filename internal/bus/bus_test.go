package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	var got *domain.Message
	done := make(chan struct{})

	_, err := bus.Subscribe(ctx, "_global", domain.TopicPersistTransaction, func(ctx context.Context, msg *domain.Message) error {
		got = msg
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(ctx, "_global", domain.TopicPersistTransaction, []byte(`{"tenant_id":"tenant-a"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for persist job")
	}

	if got.Topic != domain.TopicPersistTransaction {
		t.Errorf("topic: got %s", got.Topic)
	}
	if string(got.Payload) != `{"tenant_id":"tenant-a"}` {
		t.Errorf("payload: got %s", got.Payload)
	}
	if got.ID == "" || got.Timestamp == 0 {
		t.Error("message envelope missing id or timestamp")
	}
}

func TestChannelBusTenantIsolation(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	var a, b atomic.Int32
	bus.Subscribe(ctx, "tenant-a", domain.TopicWebhookDispatch, func(ctx context.Context, msg *domain.Message) error {
		a.Add(1)
		return nil
	})
	bus.Subscribe(ctx, "tenant-b", domain.TopicWebhookDispatch, func(ctx context.Context, msg *domain.Message) error {
		b.Add(1)
		return nil
	})

	bus.Publish(ctx, "tenant-a", domain.TopicWebhookDispatch, []byte("evt"))
	time.Sleep(50 * time.Millisecond)

	if a.Load() != 1 {
		t.Errorf("tenant-a deliveries: got %d, want 1", a.Load())
	}
	if b.Load() != 0 {
		t.Errorf("tenant-b must not see tenant-a's messages, got %d", b.Load())
	}
}

func TestChannelBusRequiresTenantID(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	if err := bus.Publish(ctx, "", "topic", []byte("data")); err == nil {
		t.Error("publish without tenant must fail")
	}
	if _, err := bus.Subscribe(ctx, "", "topic", func(context.Context, *domain.Message) error { return nil }); err == nil {
		t.Error("subscribe without tenant must fail")
	}
}

func TestChannelBusUnsubscribe(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	var count atomic.Int32
	sub, err := bus.Subscribe(ctx, "_global", domain.TopicPersistFeedback, func(ctx context.Context, msg *domain.Message) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.Topic() != domain.TopicPersistFeedback {
		t.Errorf("topic: got %s", sub.Topic())
	}

	bus.Publish(ctx, "_global", domain.TopicPersistFeedback, []byte("1"))
	time.Sleep(50 * time.Millisecond)
	if count.Load() != 1 {
		t.Fatalf("before unsubscribe: got %d, want 1", count.Load())
	}

	sub.Unsubscribe()
	time.Sleep(10 * time.Millisecond)

	bus.Publish(ctx, "_global", domain.TopicPersistFeedback, []byte("2"))
	time.Sleep(50 * time.Millisecond)
	if count.Load() != 1 {
		t.Errorf("after unsubscribe: got %d, want 1", count.Load())
	}
}

func TestChannelBusMultipleSubscribers(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	// Persist and webhook workers both listen on their own topics; two
	// subscribers on the same topic each get every message.
	var c1, c2 atomic.Int32
	bus.Subscribe(ctx, "_global", domain.TopicDecisionMade, func(context.Context, *domain.Message) error {
		c1.Add(1)
		return nil
	})
	bus.Subscribe(ctx, "_global", domain.TopicDecisionMade, func(context.Context, *domain.Message) error {
		c2.Add(1)
		return nil
	})

	bus.Publish(ctx, "_global", domain.TopicDecisionMade, []byte("d"))
	time.Sleep(50 * time.Millisecond)

	if c1.Load() != 1 || c2.Load() != 1 {
		t.Errorf("both subscribers must receive: got %d and %d", c1.Load(), c2.Load())
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()
	bus.Subscribe(ctx, "_global", domain.TopicPersistTransaction, func(context.Context, *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := bus.Publish(ctx, "_global", domain.TopicPersistTransaction, []byte("x")); err == nil {
		t.Error("publish after close must fail")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("ping after close must fail")
	}
}

func TestNewBus(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*ChannelBus); !ok {
		t.Error("expected ChannelBus for channel type")
	}

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	const messageCount = 100
	var received atomic.Int32
	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "_global", domain.TopicPersistTransaction, func(context.Context, *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "_global", domain.TopicPersistTransaction, []byte("job"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d", received.Load(), messageCount)
	}
}
