package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/learnersafe/heron/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var received []*domain.Message

	sub, err := b.Subscribe(ctx, domain.TopicFlagCreated, func(ctx context.Context, msg *domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, domain.TopicFlagCreated, []byte(`{"id":"flag-001"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("message never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if received[0].Topic != domain.TopicFlagCreated {
		t.Errorf("expected topic %s, got %s", domain.TopicFlagCreated, received[0].Topic)
	}
	if string(received[0].Payload) != `{"id":"flag-001"}` {
		t.Errorf("unexpected payload: %s", received[0].Payload)
	}
}

func TestChannelBusTopicIsolation(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0

	sub, err := b.Subscribe(ctx, domain.TopicScanStarted, func(ctx context.Context, msg *domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	// Publish to a different topic; the subscriber must not see it.
	if err := b.Publish(ctx, domain.TopicScanCompleted, []byte("{}")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("subscriber received %d messages from an unrelated topic", count)
	}
}

func TestChannelBusUnsubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0

	sub, err := b.Subscribe(ctx, domain.TopicFlagUpdated, func(ctx context.Context, msg *domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if sub.Topic() != domain.TopicFlagUpdated {
		t.Errorf("unexpected subscription topic: %s", sub.Topic())
	}

	sub.Unsubscribe()
	time.Sleep(10 * time.Millisecond)

	b.Publish(ctx, domain.TopicFlagUpdated, []byte("{}"))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("unsubscribed handler still received %d messages", count)
	}
}

func TestChannelBusClosed(t *testing.T) {
	b := NewChannelBus(10)
	ctx := context.Background()

	if err := b.Ping(ctx); err != nil {
		t.Errorf("Ping on open bus failed: %v", err)
	}

	b.Close()

	if err := b.Publish(ctx, domain.TopicFlagCreated, []byte("{}")); err == nil {
		t.Error("Publish on closed bus should fail")
	}
	if _, err := b.Subscribe(ctx, domain.TopicFlagCreated, nil); err == nil {
		t.Error("Subscribe on closed bus should fail")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("Ping on closed bus should fail")
	}
}

func TestBusFactory(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}
