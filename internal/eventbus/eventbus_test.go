package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/subcog/subcog/internal/models"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(context.Background(), models.MemoryEvent{Kind: models.EventCaptured, MemoryID: "mem-1"})

	select {
	case ev := <-sub.C:
		if ev.Kind != models.EventCaptured || ev.MemoryID != "mem-1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_FanOutToMultipleSubscribers(t *testing.T) {
	b := New()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	b.Publish(context.Background(), models.MemoryEvent{Kind: models.EventDeleted, MemoryID: "mem-2"})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.C:
			if ev.Kind != models.EventDeleted {
				t.Fatalf("unexpected event: %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Unsubscribe()

	if _, ok := <-sub.C; ok {
		t.Fatal("expected channel to be closed")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount())
	}
}

func TestBus_LaggedSignalOnOverflow(t *testing.T) {
	b := New(WithBufferSize(1))
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	ctx := context.Background()
	b.Publish(ctx, models.MemoryEvent{Kind: models.EventCaptured, MemoryID: "mem-a"})
	b.Publish(ctx, models.MemoryEvent{Kind: models.EventCaptured, MemoryID: "mem-b"})
	b.Publish(ctx, models.MemoryEvent{Kind: models.EventCaptured, MemoryID: "mem-c"})

	first := <-sub.C
	if first.MemoryID != "mem-a" {
		t.Fatalf("expected mem-a first, got %+v", first)
	}

	drained := <-sub.C
	if drained.Kind != models.EventLagged {
		t.Fatalf("expected a lagged signal, got %+v", drained)
	}
	if drained.Skipped < 1 {
		t.Fatalf("expected at least 1 skipped event, got %d", drained.Skipped)
	}
}

func TestBus_CloseStopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	b.Close()
	if _, ok := <-sub.C; ok {
		t.Fatal("expected channel closed after Bus.Close")
	}

	b.Publish(context.Background(), models.MemoryEvent{Kind: models.EventCaptured})
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", b.SubscriberCount())
	}
}

func TestBus_SubscriberCount(t *testing.T) {
	b := New()
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0, got %d", b.SubscriberCount())
	}
	sub := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1, got %d", b.SubscriberCount())
	}
	sub.Unsubscribe()
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 after unsubscribe, got %d", b.SubscriberCount())
	}
}
