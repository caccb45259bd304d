package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemory_PublishConsumeRoundtrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	messages, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume init failed: %v", err)
	}

	want := Message{Type: TypeAttendanceMarked, Body: []byte(`{"id":"rec-1"}`)}
	if err := q.Publish(ctx, want); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case got := <-messages:
		if got.Type != want.Type || string(got.Body) != string(want.Body) {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}
}

func TestInMemory_PublishHonorsCancelledContext(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	// Fill the buffer so the next publish would block.
	if err := q.Publish(ctx, Message{Type: TypeSessionEnded}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	cancel()

	if err := q.Publish(ctx, Message{Type: TypeSessionEnded}); err == nil {
		t.Error("expected error publishing on cancelled context")
	}
}

func TestInMemory_ConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(1)
	messages, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume init failed: %v", err)
	}
	cancel()

	select {
	case _, open := <-messages:
		if open {
			t.Error("expected channel to close after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel did not close after cancel")
	}
}
