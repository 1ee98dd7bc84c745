package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/albin6/social-realtime/internal/domain/entity"
)

func TestAckLifecycle(t *testing.T) {
	s := NewAckStore()
	ctx := context.Background()

	if err := s.TrackPending(ctx, "e-1", "bob"); err != nil {
		t.Fatalf("track: %v", err)
	}
	state, _ := s.StateOf(ctx, "e-1", "bob")
	if state != entity.DeliveryStatePending {
		t.Fatalf("state = %q, want pending", state)
	}

	moved, _ := s.MarkDelivered(ctx, "e-1", "bob")
	if !moved {
		t.Fatal("pending -> delivered must transition")
	}
	moved, _ = s.MarkDelivered(ctx, "e-1", "bob")
	if moved {
		t.Fatal("repeated delivered must be a no-op")
	}

	moved, _ = s.MarkRead(ctx, "e-1", "bob")
	if !moved {
		t.Fatal("delivered -> read must transition")
	}
	moved, _ = s.MarkDelivered(ctx, "e-1", "bob")
	if moved {
		t.Fatal("read must never regress to delivered")
	}
}

func TestTrackPendingDoesNotOverwrite(t *testing.T) {
	s := NewAckStore()
	ctx := context.Background()

	s.TrackPending(ctx, "e-1", "bob")
	s.MarkDelivered(ctx, "e-1", "bob")

	// 重复登记不能把 delivered 打回 pending
	s.TrackPending(ctx, "e-1", "bob")
	state, _ := s.StateOf(ctx, "e-1", "bob")
	if state != entity.DeliveryStateDelivered {
		t.Fatalf("state = %q, want delivered", state)
	}
}

func TestUnknownEventStaysPending(t *testing.T) {
	s := NewAckStore()
	ctx := context.Background()

	if moved, _ := s.MarkDelivered(ctx, "ghost", "bob"); moved {
		t.Fatal("unknown event must not transition")
	}
	if moved, _ := s.MarkRead(ctx, "ghost", "bob"); moved {
		t.Fatal("unknown event must not transition")
	}
	state, _ := s.StateOf(ctx, "ghost", "bob")
	if state != entity.DeliveryStatePending {
		t.Fatalf("state = %q, want pending", state)
	}
}

func TestStatesArePerRecipient(t *testing.T) {
	s := NewAckStore()
	ctx := context.Background()

	s.TrackPending(ctx, "e-1", "bob")
	s.TrackPending(ctx, "e-1", "carol")
	s.MarkRead(ctx, "e-1", "bob")

	state, _ := s.StateOf(ctx, "e-1", "carol")
	if state != entity.DeliveryStatePending {
		t.Fatalf("carol state = %q, bob's read must not leak", state)
	}
}

func TestConcurrentAcksStayMonotonic(t *testing.T) {
	s := NewAckStore()
	ctx := context.Background()
	s.TrackPending(ctx, "e-1", "bob")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.MarkDelivered(ctx, "e-1", "bob")
		}()
		go func() {
			defer wg.Done()
			s.MarkRead(ctx, "e-1", "bob")
		}()
	}
	wg.Wait()

	state, _ := s.StateOf(ctx, "e-1", "bob")
	if state != entity.DeliveryStateRead {
		t.Fatalf("final state = %q, want read", state)
	}
}
