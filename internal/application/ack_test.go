package application

import (
	"context"
	"testing"
	"time"

	"github.com/albin6/social-realtime/internal/adapters/out/memory"
	"github.com/albin6/social-realtime/internal/domain/entity"
)

type ackFixture struct {
	registry *memory.Registry
	acks     *memory.AckStore
	sink     *fakeSink
	service  *AckService
}

func newAckFixture() *ackFixture {
	registry := memory.NewRegistry(time.Hour)
	acks := memory.NewAckStore()
	sink := newFakeSink()
	return &ackFixture{
		registry: registry,
		acks:     acks,
		sink:     sink,
		service:  NewAckService(acks, registry, sink),
	}
}

func TestAckStateAdvancesMonotonically(t *testing.T) {
	f := newAckFixture()
	ctx := context.Background()

	if err := f.acks.TrackPending(ctx, "e-1", "bob"); err != nil {
		t.Fatalf("track: %v", err)
	}

	if err := f.service.MarkDelivered(ctx, "e-1", "bob", "alice"); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	state, _ := f.service.StateOf(ctx, "e-1", "bob")
	if state != entity.DeliveryStateDelivered {
		t.Fatalf("state = %q, want delivered", state)
	}

	if err := f.service.MarkRead(ctx, "e-1", "bob", "alice"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	state, _ = f.service.StateOf(ctx, "e-1", "bob")
	if state != entity.DeliveryStateRead {
		t.Fatalf("state = %q, want read", state)
	}

	// 乱序到达的 delivered 不能把 read 拉回去
	if err := f.service.MarkDelivered(ctx, "e-1", "bob", "alice"); err != nil {
		t.Fatalf("late delivered: %v", err)
	}
	state, _ = f.service.StateOf(ctx, "e-1", "bob")
	if state != entity.DeliveryStateRead {
		t.Fatalf("state regressed to %q", state)
	}
}

func TestReadSkipsDeliveredStep(t *testing.T) {
	f := newAckFixture()
	ctx := context.Background()

	if err := f.acks.TrackPending(ctx, "e-1", "bob"); err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := f.service.MarkRead(ctx, "e-1", "bob", "alice"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	state, _ := f.service.StateOf(ctx, "e-1", "bob")
	if state != entity.DeliveryStateRead {
		t.Fatalf("state = %q, want read", state)
	}
}

func TestAckForUnknownEventIsNoop(t *testing.T) {
	f := newAckFixture()
	ctx := context.Background()

	if err := f.service.MarkDelivered(ctx, "ghost", "bob", "alice"); err != nil {
		t.Fatalf("unknown delivered must not error: %v", err)
	}
	if err := f.service.MarkRead(ctx, "ghost", "bob", "alice"); err != nil {
		t.Fatalf("unknown read must not error: %v", err)
	}

	state, _ := f.service.StateOf(ctx, "ghost", "bob")
	if state != entity.DeliveryStatePending {
		t.Fatalf("state = %q, want pending default", state)
	}
}

func TestReadReceiptPushedToOnlineOrigin(t *testing.T) {
	f := newAckFixture()
	ctx := context.Background()

	f.sink.connect("alice")
	err := f.registry.Register(ctx, &entity.Connection{ConnID: "c1", UserID: "alice"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := f.acks.TrackPending(ctx, "e-1", "bob"); err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := f.service.MarkRead(ctx, "e-1", "bob", "alice"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	types := f.sink.frameTypes("alice")
	if len(types) != 1 || types[0] != "read_receipt" {
		t.Fatalf("alice received %v, want one read_receipt", types)
	}
}

func TestReadReceiptDroppedWhenOriginOffline(t *testing.T) {
	f := newAckFixture()
	ctx := context.Background()

	if err := f.acks.TrackPending(ctx, "e-1", "bob"); err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := f.service.MarkRead(ctx, "e-1", "bob", "alice"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	if frames := f.sink.frames("alice"); len(frames) != 0 {
		t.Fatalf("offline origin must not receive receipts, got %d frames", len(frames))
	}

	// 已读状态本身照常推进
	state, _ := f.service.StateOf(ctx, "e-1", "bob")
	if state != entity.DeliveryStateRead {
		t.Fatalf("state = %q, want read", state)
	}
}

func TestDuplicateReadSendsSingleReceipt(t *testing.T) {
	f := newAckFixture()
	ctx := context.Background()

	f.sink.connect("alice")
	err := f.registry.Register(ctx, &entity.Connection{ConnID: "c1", UserID: "alice"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := f.acks.TrackPending(ctx, "e-1", "bob"); err != nil {
		t.Fatalf("track: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := f.service.MarkRead(ctx, "e-1", "bob", "alice"); err != nil {
			t.Fatalf("mark read: %v", err)
		}
	}

	if types := f.sink.frameTypes("alice"); len(types) != 1 {
		t.Fatalf("got %d receipts, want 1", len(types))
	}
}
