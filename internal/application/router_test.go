package application

import (
	"context"
	"testing"
	"time"

	"github.com/albin6/social-realtime/internal/adapters/out/memory"
	"github.com/albin6/social-realtime/internal/domain/entity"
)

const queueCap = 100

type routerFixture struct {
	registry *memory.Registry
	queue    *memory.Queue
	acks     *memory.AckStore
	sink     *fakeSink
	router   *RouterService
}

func newRouterFixture(capacity int) *routerFixture {
	registry := memory.NewRegistry(time.Hour)
	queue := memory.NewQueue(capacity)
	acks := memory.NewAckStore()
	sink := newFakeSink()
	return &routerFixture{
		registry: registry,
		queue:    queue,
		acks:     acks,
		sink:     sink,
		router:   NewRouterService(registry, queue, acks, sink),
	}
}

// goOnline 登记连接并打开 sink
func (f *routerFixture) goOnline(t *testing.T, userID string) {
	t.Helper()
	f.sink.connect(userID)
	err := f.registry.Register(context.Background(), &entity.Connection{
		ConnID: userID + "-conn-1",
		UserID: userID,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
}

func TestRouteDeliversLiveToOnlineUser(t *testing.T) {
	f := newRouterFixture(queueCap)
	ctx := context.Background()
	f.goOnline(t, "bob")

	result, err := f.router.Route(ctx, testEvent("e-1", "alice"), []string{"bob"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got := result.Outcomes["bob"]; got != entity.OutcomeDeliveredLive {
		t.Fatalf("outcome = %q, want delivered_live", got)
	}

	if ids := f.sink.eventIDs("bob"); len(ids) != 1 || ids[0] != "e-1" {
		t.Fatalf("bob received %v, want [e-1]", ids)
	}

	state, _ := f.acks.StateOf(ctx, "e-1", "bob")
	if state != entity.DeliveryStateDelivered {
		t.Fatalf("ack state = %q, want delivered", state)
	}
}

func TestRouteQueuesForOfflineUser(t *testing.T) {
	f := newRouterFixture(queueCap)
	ctx := context.Background()

	result, err := f.router.Route(ctx, testEvent("e-1", "alice"), []string{"bob"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got := result.Outcomes["bob"]; got != entity.OutcomeQueued {
		t.Fatalf("outcome = %q, want queued", got)
	}

	depth, _ := f.queue.PeekCount(ctx, "bob")
	if depth != 1 {
		t.Fatalf("queue depth = %d, want 1", depth)
	}

	state, _ := f.acks.StateOf(ctx, "e-1", "bob")
	if state != entity.DeliveryStatePending {
		t.Fatalf("ack state = %q, want pending", state)
	}
}

func TestRouteSkipsOrigin(t *testing.T) {
	f := newRouterFixture(queueCap)
	f.goOnline(t, "alice")
	f.goOnline(t, "bob")

	result, err := f.router.Route(context.Background(), testEvent("e-1", "alice"), []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if _, ok := result.Outcomes["alice"]; ok {
		t.Fatal("origin must not receive its own event")
	}
	if len(f.sink.frames("alice")) != 0 {
		t.Fatal("origin sink must stay empty")
	}
	if _, ok := result.Outcomes["bob"]; !ok {
		t.Fatal("bob missing from outcomes")
	}
}

func TestRouteRecipientsAreIndependent(t *testing.T) {
	f := newRouterFixture(queueCap)
	ctx := context.Background()
	f.goOnline(t, "bob")

	result, err := f.router.Route(ctx, testEvent("e-1", "alice"), []string{"bob", "carol"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	if got := result.Outcomes["bob"]; got != entity.OutcomeDeliveredLive {
		t.Fatalf("bob outcome = %q, want delivered_live", got)
	}
	if got := result.Outcomes["carol"]; got != entity.OutcomeQueued {
		t.Fatalf("carol outcome = %q, want queued", got)
	}
}

func TestRouteFallsBackToQueueOnSendFailure(t *testing.T) {
	f := newRouterFixture(queueCap)
	ctx := context.Background()

	// 注册表认为在线，但本节点写不进去（多实例下连接在别的节点）
	err := f.registry.Register(ctx, &entity.Connection{ConnID: "c1", UserID: "bob"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := f.router.Route(ctx, testEvent("e-1", "alice"), []string{"bob"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got := result.Outcomes["bob"]; got != entity.OutcomeQueued {
		t.Fatalf("outcome = %q, want queued", got)
	}
}

func TestQueueCapacityEvictsOldest(t *testing.T) {
	f := newRouterFixture(3)
	ctx := context.Background()

	for _, event := range eventSeq("e", "alice", 5) {
		if _, err := f.router.Route(ctx, event, []string{"bob"}); err != nil {
			t.Fatalf("route: %v", err)
		}
	}

	depth, _ := f.queue.PeekCount(ctx, "bob")
	if depth != 3 {
		t.Fatalf("queue depth = %d, want 3", depth)
	}
	if evicted := f.queue.EvictedCount(); evicted != 2 {
		t.Fatalf("evicted = %d, want 2", evicted)
	}

	f.goOnline(t, "bob")
	if _, err := f.router.DrainBacklog(ctx, "bob"); err != nil {
		t.Fatalf("drain: %v", err)
	}

	want := []string{"e-3", "e-4", "e-5"}
	got := f.sink.eventIDs("bob")
	if len(got) != len(want) {
		t.Fatalf("drained %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drained %v, want %v", got, want)
		}
	}
}

func TestDrainBacklogPreservesOrder(t *testing.T) {
	f := newRouterFixture(queueCap)
	ctx := context.Background()

	events := eventSeq("e", "alice", 4)
	for _, event := range events {
		if _, err := f.router.Route(ctx, event, []string{"bob"}); err != nil {
			t.Fatalf("route: %v", err)
		}
	}

	f.goOnline(t, "bob")
	drained, err := f.router.DrainBacklog(ctx, "bob")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if drained != 4 {
		t.Fatalf("drained = %d, want 4", drained)
	}

	got := f.sink.eventIDs("bob")
	for i, event := range events {
		if got[i] != event.EventID {
			t.Fatalf("order broken: got %v", got)
		}
	}

	for _, event := range events {
		state, _ := f.acks.StateOf(ctx, event.EventID, "bob")
		if state != entity.DeliveryStateDelivered {
			t.Fatalf("%s state = %q, want delivered", event.EventID, state)
		}
	}
}

func TestDrainBacklogReenqueuesRemainderOnFailure(t *testing.T) {
	f := newRouterFixture(queueCap)
	ctx := context.Background()

	for _, event := range eventSeq("e", "alice", 3) {
		if _, err := f.router.Route(ctx, event, []string{"bob"}); err != nil {
			t.Fatalf("route: %v", err)
		}
	}

	f.goOnline(t, "bob")
	f.sink.failAfter["bob"] = 1

	drained, err := f.router.DrainBacklog(ctx, "bob")
	if err == nil {
		t.Fatal("expected drain to report the send failure")
	}
	if drained != 1 {
		t.Fatalf("drained = %d, want 1", drained)
	}

	depth, _ := f.queue.PeekCount(ctx, "bob")
	if depth != 2 {
		t.Fatalf("queue depth after failure = %d, want 2", depth)
	}

	// 恢复后再补投，顺序不乱
	delete(f.sink.failAfter, "bob")
	if _, err := f.router.DrainBacklog(ctx, "bob"); err != nil {
		t.Fatalf("second drain: %v", err)
	}

	want := []string{"e-1", "e-2", "e-3"}
	got := f.sink.eventIDs("bob")
	if len(got) != len(want) {
		t.Fatalf("received %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("received %v, want %v", got, want)
		}
	}
}

func TestRegisterAndDrainBlocksNewEventsUntilBacklogDone(t *testing.T) {
	f := newRouterFixture(queueCap)
	ctx := context.Background()

	backlog := eventSeq("old", "alice", 3)
	for _, event := range backlog {
		if _, err := f.router.Route(ctx, event, []string{"bob"}); err != nil {
			t.Fatalf("route: %v", err)
		}
	}

	f.sink.connect("bob")
	f.sink.sendDelay = 2 * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.router.RegisterAndDrain(ctx, &entity.Connection{ConnID: "c1", UserID: "bob"})
	}()

	// 补投进行中并发路由一条新事件
	time.Sleep(time.Millisecond)
	if _, err := f.router.Route(ctx, testEvent("new-1", "alice"), []string{"bob"}); err != nil {
		t.Fatalf("route: %v", err)
	}
	<-done

	got := f.sink.eventIDs("bob")
	if len(got) != 4 {
		t.Fatalf("received %v, want 3 backlog + 1 new", got)
	}
	if got[len(got)-1] != "new-1" {
		t.Fatalf("new event must arrive last, got %v", got)
	}
	for i, event := range backlog {
		if got[i] != event.EventID {
			t.Fatalf("backlog order broken: %v", got)
		}
	}
}

func TestRouteFansOutToAllRecipients(t *testing.T) {
	f := newRouterFixture(queueCap)
	ctx := context.Background()

	recipients := []string{"bob", "carol", "dave"}
	for _, userID := range recipients {
		f.goOnline(t, userID)
	}

	result, err := f.router.Route(ctx, testEvent("e-1", "alice"), recipients)
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	for _, userID := range recipients {
		if got := result.Outcomes[userID]; got != entity.OutcomeDeliveredLive {
			t.Fatalf("%s outcome = %q, want delivered_live", userID, got)
		}
		if ids := f.sink.eventIDs(userID); len(ids) != 1 || ids[0] != "e-1" {
			t.Fatalf("%s received %v", userID, ids)
		}
	}
}
