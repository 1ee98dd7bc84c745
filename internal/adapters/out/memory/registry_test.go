package memory

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/albin6/social-realtime/internal/domain/entity"
)

func conn(connID, userID string) *entity.Connection {
	return &entity.Connection{ConnID: connID, UserID: userID, Platform: "web"}
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry(time.Hour)
	ctx := context.Background()

	if err := r.Register(ctx, conn("c1", "alice")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ctx, conn("c1", "alice")); err != nil {
		t.Fatalf("repeated register: %v", err)
	}

	ids, _ := r.ConnectionsFor(ctx, "alice")
	if len(ids) != 1 {
		t.Fatalf("connections = %v, want exactly one", ids)
	}
}

func TestMultiDevicePresence(t *testing.T) {
	r := NewRegistry(time.Hour)
	ctx := context.Background()

	r.Register(ctx, conn("c1", "alice"))
	r.Register(ctx, conn("c2", "alice"))

	ids, _ := r.ConnectionsFor(ctx, "alice")
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "c1" || ids[1] != "c2" {
		t.Fatalf("connections = %v", ids)
	}

	// 只要还有一条连接就算在线
	if owner, _ := r.Unregister(ctx, "c1"); owner != "alice" {
		t.Fatalf("owner = %q, want alice", owner)
	}
	online, _ := r.IsOnline(ctx, "alice")
	if !online {
		t.Fatal("alice must stay online with one device left")
	}

	r.Unregister(ctx, "c2")
	online, _ = r.IsOnline(ctx, "alice")
	if online {
		t.Fatal("alice must be offline with no devices")
	}
}

func TestUnregisterUnknownConnection(t *testing.T) {
	r := NewRegistry(time.Hour)

	owner, err := r.Unregister(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if owner != "" {
		t.Fatalf("owner = %q, want empty", owner)
	}
}

func TestOnlineUsers(t *testing.T) {
	r := NewRegistry(time.Hour)
	ctx := context.Background()

	r.Register(ctx, conn("c1", "alice"))
	r.Register(ctx, conn("c2", "bob"))
	r.Register(ctx, conn("c3", "bob"))

	users, _ := r.OnlineUsers(ctx)
	sort.Strings(users)
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("online users = %v", users)
	}
}

func TestSweepExpiredRespectsTouch(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)
	ctx := context.Background()

	r.Register(ctx, conn("c1", "alice"))
	r.Register(ctx, conn("c2", "bob"))

	time.Sleep(30 * time.Millisecond)
	r.Touch(ctx, "c2")
	time.Sleep(30 * time.Millisecond)

	removed, err := r.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(removed) != 1 || removed[0].ConnID != "c1" {
		t.Fatalf("removed = %+v, want only c1", removed)
	}

	online, _ := r.IsOnline(ctx, "alice")
	if online {
		t.Fatal("alice must be offline after sweep")
	}
	online, _ = r.IsOnline(ctx, "bob")
	if !online {
		t.Fatal("touched bob must survive the sweep")
	}
}
