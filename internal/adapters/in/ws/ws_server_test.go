package ws

import (
	"errors"
	"testing"

	"github.com/albin6/social-realtime/internal/ports/out"
)

func TestSendToUserWithoutConnections(t *testing.T) {
	m := NewConnectionManager()

	err := m.Send("ghost", []byte("hello"))
	if !errors.Is(err, out.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestSendFansOutToAllDevices(t *testing.T) {
	m := NewConnectionManager()

	c1 := newWSConnection(nil, "conn-1", "alice", "web")
	c2 := newWSConnection(nil, "conn-2", "alice", "ios")
	m.add(c1)
	m.add(c2)

	if err := m.Send("alice", []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, c := range []*WSConnection{c1, c2} {
		select {
		case payload := <-c.send:
			if string(payload) != "hello" {
				t.Fatalf("payload = %q", payload)
			}
		default:
			t.Fatalf("connection %s missed the frame", c.connID)
		}
	}
}

func TestRemoveLastConnectionMakesUserUnreachable(t *testing.T) {
	m := NewConnectionManager()

	c1 := newWSConnection(nil, "conn-1", "alice", "web")
	m.add(c1)
	if err := m.Send("alice", []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	m.remove(c1)
	if err := m.Send("alice", []byte("hello")); !errors.Is(err, out.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestSendToTargetsSingleConnection(t *testing.T) {
	m := NewConnectionManager()

	c1 := newWSConnection(nil, "conn-1", "alice", "web")
	c2 := newWSConnection(nil, "conn-2", "alice", "ios")
	m.add(c1)
	m.add(c2)

	if err := m.SendTo("conn-2", []byte("direct")); err != nil {
		t.Fatalf("send to: %v", err)
	}

	select {
	case <-c1.send:
		t.Fatal("conn-1 must not receive a direct frame for conn-2")
	default:
	}
	select {
	case payload := <-c2.send:
		if string(payload) != "direct" {
			t.Fatalf("payload = %q", payload)
		}
	default:
		t.Fatal("conn-2 missed the frame")
	}
}

func TestStatsCountConnectionsAndUsers(t *testing.T) {
	m := NewConnectionManager()

	m.add(newWSConnection(nil, "c1", "alice", "web"))
	m.add(newWSConnection(nil, "c2", "alice", "ios"))
	m.add(newWSConnection(nil, "c3", "bob", "web"))

	stats := m.Stats()
	if stats["connections"] != 3 {
		t.Fatalf("connections = %d, want 3", stats["connections"])
	}
	if stats["online_users"] != 2 {
		t.Fatalf("online_users = %d, want 2", stats["online_users"])
	}
}
