package memory

import (
	"context"
	"sort"
	"testing"
	"time"
)

func TestTypingExpiresAfterTTL(t *testing.T) {
	s := NewTypingStore(50 * time.Millisecond)
	ctx := context.Background()

	s.SetTyping(ctx, "chat-1", "alice")
	users, _ := s.TypingUsers(ctx, "chat-1")
	if len(users) != 1 || users[0] != "alice" {
		t.Fatalf("typing users = %v", users)
	}

	time.Sleep(80 * time.Millisecond)
	users, _ = s.TypingUsers(ctx, "chat-1")
	if len(users) != 0 {
		t.Fatalf("stale flag survived: %v", users)
	}
}

func TestTypingRefreshExtendsTTL(t *testing.T) {
	s := NewTypingStore(60 * time.Millisecond)
	ctx := context.Background()

	s.SetTyping(ctx, "chat-1", "alice")
	time.Sleep(40 * time.Millisecond)
	s.SetTyping(ctx, "chat-1", "alice")
	time.Sleep(40 * time.Millisecond)

	users, _ := s.TypingUsers(ctx, "chat-1")
	if len(users) != 1 {
		t.Fatalf("refreshed flag expired early: %v", users)
	}
}

func TestClearTypingRemovesFlag(t *testing.T) {
	s := NewTypingStore(time.Minute)
	ctx := context.Background()

	s.SetTyping(ctx, "chat-1", "alice")
	s.SetTyping(ctx, "chat-1", "bob")
	s.ClearTyping(ctx, "chat-1", "alice")

	users, _ := s.TypingUsers(ctx, "chat-1")
	if len(users) != 1 || users[0] != "bob" {
		t.Fatalf("typing users = %v, want only bob", users)
	}
}

func TestTypingIsScopedPerChat(t *testing.T) {
	s := NewTypingStore(time.Minute)
	ctx := context.Background()

	s.SetTyping(ctx, "chat-1", "alice")
	s.SetTyping(ctx, "chat-2", "alice")
	s.SetTyping(ctx, "chat-2", "bob")

	users, _ := s.TypingUsers(ctx, "chat-2")
	sort.Strings(users)
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("chat-2 users = %v", users)
	}

	s.ClearTyping(ctx, "chat-2", "alice")
	users, _ = s.TypingUsers(ctx, "chat-1")
	if len(users) != 1 {
		t.Fatalf("chat-1 affected by chat-2 clear: %v", users)
	}
}
