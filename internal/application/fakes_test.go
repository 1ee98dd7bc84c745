package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/ports/out"
)

// fakeSink 测试用出站投递，记录每个用户收到的帧
type fakeSink struct {
	mu        sync.Mutex
	connected map[string]bool
	sent      map[string][][]byte
	failAfter map[string]int // 达到该发送次数后开始报错
	sendDelay time.Duration
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		connected: make(map[string]bool),
		sent:      make(map[string][][]byte),
		failAfter: make(map[string]int),
	}
}

func (f *fakeSink) connect(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[userID] = true
}

func (f *fakeSink) disconnect(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[userID] = false
}

func (f *fakeSink) Send(userID string, payload []byte) error {
	if f.sendDelay > 0 {
		time.Sleep(f.sendDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected[userID] {
		return out.ErrNotConnected
	}
	if limit, ok := f.failAfter[userID]; ok && len(f.sent[userID]) >= limit {
		return errors.New("write to peer failed")
	}
	f.sent[userID] = append(f.sent[userID], payload)
	return nil
}

func (f *fakeSink) SendTo(connID string, payload []byte) error {
	return errors.New("not supported in fake")
}

func (f *fakeSink) Connections(userID string) []out.Connection {
	return nil
}

func (f *fakeSink) frames(userID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	frames := make([][]byte, len(f.sent[userID]))
	copy(frames, f.sent[userID])
	return frames
}

// frameTypes 解出用户收到的全部帧类型
func (f *fakeSink) frameTypes(userID string) []string {
	var types []string
	for _, raw := range f.frames(userID) {
		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &frame); err == nil {
			types = append(types, frame.Type)
		}
	}
	return types
}

// eventIDs 解出用户收到的事件帧里的 event_id 序列
func (f *fakeSink) eventIDs(userID string) []string {
	var ids []string
	for _, raw := range f.frames(userID) {
		var frame struct {
			Data struct {
				EventID string `json:"event_id"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err == nil && frame.Data.EventID != "" {
			ids = append(ids, frame.Data.EventID)
		}
	}
	return ids
}

// fakeCallRecords 测试用通话归档仓储
type fakeCallRecords struct {
	mu    sync.Mutex
	saved []*entity.CallRecord
}

func (f *fakeCallRecords) Save(ctx context.Context, record *entity.CallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, record)
	return nil
}

func (f *fakeCallRecords) ListByUser(ctx context.Context, userID string, limit int) ([]*entity.CallRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*entity.CallRecord
	for _, record := range f.saved {
		if record.CallerID == userID || record.CalleeID == userID {
			result = append(result, record)
		}
	}
	return result, nil
}

func (f *fakeCallRecords) all() []*entity.CallRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	records := make([]*entity.CallRecord, len(f.saved))
	copy(records, f.saved)
	return records
}

func testEvent(id, origin string) *entity.Event {
	return &entity.Event{
		EventID:      id,
		Kind:         entity.EventKindMessage,
		OriginUserID: origin,
		Payload:      json.RawMessage(`{"text":"hello"}`),
		CreatedAt:    time.Now(),
	}
}

func eventSeq(prefix, origin string, n int) []*entity.Event {
	events := make([]*entity.Event, n)
	for i := range events {
		events[i] = testEvent(fmt.Sprintf("%s-%d", prefix, i+1), origin)
	}
	return events
}
