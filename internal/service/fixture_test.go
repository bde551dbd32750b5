package service

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"conversation-service/internal/idempotency"
	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
)

type roomBroadcast struct {
	conversationID int
	env            models.Envelope
	skip           Skip
}

type userBroadcast struct {
	userID      int
	env         models.Envelope
	skipSession string
}

type fakeFanout struct {
	mu           sync.Mutex
	rooms        []roomBroadcast
	users        []userBroadcast
	unsubscribed map[int][]int
}

func newFakeFanout() *fakeFanout {
	return &fakeFanout{unsubscribed: map[int][]int{}}
}

func (f *fakeFanout) BroadcastToConversation(conversationID int, env models.Envelope, skip Skip) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, roomBroadcast{conversationID, env, skip})
	return 1
}

func (f *fakeFanout) BroadcastToUser(userID int, env models.Envelope, skipSessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userBroadcast{userID, env, skipSessionID})
	return 1
}

func (f *fakeFanout) Unsubscribe(conversationID int, userIDs []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed[conversationID] = append(f.unsubscribed[conversationID], userIDs...)
}

func (f *fakeFanout) roomEvents(event models.EventName) []roomBroadcast {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []roomBroadcast
	for _, b := range f.rooms {
		if b.env.Event == event {
			out = append(out, b)
		}
	}
	return out
}

func (f *fakeFanout) userEvents(event models.EventName) []userBroadcast {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []userBroadcast
	for _, b := range f.users {
		if b.env.Event == event {
			out = append(out, b)
		}
	}
	return out
}

func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type fixture struct {
	store  *repositories.MemoryStore
	fanout *fakeFanout
	dir    *Directory
	pipe   *Pipeline
	sync   *Synchronizer
}

func newFixture(t *testing.T, readReceipts bool) *fixture {
	t.Helper()
	clock := tickingClock()
	store := repositories.NewMemoryStore(clock)
	fanout := newFakeFanout()
	logger := zap.NewNop()

	dir := NewDirectory(store, fanout, nil, logger)
	dir.now = clock
	pipe := NewPipeline(store, store, idempotency.NewMemoryStore(time.Minute), fanout, logger)
	pipe.now = clock
	syncer := NewSynchronizer(store, store, store, fanout, logger, readReceipts)
	syncer.now = clock

	return &fixture{store: store, fanout: fanout, dir: dir, pipe: pipe, sync: syncer}
}
