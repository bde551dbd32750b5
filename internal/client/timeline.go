package client

import (
	"sync"

	"conversation-service/internal/models"
)

// Timeline is the local view of one conversation. Messages merge by id, the first
// copy wins, and reads are always ordered by (createdAt, id) regardless of arrival.
type Timeline struct {
	mu   sync.RWMutex
	byID map[int]models.Message
}

func NewTimeline() *Timeline {
	return &Timeline{byID: make(map[int]models.Message)}
}

// Merge stores messages not seen before and returns how many were new.
func (t *Timeline) Merge(msgs ...models.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	added := 0
	for _, m := range msgs {
		if _, ok := t.byID[m.ID]; ok {
			continue
		}
		t.byID[m.ID] = m
		added++
	}
	return added
}

// Update replaces a known message with its edited or deleted version.
func (t *Timeline) Update(msg models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[msg.ID]; !ok {
		return false
	}
	t.byID[msg.ID] = msg
	return true
}

func (t *Timeline) Has(id int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byID[id]
	return ok
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Messages returns a sorted copy.
func (t *Timeline) Messages() []models.Message {
	t.mu.RLock()
	out := make([]models.Message, 0, len(t.byID))
	for _, m := range t.byID {
		out = append(out, m)
	}
	t.mu.RUnlock()
	models.SortMessages(out)
	return out
}
