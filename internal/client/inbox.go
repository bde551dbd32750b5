package client

import "sync"

// Inbox keeps the unread badge per conversation for one user.
type Inbox struct {
	mu     sync.Mutex
	userID int
	badges map[int]int
	seen   map[int]struct{}
}

func NewInbox(userID int) *Inbox {
	return &Inbox{userID: userID, badges: make(map[int]int), seen: make(map[int]struct{})}
}

// Incoming counts a message from someone else once per message id.
func (i *Inbox) Incoming(conversationID, messageID, authorID int) {
	if authorID == i.userID {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.seen[messageID]; ok {
		return
	}
	i.seen[messageID] = struct{}{}
	i.badges[conversationID]++
}

// Clear zeroes the badge, e.g. after a conversation_read from any session of the user.
func (i *Inbox) Clear(conversationID int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.badges, conversationID)
}

// Set replaces the badge with a server-computed count.
func (i *Inbox) Set(conversationID, count int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if count <= 0 {
		delete(i.badges, conversationID)
		return
	}
	i.badges[conversationID] = count
}

func (i *Inbox) Badge(conversationID int) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.badges[conversationID]
}

// Total sums every badge.
func (i *Inbox) Total() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, b := range i.badges {
		n += b
	}
	return n
}
