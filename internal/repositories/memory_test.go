package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/models"
)

func fixedClock(start time.Time) func() time.Time {
	return func() time.Time { return start }
}

func TestMemoryPrivatePairIsUnordered(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	first, created, err := s.FindOrCreatePrivate(ctx, 9, 4)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.FindOrCreatePrivate(ctx, 4, 9)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.KindPrivate, second.Kind)
	assert.Nil(t, second.CreatorID)
}

func TestMemoryCreateMessageDeduplicatesClientID(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	conv, _, err := s.FindOrCreatePrivate(ctx, 1, 2)
	require.NoError(t, err)

	clientID := "c-1"
	in := NewMessage{
		ConversationID:  conv.ID,
		AuthorID:        1,
		Content:         "hi",
		ClientMessageID: &clientID,
		Attachments:     []models.AttachmentInput{{URL: "https://cdn/x.png"}},
	}
	msg, created, err := s.CreateMessage(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, msg.Attachments, 1)
	require.Len(t, msg.States, 1)
	assert.Equal(t, 2, msg.States[0].UserID)
	assert.False(t, msg.States[0].Delivered)

	dup, created, err := s.CreateMessage(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, msg.ID, dup.ID)

	found, err := s.FindByClientID(ctx, conv.ID, 1, clientID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, found.ID)

	_, err = s.FindByClientID(ctx, conv.ID, 2, clientID)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, _, err = s.CreateMessage(ctx, NewMessage{ConversationID: 999, AuthorID: 1, Content: "x"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestMemoryMessagesOrderedByCreatedAtThenID(t *testing.T) {
	s := NewMemoryStore(fixedClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)))
	ctx := context.Background()
	conv, _, err := s.FindOrCreatePrivate(ctx, 1, 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _, err := s.CreateMessage(ctx, NewMessage{ConversationID: conv.ID, AuthorID: 1 + i%2, Content: "m"})
		require.NoError(t, err)
	}
	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i := 1; i < len(msgs); i++ {
		assert.Less(t, msgs[i-1].ID, msgs[i].ID)
	}

	last, err := s.LastMessage(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, msgs[4].ID, last.ID)
}

func TestMemoryReadStateTransitions(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	conv, err := s.CreateGroup(ctx, "Ops", 1, []int{2, 3})
	require.NoError(t, err)

	a, _, err := s.CreateMessage(ctx, NewMessage{ConversationID: conv.ID, AuthorID: 1, Content: "a"})
	require.NoError(t, err)
	b, _, err := s.CreateMessage(ctx, NewMessage{ConversationID: conv.ID, AuthorID: 2, Content: "b"})
	require.NoError(t, err)

	now := time.Now()
	changed, err := s.MarkDelivered(ctx, a.ID, 3, now)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.MarkDelivered(ctx, a.ID, 3, now)
	require.NoError(t, err)
	assert.False(t, changed)

	// User 2 authored b, so only a is theirs to read.
	ids, err := s.MarkRead(ctx, conv.ID, 2, nil, now)
	require.NoError(t, err)
	assert.Equal(t, []int{a.ID}, ids)

	unread, err := s.UnreadCount(ctx, conv.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	ids, err = s.MarkRead(ctx, conv.ID, 3, []int{b.ID}, now)
	require.NoError(t, err)
	assert.Equal(t, []int{b.ID}, ids)

	msg, err := s.GetMessage(ctx, b.ID)
	require.NoError(t, err)
	st, ok := msg.StateFor(3)
	require.True(t, ok)
	assert.True(t, st.Read)
	assert.True(t, st.Delivered)

	p, err := s.GetParticipant(ctx, conv.ID, 3)
	require.NoError(t, err)
	assert.NotNil(t, p.LastReadAt)
}

func TestMemoryMembership(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	conv, err := s.CreateGroup(ctx, "Ops", 1, []int{2, 3})
	require.NoError(t, err)
	_, _, err = s.CreateMessage(ctx, NewMessage{ConversationID: conv.ID, AuthorID: 1, Content: "old"})
	require.NoError(t, err)

	added, err := s.AddParticipants(ctx, conv.ID, []int{3, 4}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []int{4}, added)

	unread, err := s.UnreadCount(ctx, conv.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, unread)

	removed, err := s.RemoveParticipants(ctx, conv.ID, []int{1, 4})
	require.NoError(t, err)
	assert.Equal(t, []int{4}, removed)

	member, err := s.IsParticipant(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.True(t, member)

	renamed, err := s.Rename(ctx, conv.ID, "Platform")
	require.NoError(t, err)
	assert.Equal(t, "Platform", renamed.DisplayName)

	_, err = s.AddParticipants(ctx, 404, []int{1}, time.Now())
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestMemoryCreateMessageTracksMembersAddedBeforeInsert(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	conv, err := s.CreateGroup(ctx, "Ops", 1, []int{2, 3})
	require.NoError(t, err)

	// Member 4 joins after the sender looked at the room but before the insert.
	_, err = s.AddParticipants(ctx, conv.ID, []int{4}, time.Now())
	require.NoError(t, err)
	msg, _, err := s.CreateMessage(ctx, NewMessage{ConversationID: conv.ID, AuthorID: 1, Content: "hello"})
	require.NoError(t, err)

	st, ok := msg.StateFor(4)
	require.True(t, ok)
	assert.False(t, st.Read)
	_, ok = msg.StateFor(1)
	assert.False(t, ok)

	unread, err := s.UnreadCount(ctx, conv.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	_, err = s.MarkRead(ctx, conv.ID, 4, nil, time.Now())
	require.NoError(t, err)
	unread, err = s.UnreadCount(ctx, conv.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, unread)
}

func TestMemoryEditAndDelete(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	conv, _, err := s.FindOrCreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	msg, _, err := s.CreateMessage(ctx, NewMessage{ConversationID: conv.ID, AuthorID: 1, Content: "typo"})
	require.NoError(t, err)

	edited, err := s.UpdateContent(ctx, msg.ID, "fixed", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)
	assert.NotNil(t, edited.EditedAt)

	deleted, err := s.SoftDelete(ctx, msg.ID, time.Now())
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedAt)

	_, err = s.UpdateContent(ctx, msg.ID, "again", time.Now())
	assert.ErrorIs(t, err, ErrMessageNotFound)
}
