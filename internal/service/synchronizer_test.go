package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/models"
)

func TestOfflineMemberCatchesUpAndReads(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	conv, err := f.dir.CreateGroup(ctx, "Trio", 1, []int{2, 3})
	require.NoError(t, err)

	_, err = f.pipe.SendLive(ctx, "a-1", SendInput{ConversationID: conv.ID, AuthorID: 1, Content: "hola"})
	require.NoError(t, err)

	history, err := f.pipe.Fetch(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hola", history[0].Content)

	unread, err := f.sync.UnreadCount(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	result, err := f.sync.MarkRead(ctx, "", conv.ID, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{history[0].ID}, result.MessageIDs)

	unread, err = f.sync.UnreadCount(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, unread)

	// The author never counts their own message.
	unread, err = f.sync.UnreadCount(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, unread)
}

func TestMarkReadOnlyAppliesToExistingMessages(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	conv, _, err := f.dir.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	for _, text := range []string{"one", "two"} {
		_, err := f.pipe.SendFallback(ctx, SendInput{ConversationID: conv.ID, AuthorID: 1, Content: text})
		require.NoError(t, err)
	}

	_, err = f.sync.MarkRead(ctx, "", conv.ID, 2, nil)
	require.NoError(t, err)

	_, err = f.pipe.SendFallback(ctx, SendInput{ConversationID: conv.ID, AuthorID: 1, Content: "three"})
	require.NoError(t, err)

	unread, err := f.sync.UnreadCount(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestMarkReadRestrictedToIDs(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	conv, _, err := f.dir.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	first, err := f.pipe.SendFallback(ctx, SendInput{ConversationID: conv.ID, AuthorID: 1, Content: "one"})
	require.NoError(t, err)
	_, err = f.pipe.SendFallback(ctx, SendInput{ConversationID: conv.ID, AuthorID: 1, Content: "two"})
	require.NoError(t, err)

	result, err := f.sync.MarkRead(ctx, "", conv.ID, 2, []int{})
	require.NoError(t, err)
	assert.Empty(t, result.MessageIDs)

	result, err = f.sync.MarkRead(ctx, "", conv.ID, 2, []int{first.ID})
	require.NoError(t, err)
	assert.Equal(t, []int{first.ID}, result.MessageIDs)

	unread, err := f.sync.UnreadCount(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestReadStateIsMonotonic(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	conv, _, err := f.dir.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	msg, err := f.pipe.SendFallback(ctx, SendInput{ConversationID: conv.ID, AuthorID: 1, Content: "x"})
	require.NoError(t, err)

	_, err = f.sync.MarkRead(ctx, "", conv.ID, 2, nil)
	require.NoError(t, err)

	changed, err := f.sync.MarkDelivered(ctx, 2, msg.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	again, err := f.sync.MarkRead(ctx, "", conv.ID, 2, nil)
	require.NoError(t, err)
	assert.Empty(t, again.MessageIDs)

	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	st, ok := stored.StateFor(2)
	require.True(t, ok)
	assert.True(t, st.Read)
	assert.True(t, st.Delivered)
}

func TestMarkDelivered(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	conv, _, err := f.dir.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	msg, err := f.pipe.SendFallback(ctx, SendInput{ConversationID: conv.ID, AuthorID: 1, Content: "x"})
	require.NoError(t, err)

	changed, err := f.sync.MarkDelivered(ctx, 2, msg.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.sync.MarkDelivered(ctx, 2, msg.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = f.sync.MarkDelivered(ctx, 3, msg.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.sync.MarkDelivered(ctx, 2, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkReadSyncsOtherSessionsOfReader(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	conv, _, err := f.dir.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	_, err = f.pipe.SendFallback(ctx, SendInput{ConversationID: conv.ID, AuthorID: 1, Content: "x"})
	require.NoError(t, err)

	_, err = f.sync.MarkRead(ctx, "phone", conv.ID, 2, nil)
	require.NoError(t, err)

	events := f.fanout.userEvents(models.EventConversationRead)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].userID)
	assert.Equal(t, "phone", events[0].skipSession)

	var payload models.ConversationRead
	require.NoError(t, events[0].env.Decode(&payload))
	assert.Equal(t, conv.ID, payload.ConversationID)
	assert.Equal(t, 2, payload.UserID)

	assert.Empty(t, f.fanout.roomEvents(models.EventMessageRead))
}

func TestReadReceiptsGoToOtherParticipants(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	conv, _, err := f.dir.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	msg, err := f.pipe.SendFallback(ctx, SendInput{ConversationID: conv.ID, AuthorID: 1, Content: "x"})
	require.NoError(t, err)

	_, err = f.sync.MarkRead(ctx, "", conv.ID, 2, nil)
	require.NoError(t, err)

	receipts := f.fanout.roomEvents(models.EventMessageRead)
	require.Len(t, receipts, 1)
	assert.Equal(t, Skip{UserID: 2}, receipts[0].skip)
	var payload models.MessageRead
	require.NoError(t, receipts[0].env.Decode(&payload))
	assert.Equal(t, msg.ID, payload.MessageID)

	// Nothing changed, so no new receipts.
	_, err = f.sync.MarkRead(ctx, "", conv.ID, 2, nil)
	require.NoError(t, err)
	assert.Len(t, f.fanout.roomEvents(models.EventMessageRead), 1)
}

func TestChatList(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	private, _, err := f.dir.CreatePrivate(ctx, 1, 2)
	require.NoError(t, err)
	group, err := f.dir.CreateGroup(ctx, "Ops", 3, []int{1, 2})
	require.NoError(t, err)

	_, err = f.pipe.SendFallback(ctx, SendInput{ConversationID: private.ID, AuthorID: 2, Content: "p1"})
	require.NoError(t, err)
	last, err := f.pipe.SendFallback(ctx, SendInput{ConversationID: group.ID, AuthorID: 3, Content: "g1"})
	require.NoError(t, err)

	items, err := f.sync.ChatList(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, group.ID, items[0].Conversation.ID)
	require.NotNil(t, items[0].LastMessage)
	assert.Equal(t, last.ID, items[0].LastMessage.ID)
	assert.Equal(t, 1, items[0].UnreadCount)
	assert.Equal(t, private.ID, items[1].Conversation.ID)
	assert.Equal(t, 1, items[1].UnreadCount)
}
