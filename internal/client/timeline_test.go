package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"conversation-service/internal/models"
)

func ids(msgs []models.Message) []int {
	out := make([]int, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestTimelineOrderIsIndependentOfArrival(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m1 := models.Message{ID: 1, ConversationID: 5, CreatedAt: base}
	m2 := models.Message{ID: 2, ConversationID: 5, CreatedAt: base.Add(time.Second)}
	m3 := models.Message{ID: 3, ConversationID: 5, CreatedAt: base.Add(time.Second)}
	m4 := models.Message{ID: 4, ConversationID: 5, CreatedAt: base.Add(2 * time.Second)}

	arrivals := [][]models.Message{
		{m1, m2, m3, m4},
		{m4, m3, m2, m1},
		{m3, m1, m4, m2},
	}
	for _, order := range arrivals {
		tl := NewTimeline()
		// Live broadcast first, then an overlapping backlog.
		tl.Merge(order[:2]...)
		tl.Merge(order...)
		assert.Equal(t, []int{1, 2, 3, 4}, ids(tl.Messages()))
	}
}

func TestTimelineFirstCopyWins(t *testing.T) {
	tl := NewTimeline()
	first := models.Message{ID: 7, Content: "ack copy"}

	assert.Equal(t, 1, tl.Merge(first))
	assert.Equal(t, 0, tl.Merge(models.Message{ID: 7, Content: "echo copy"}))
	assert.Equal(t, 1, tl.Len())
	assert.Equal(t, "ack copy", tl.Messages()[0].Content)

	assert.True(t, tl.Update(models.Message{ID: 7, Content: "edited"}))
	assert.Equal(t, "edited", tl.Messages()[0].Content)
	assert.False(t, tl.Update(models.Message{ID: 8}))
}

func TestInboxCountsEachMessageOnce(t *testing.T) {
	in := NewInbox(1)

	in.Incoming(10, 100, 2)
	in.Incoming(10, 100, 2)
	in.Incoming(10, 101, 1)
	in.Incoming(11, 102, 3)
	assert.Equal(t, 1, in.Badge(10))
	assert.Equal(t, 2, in.Total())

	in.Clear(10)
	assert.Equal(t, 0, in.Badge(10))

	in.Set(11, 4)
	assert.Equal(t, 4, in.Badge(11))
	in.Set(11, 0)
	assert.Equal(t, 0, in.Total())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrAckTimeout))
	assert.True(t, Retryable(ErrNotConnected))
	assert.True(t, Retryable(&RequestError{Code: CodeTransient}))
	assert.False(t, Retryable(&RequestError{Code: CodeForbidden}))
	assert.False(t, Retryable(ErrJoinRejected))
}
