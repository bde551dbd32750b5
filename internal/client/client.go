package client

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"conversation-service/internal/models"
)

// State of the live connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

type Options struct {
	// LiveURL is the websocket endpoint, e.g. ws://host/ws.
	LiveURL string
	// BaseURL is the fallback API root, e.g. http://host/api.
	BaseURL    string
	Token      string
	UserID     int
	AckTimeout time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// StableAfter is how long a connection must stay up before the backoff resets.
	StableAfter time.Duration
	WriteWait   time.Duration
	Dialer      *websocket.Dialer
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

func (o *Options) defaults() {
	if o.AckTimeout <= 0 {
		o.AckTimeout = 5 * time.Second
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = 30 * time.Second
	}
	if o.StableAfter <= 0 {
		o.StableAfter = 10 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type ackResult struct {
	ack models.Ack
	err error
}

// Client keeps one live connection to the hub, falls back to the HTTP API when it is
// unavailable and maintains local timelines and unread badges.
type Client struct {
	opts   Options
	api    *API
	logger *zap.Logger
	inbox  *Inbox

	mu        sync.Mutex
	state     State
	changed   chan struct{}
	conn      *websocket.Conn
	pending   map[string]chan ackResult
	tracked   map[int]struct{}
	timelines map[int]*Timeline
	subs      map[int]func(models.Envelope)
	nextSub   int
	closed    bool

	writeMu sync.Mutex
}

func New(opts Options) *Client {
	opts.defaults()
	return &Client{
		opts:      opts,
		api:       NewAPI(opts.BaseURL, opts.Token, opts.HTTPClient),
		logger:    opts.Logger,
		inbox:     NewInbox(opts.UserID),
		changed:   make(chan struct{}),
		pending:   make(map[string]chan ackResult),
		tracked:   make(map[int]struct{}),
		timelines: make(map[int]*Timeline),
		subs:      make(map[int]func(models.Envelope)),
	}
}

func (c *Client) API() *API { return c.api }

func (c *Client) Inbox() *Inbox { return c.inbox }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == s {
		return
	}
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}

// WaitState blocks until the connection reaches want or ctx is done.
func (c *Client) WaitState(ctx context.Context, want State) error {
	for {
		c.mu.Lock()
		state, changed := c.state, c.changed
		c.mu.Unlock()
		if state == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Timeline returns the local timeline of a conversation, creating it on first use.
func (c *Client) Timeline(conversationID int) *Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.timelines[conversationID]
	if !ok {
		t = NewTimeline()
		c.timelines[conversationID] = t
	}
	return t
}

// Subscription is a scoped listener handle. Release it when the consumer goes away.
type Subscription struct {
	once    sync.Once
	release func()
}

func (s *Subscription) Release() {
	s.once.Do(s.release)
}

// Subscribe registers fn for every inbound event except acks. fn runs on the read
// goroutine and must not block.
func (c *Client) Subscribe(fn func(models.Envelope)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return &Subscription{release: func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}}
}

// Run keeps the live connection up until ctx is done, reconnecting with jittered
// exponential backoff. The backoff only resets after a connection outlived StableAfter.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		if c.isClosed() {
			return ErrClosed
		}
		c.setState(StateConnecting)
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.LiveURL, http.Header{"Authorization": {"Bearer " + c.opts.Token}})
		if err != nil {
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("live connect failed", zap.Error(err))
		} else {
			started := time.Now()
			c.serve(ctx, conn)
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if time.Since(started) >= c.opts.StableAfter {
				backoff = c.opts.MinBackoff
				continue
			}
			c.logger.Warn("live connection dropped early", zap.Duration("uptime", time.Since(started)))
		}

		wait := jittered(backoff, c.opts.MaxBackoff)
		c.logger.Debug("live reconnect scheduled", zap.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff = growBackoff(backoff, c.opts.MaxBackoff)
	}
}

func growBackoff(current, ceiling time.Duration) time.Duration {
	if current*2 < ceiling {
		return current * 2
	}
	return ceiling
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)
	c.logger.Info("live channel connected", zap.Int("user_id", c.opts.UserID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.readLoop(conn)
	}()

	c.onConnect(ctx)

	select {
	case <-done:
	case <-ctx.Done():
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
		<-done
	}

	c.mu.Lock()
	c.conn = nil
	for id, ch := range c.pending {
		ch <- ackResult{err: ErrNotConnected}
		delete(c.pending, id)
	}
	c.mu.Unlock()
	c.logger.Info("live channel disconnected", zap.Int("user_id", c.opts.UserID))
}

// onConnect re-joins every tracked conversation. Subscriptions never survive a
// connection on the server, so this runs on every connect.
func (c *Client) onConnect(ctx context.Context) {
	for _, id := range c.trackedIDs() {
		if _, err := c.request(ctx, models.EventJoinConversation, models.JoinConversation{ConversationID: id}); err != nil {
			c.logger.Warn("rejoin failed", zap.Int("conversation_id", id), zap.Error(err))
		}
	}
}

func (c *Client) trackedIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int, 0, len(c.tracked))
	for id := range c.tracked {
		ids = append(ids, id)
	}
	return ids
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("live read failed", zap.Error(err))
			}
			_ = conn.Close()
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn("undecodable frame", zap.Error(err))
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env models.Envelope) {
	switch env.Event {
	case models.EventAck:
		var ack models.Ack
		if err := env.Decode(&ack); err != nil {
			c.logger.Warn("bad ack", zap.Error(err))
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[env.RequestID]
		delete(c.pending, env.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- ackResult{ack: ack}
		}
		return
	case models.EventMessage:
		var msg models.Message
		if err := env.Decode(&msg); err == nil {
			c.absorb(msg)
		}
	case models.EventMessageUpdated:
		var msg models.Message
		if err := env.Decode(&msg); err == nil {
			if !c.Timeline(msg.ConversationID).Update(msg) {
				c.Timeline(msg.ConversationID).Merge(msg)
			}
		}
	case models.EventConversationRead:
		var read models.ConversationRead
		if err := env.Decode(&read); err == nil && read.UserID == c.opts.UserID {
			c.inbox.Clear(read.ConversationID)
		}
	}

	c.mu.Lock()
	fns := make([]func(models.Envelope), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(env)
	}
}

// absorb merges a message into its timeline and counts it once towards the badge.
func (c *Client) absorb(msg models.Message) {
	if c.Timeline(msg.ConversationID).Merge(msg) == 0 {
		return
	}
	if st, ok := msg.StateFor(c.opts.UserID); ok && st.Read {
		return
	}
	c.inbox.Incoming(msg.ConversationID, msg.ID, msg.AuthorID)
}

// request sends one inbound event and waits for its ack. A late ack for a request
// that already timed out is dropped.
func (c *Client) request(ctx context.Context, event models.EventName, payload any) (models.Ack, error) {
	requestID := uuid.NewString()
	env, err := models.NewEnvelope(event, requestID, payload)
	if err != nil {
		return models.Ack{}, err
	}

	ch := make(chan ackResult, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.state != StateConnected {
		c.mu.Unlock()
		return models.Ack{}, ErrNotConnected
	}
	c.pending[requestID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	err = conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(requestID)
		return models.Ack{}, ErrNotConnected
	}

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.ack, res.err
	case <-timer.C:
		c.dropPending(requestID)
		return models.Ack{}, ErrAckTimeout
	case <-ctx.Done():
		c.dropPending(requestID)
		return models.Ack{}, ctx.Err()
	}
}

func (c *Client) dropPending(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// Join tracks a conversation so every future connection re-joins it, and joins now
// when connected. A rejected join stops tracking.
func (c *Client) Join(ctx context.Context, conversationID int) error {
	c.mu.Lock()
	c.tracked[conversationID] = struct{}{}
	c.mu.Unlock()

	ack, err := c.request(ctx, models.EventJoinConversation, models.JoinConversation{ConversationID: conversationID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	if err != nil {
		return err
	}
	if ack.Status != models.AckOK {
		c.mu.Lock()
		delete(c.tracked, conversationID)
		c.mu.Unlock()
		return ErrJoinRejected
	}
	return nil
}

// Leave stops tracking a conversation and unsubscribes the live session.
func (c *Client) Leave(ctx context.Context, conversationID int) error {
	c.mu.Lock()
	delete(c.tracked, conversationID)
	c.mu.Unlock()

	_, err := c.request(ctx, models.EventLeaveConversation, models.LeaveConversation{ConversationID: conversationID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Send posts a message on the live channel and falls back to the HTTP API when the
// channel is down, the ack times out or the server reports a transient failure.
// Both attempts carry the same client_message_id, so one message is stored.
func (c *Client) Send(ctx context.Context, conversationID int, content string, attachments ...models.AttachmentInput) (models.Message, error) {
	in := models.SendMessage{
		ConversationID:  conversationID,
		Content:         content,
		Attachments:     attachments,
		ClientMessageID: uuid.NewString(),
	}

	ack, err := c.request(ctx, models.EventSendMessage, in)
	if err == nil {
		if ack.Status == models.AckOK && ack.Message != nil {
			c.absorb(*ack.Message)
			return *ack.Message, nil
		}
		err = &RequestError{Code: ack.Code, Reason: ack.Reason}
	}
	if !Retryable(err) || ctx.Err() != nil {
		return models.Message{}, err
	}

	c.logger.Info("live send unavailable, using fallback",
		zap.Int("conversation_id", conversationID),
		zap.String("client_message_id", in.ClientMessageID),
		zap.Error(err))
	msg, err := c.api.PostMessage(ctx, in)
	if err != nil {
		return models.Message{}, err
	}
	c.absorb(msg)
	return msg, nil
}

// MarkRead marks the conversation read and clears the local badge. Other sessions
// of the user are notified by the server.
func (c *Client) MarkRead(ctx context.Context, conversationID int, messageIDs ...int) error {
	var ids []int
	if len(messageIDs) > 0 {
		ids = messageIDs
	}

	ack, err := c.request(ctx, models.EventMarkRead, models.MarkRead{ConversationID: conversationID, MessageIDs: ids})
	switch {
	case err == nil && ack.Status != models.AckOK:
		return &RequestError{Code: ack.Code, Reason: ack.Reason}
	case err != nil && Retryable(err):
		err = c.api.MarkRead(ctx, conversationID, ids)
	}
	if err != nil {
		return err
	}
	if ids == nil {
		c.inbox.Clear(conversationID)
	}
	return nil
}

// Sync fetches the backlog of a conversation, merges it into the timeline and
// reloads the badge from the server count.
func (c *Client) Sync(ctx context.Context, conversationID int) error {
	msgs, err := c.api.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	c.Timeline(conversationID).Merge(msgs...)
	unread, err := c.api.UnreadCount(ctx, conversationID)
	if err != nil {
		return err
	}
	c.inbox.Set(conversationID, unread)
	return nil
}

// Close releases every subscription and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.subs = make(map[int]func(models.Envelope))
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func jittered(base, ceiling time.Duration) time.Duration {
	delta := (rand.Float64()*2 - 1) * 0.25
	wait := time.Duration(float64(base) * (1 + delta))
	if wait <= 0 {
		wait = base
	}
	if wait > ceiling {
		wait = ceiling
	}
	return wait
}
