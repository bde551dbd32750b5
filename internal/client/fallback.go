package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"conversation-service/internal/models"
)

// API is the request/response fallback used when the live channel is unavailable.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewAPI(baseURL, token string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// PostMessage stores a message. The same ClientMessageID returns the already stored message.
func (a *API) PostMessage(ctx context.Context, in models.SendMessage) (models.Message, error) {
	var msg models.Message
	err := a.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/messages", in.ConversationID), in, &msg)
	return msg, err
}

func (a *API) ListMessages(ctx context.Context, conversationID int) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	err := a.do(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d/messages", conversationID), nil, &resp)
	return resp.Messages, err
}

func (a *API) MarkRead(ctx context.Context, conversationID int, messageIDs []int) error {
	var body any
	if messageIDs != nil {
		body = models.MarkRead{ConversationID: conversationID, MessageIDs: messageIDs}
	}
	return a.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/read", conversationID), body, nil)
}

func (a *API) UnreadCount(ctx context.Context, conversationID int) (int, error) {
	var resp struct {
		UnreadCount int `json:"unread_count"`
	}
	err := a.do(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d/unread", conversationID), nil, &resp)
	return resp.UnreadCount, err
}

func (a *API) ChatList(ctx context.Context) ([]models.ChatListItem, error) {
	var resp struct {
		Conversations []models.ChatListItem `json:"conversations"`
	}
	err := a.do(ctx, http.MethodGet, "/conversations", nil, &resp)
	return resp.Conversations, err
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return &RequestError{Code: CodeTransient, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Code == "" {
			e.Code = codeForStatus(resp.StatusCode)
		}
		return &RequestError{Code: e.Code, Reason: e.Error, Status: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	default:
		return CodeTransient
	}
}
