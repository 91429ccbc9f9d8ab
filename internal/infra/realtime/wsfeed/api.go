package wsfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"peerchat/internal/app/dto"
	"peerchat/internal/app/realtime"
	"peerchat/internal/domain/chat"
)

// APIClient calls the REST endpoints a realtime client needs: the thread batch
// fetch and send. Counterpart profiles returned with threads are cached and
// served through Profile.
type APIClient struct {
	BaseURL string
	HTTP    *http.Client

	mu       sync.RWMutex
	profiles map[chat.UserID]chat.Profile
}

func (c *APIClient) LoadThread(ctx context.Context, viewer, counterpart chat.UserID, since *time.Time) ([]chat.Message, error) {
	path := "/api/v1/conversations/" + url.PathEscape(string(counterpart)) + "/messages"
	if since != nil {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}
	var thread dto.Thread
	if err := c.do(ctx, http.MethodGet, path, viewer, nil, &thread); err != nil {
		return nil, err
	}
	c.remember(thread.Counterpart)

	out := make([]chat.Message, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		out = append(out, m.ToMessage())
	}
	return out, nil
}

// Send posts a text message and returns the stored message.
func (c *APIClient) Send(ctx context.Context, sender, receiver chat.UserID, text string) (chat.Message, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return chat.Message{}, err
	}
	var msg dto.ChatMessage
	path := "/api/v1/conversations/" + url.PathEscape(string(receiver)) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, sender, body, &msg); err != nil {
		return chat.Message{}, err
	}
	return msg.ToMessage(), nil
}

func (c *APIClient) Profile(_ context.Context, id chat.UserID) (chat.Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[id]
	if !ok {
		return chat.Profile{}, chat.ErrUserNotFound
	}
	return p, nil
}

func (c *APIClient) remember(p dto.Participant) {
	if p.ID == "" || p.Unknown {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profiles == nil {
		c.profiles = make(map[chat.UserID]chat.Profile)
	}
	c.profiles[chat.UserID(p.ID)] = chat.Profile{
		ID:        chat.UserID(p.ID),
		Name:      p.Name,
		AvatarRef: p.AvatarRef,
		Role:      p.Role,
	}
}

func (c *APIClient) do(ctx context.Context, method, path string, user chat.UserID, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set(principalHeader, string(user))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("wsfeed: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("wsfeed: %s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var (
	_ realtime.ThreadLoader    = (*APIClient)(nil)
	_ realtime.ProfileResolver = (*APIClient)(nil)
)
