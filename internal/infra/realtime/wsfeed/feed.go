package wsfeed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"peerchat/internal/app/realtime"
	"peerchat/internal/domain/chat"
)

const (
	principalHeader = "X-User-ID"
	defaultBuffer   = 64
	closeWait       = time.Second
)

// Feed subscribes to one conversation's live endpoint. It implements
// realtime.Feed for a client that talks to the server over HTTP.
type Feed struct {
	BaseURL string
	Peer    chat.UserID
	Dialer  *websocket.Dialer
	Logger  *slog.Logger
	Buffer  int
}

func (f *Feed) Subscribe(ctx context.Context, user chat.UserID) (realtime.Subscription, error) {
	if user == "" || f.Peer == "" {
		return nil, chat.ErrParticipantRequired
	}
	endpoint, err := liveURL(f.BaseURL, f.Peer)
	if err != nil {
		return nil, err
	}
	dialer := f.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, http.Header{principalHeader: []string{string(user)}})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsfeed: dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("wsfeed: dial %s: %w", endpoint, err)
	}

	buffer := f.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &subscription{
		conn:    conn,
		frames:  make(chan []byte, buffer),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go sub.read(f.Logger)
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func liveURL(base string, peer chat.UserID) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("wsfeed: base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/v1/conversations/" + url.PathEscape(string(peer)) + "/live"
	return u.String(), nil
}

type subscription struct {
	conn    *websocket.Conn
	frames  chan []byte
	done    chan struct{}
	closing chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

func (s *subscription) read(logger *slog.Logger) {
	defer close(s.done)
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err, logger)
			return
		}
		select {
		case s.frames <- data:
		case <-s.closing:
			return
		}
	}
}

// finish records why the stream ended. A local close or a normal close from the
// server is not an error; anything else means the feed dropped us.
func (s *subscription) finish(err error, logger *slog.Logger) {
	select {
	case <-s.closing:
		return
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return
	}
	if logger != nil {
		logger.Warn("live feed ended", "error", err)
	}
	s.mu.Lock()
	s.err = fmt.Errorf("%w: %v", chat.ErrSubscriptionDropped, err)
	s.mu.Unlock()
}

func (s *subscription) Frames() <-chan []byte { return s.frames }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.closing)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWait))
		_ = s.conn.Close()
		<-s.done
	})
	return nil
}

var _ realtime.Feed = (*Feed)(nil)
