package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"peerchat/internal/domain/chat"
	"peerchat/internal/metrics"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateDisconnected State = iota
	StateSubscribing
	StateLive
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ThreadLoader is the batch fetch side: messages between viewer and counterpart,
// ascending, restricted to CreatedAt >= since when since is set.
type ThreadLoader interface {
	LoadThread(ctx context.Context, viewer, counterpart chat.UserID, since *time.Time) ([]chat.Message, error)
}

// ThreadLoaderFunc adapts a function to ThreadLoader.
type ThreadLoaderFunc func(ctx context.Context, viewer, counterpart chat.UserID, since *time.Time) ([]chat.Message, error)

func (f ThreadLoaderFunc) LoadThread(ctx context.Context, viewer, counterpart chat.UserID, since *time.Time) ([]chat.Message, error) {
	return f(ctx, viewer, counterpart, since)
}

// ProfileResolver resolves a single display identity.
type ProfileResolver interface {
	Profile(ctx context.Context, id chat.UserID) (chat.Profile, error)
}

var defaultBackoff = []time.Duration{500 * time.Millisecond, time.Second, 5 * time.Second}

// SessionConfig carries the optional collaborators of a Session.
type SessionConfig struct {
	Profiles ProfileResolver
	Logger   *slog.Logger
	// Backoff lists reconnect delays; the last one repeats until the feed comes back.
	Backoff []time.Duration
}

// Session is the explicit "current conversation" of one viewer. At most one subscription
// is live at a time: Open tears the previous one down before subscribing again, and
// frames from a torn down subscription are discarded.
type Session struct {
	viewer   chat.UserID
	feed     Feed
	loader   ThreadLoader
	profiles ProfileResolver
	logger   *slog.Logger
	backoff  []time.Duration

	mu          sync.Mutex
	state       State
	closed      bool
	generation  uint64
	counterpart chat.UserID
	timeline    *Timeline
	known       map[chat.UserID]chat.Profile
	cancel      context.CancelFunc
	done        chan struct{}

	updates chan struct{}
}

func NewSession(viewer chat.UserID, feed Feed, loader ThreadLoader, cfg SessionConfig) *Session {
	backoff := cfg.Backoff
	if len(backoff) == 0 {
		backoff = defaultBackoff
	}
	return &Session{
		viewer:   viewer,
		feed:     feed,
		loader:   loader,
		profiles: cfg.Profiles,
		logger:   cfg.Logger,
		backoff:  backoff,
		timeline: NewTimeline(),
		known:    make(map[chat.UserID]chat.Profile),
		updates:  make(chan struct{}, 1),
	}
}

// Open switches the session to counterpart: the previous subscription is torn down,
// a new one is established, and the initial batch is merged with whatever live frames
// already arrived.
func (s *Session) Open(ctx context.Context, counterpart chat.UserID) error {
	if counterpart == "" {
		return chat.ErrParticipantRequired
	}
	s.teardown()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return chat.ErrSessionClosed
	}
	s.generation++
	gen := s.generation
	s.counterpart = counterpart
	s.timeline = NewTimeline()
	s.known = make(map[chat.UserID]chat.Profile)
	s.state = StateSubscribing
	s.mu.Unlock()
	s.notify()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := s.feed.Subscribe(runCtx, s.viewer)
	if err != nil {
		cancel()
		s.setState(gen, StateDisconnected)
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		cancel()
		_ = sub.Close()
		return chat.ErrSessionClosed
	}
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	metrics.LiveSubscriptions.Inc()
	go s.run(runCtx, gen, counterpart, sub, done)

	batch, err := s.loader.LoadThread(ctx, s.viewer, counterpart, nil)
	if err != nil {
		s.teardown()
		return err
	}
	for _, id := range lo.Uniq(append([]chat.UserID{counterpart}, senders(batch)...)) {
		s.ensureProfile(runCtx, gen, id)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil
	}
	s.timeline.Merge(batch)
	if s.state == StateSubscribing {
		s.state = StateLive
	}
	s.mu.Unlock()
	s.notify()
	s.log(slog.LevelInfo, "conversation opened", "viewer_id", s.viewer, "counterpart_id", counterpart, "messages", len(batch))
	return nil
}

// Close tears down the live subscription. The session cannot be reopened.
func (s *Session) Close() error {
	s.teardown()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.updates)
	return nil
}

// AddLocal inserts the viewer's own just-sent message. The live echo of the same id is
// dropped later.
func (s *Session) AddLocal(msg chat.Message) bool {
	s.mu.Lock()
	if s.state == StateDisconnected || !msg.Between(s.viewer, s.counterpart) {
		s.mu.Unlock()
		return false
	}
	added := s.timeline.Add(msg)
	s.mu.Unlock()
	if added {
		s.notify()
	}
	return added
}

// Messages returns the merged timeline, oldest first.
func (s *Session) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Messages()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Counterpart() chat.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterpart
}

// Profile returns the resolved identity of a participant, or the placeholder.
func (s *Session) Profile(id chat.UserID) chat.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.known[id]; ok {
		return p
	}
	return chat.UnknownProfile(id)
}

// Updates signals after every change of the timeline or state. Signals coalesce.
// The channel is closed by Close.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) teardown() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	// frames still in flight for the old generation are discarded by apply, and an Open
	// still subscribing finds its generation gone
	s.generation++
	wasOpen := s.state != StateDisconnected
	s.state = StateDisconnected
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		metrics.LiveSubscriptions.Dec()
	}
	if wasOpen {
		s.notify()
	}
}

func (s *Session) run(ctx context.Context, gen uint64, counterpart chat.UserID, sub Subscription, done chan struct{}) {
	defer close(done)
	filter := PairFilter(s.viewer, counterpart)
	for {
		err := s.consume(ctx, gen, filter, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = chat.ErrSubscriptionDropped
		}
		next, ok := s.reconnect(ctx, gen, counterpart, err)
		if !ok {
			return
		}
		sub = next
	}
}

func (s *Session) consume(ctx context.Context, gen uint64, filter Filter, sub Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-sub.Frames():
			if !ok {
				return sub.Err()
			}
			msg, err := Decode(frame)
			if err != nil {
				metrics.FeedEventsDropped.WithLabelValues("invalid").Inc()
				s.log(slog.LevelWarn, "discarding change feed frame", "viewer_id", s.viewer, "error", err)
				continue
			}
			if !filter(msg) {
				continue
			}
			s.ensureProfile(ctx, gen, msg.SenderID)
			s.apply(gen, msg)
		}
	}
}

func (s *Session) apply(gen uint64, msg chat.Message) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		metrics.FeedEventsDropped.WithLabelValues("stale").Inc()
		return
	}
	added := s.timeline.Add(msg)
	s.mu.Unlock()
	if added {
		s.notify()
	} else {
		metrics.FeedEventsDropped.WithLabelValues("duplicate").Inc()
	}
}

// reconnect resubscribes with backoff and backfills the gap from the last held message.
func (s *Session) reconnect(ctx context.Context, gen uint64, counterpart chat.UserID, cause error) (Subscription, bool) {
	if !s.setState(gen, StateReconnecting) {
		return nil, false
	}
	s.log(slog.LevelWarn, "change feed subscription dropped", "viewer_id", s.viewer, "counterpart_id", counterpart, "error", cause)

	for attempt := 0; ; attempt++ {
		delay := s.backoff[min(attempt, len(s.backoff)-1)]
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		sub, err := s.feed.Subscribe(ctx, s.viewer)
		if err != nil {
			s.log(slog.LevelWarn, "resubscribe failed", "viewer_id", s.viewer, "attempt", attempt+1, "error", err)
			continue
		}

		var since *time.Time
		s.mu.Lock()
		if last, ok := s.timeline.Last(); ok {
			at := last.CreatedAt
			since = &at
		}
		s.mu.Unlock()

		batch, err := s.loader.LoadThread(ctx, s.viewer, counterpart, since)
		if err != nil {
			_ = sub.Close()
			s.log(slog.LevelWarn, "backfill after reconnect failed", "viewer_id", s.viewer, "attempt", attempt+1, "error", err)
			continue
		}
		for _, id := range lo.Uniq(senders(batch)) {
			s.ensureProfile(ctx, gen, id)
		}

		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			_ = sub.Close()
			return nil, false
		}
		s.timeline.Merge(batch)
		s.state = StateLive
		s.mu.Unlock()
		s.notify()
		s.log(slog.LevelInfo, "change feed resubscribed", "viewer_id", s.viewer, "counterpart_id", counterpart, "attempt", attempt+1)
		return sub, true
	}
}

// ensureProfile backfills an unknown sender. The lookup runs outside the lock and
// degrades to the placeholder identity.
func (s *Session) ensureProfile(ctx context.Context, gen uint64, id chat.UserID) {
	s.mu.Lock()
	_, known := s.known[id]
	s.mu.Unlock()
	if known {
		return
	}

	profile := chat.UnknownProfile(id)
	if s.profiles != nil {
		p, err := s.profiles.Profile(ctx, id)
		switch {
		case err == nil:
			profile = p
		case errors.Is(err, chat.ErrUserNotFound):
		default:
			metrics.EnrichmentFailures.Inc()
			s.log(slog.LevelWarn, "sender lookup failed", "sender_id", id, "error", err)
		}
	}

	s.mu.Lock()
	if gen == s.generation {
		s.known[id] = profile
	}
	s.mu.Unlock()
}

func (s *Session) setState(gen uint64, state State) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) log(level slog.Level, msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Log(context.Background(), level, msg, attrs...)
	}
}

func senders(batch []chat.Message) []chat.UserID {
	return lo.Map(batch, func(m chat.Message, _ int) chat.UserID { return m.SenderID })
}
