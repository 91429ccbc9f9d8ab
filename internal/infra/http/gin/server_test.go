package ginserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"peerchat/internal/app/attachments"
	"peerchat/internal/app/commands"
	"peerchat/internal/app/dto"
	conversationsapp "peerchat/internal/app/handlers/conversations"
	messagesapp "peerchat/internal/app/handlers/messages"
	reviewsapp "peerchat/internal/app/handlers/reviews"
	"peerchat/internal/app/middleware"
	"peerchat/internal/app/queries"
	"peerchat/internal/app/realtime"
	"peerchat/internal/domain/chat"
	"peerchat/internal/infra/config"
	"peerchat/internal/infra/obs"
	"peerchat/internal/infra/storage/memory"
)

var pngPayload = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

type testServer struct {
	router *gin.Engine
	send   *messagesapp.SendMessageHandler
	hub    *memory.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewMessageStore()
	reads := memory.NewReadMarkers()
	profiles := memory.NewProfileStore()
	profiles.Seed(map[string]string{"alice": "Alice", "bob": "Bob"})
	blobs := memory.NewBlobStore("http://peerchat.test/blobs")
	hub := memory.NewHub(8, nil)

	send := &messagesapp.SendMessageHandler{
		Messages:    store,
		Attachments: &attachments.Pipeline{Blobs: blobs},
		Feed:        hub,
		Identity:    profiles,
	}
	t.Cleanup(send.Wait)

	cmdBus := commands.NewInMemoryBus()
	commands.RegisterHandler[messagesapp.SendMessageCommand, dto.ChatMessage](cmdBus, send)
	commands.RegisterHandler[conversationsapp.MarkReadCommand, dto.ReadReceipt](cmdBus, &conversationsapp.MarkReadHandler{Messages: store, Reads: reads})

	queryBus := queries.NewInMemoryBus()
	queries.RegisterHandler[conversationsapp.ListConversationsQuery, dto.ConversationList](queryBus, &conversationsapp.ListConversationsHandler{Messages: store, Reads: reads, Identity: profiles})
	queries.RegisterHandler[messagesapp.GetThreadQuery, dto.Thread](queryBus, &messagesapp.GetThreadHandler{Messages: store, Identity: profiles})
	queries.RegisterHandler[reviewsapp.CanReviewQuery, dto.ReviewEligibility](queryBus, &reviewsapp.CanReviewHandler{Messages: store})

	validator := middleware.NewStructValidator()
	commandsChain := middleware.ChainCommands(cmdBus, middleware.Validation(validator), middleware.Authorization(middleware.ActorAuthorizer{}))
	queriesChain := middleware.ChainQueries(queryBus, middleware.QueryValidation(validator), middleware.QueryAuthorization(middleware.ActorAuthorizer{}))

	router := NewRouter(config.Config{Env: "test"}, obs.Middleware{}, obs.HealthHandlers{}, Handlers{
		Chat:    ChatHandler{Commands: commandsChain, Queries: queriesChain, MaxUploadBytes: attachments.DefaultMaxBytes},
		Reviews: ReviewsHandler{Queries: queriesChain},
		Live:    LiveHandler{Feed: hub, PingInterval: time.Second},
		Blobs:   BlobHandler{Store: blobs},
	})
	return &testServer{router: router, send: send, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, user string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	if user != "" {
		r.Header.Set(principalHeader, user)
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func (s *testServer) sendText(t *testing.T, from, to, text string) dto.ChatMessage {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"text": text})
	w := s.do(t, http.MethodPost, "/api/v1/conversations/"+to+"/messages", from, body, "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var msg dto.ChatMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	return msg
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestServer_RequiresPrincipal(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/conversations", "", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/livez", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestServer_SendThenListConversations(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	// Given alice wrote to bob twice
	s.sendText(t, "alice", "bob", "hi")
	last := s.sendText(t, "alice", "bob", "  are you there?  ")
	req.Equal("are you there?", last.Content)

	// When bob lists his conversations
	w := s.do(t, http.MethodGet, "/api/v1/conversations", "bob", nil, "")
	req.Equal(http.StatusOK, w.Code)
	list := decode[dto.ConversationList](t, w)

	// Then alice shows up once with her latest message and two unread
	req.Len(list.Items, 1)
	req.Equal("alice", list.Items[0].Counterpart.ID)
	req.Equal("Alice", list.Items[0].Counterpart.Name)
	req.Equal(last.ID, list.Items[0].LastMessage.ID)
	req.Equal(2, list.Items[0].UnreadCount)

	// And marking read clears the count
	w = s.do(t, http.MethodPost, "/api/v1/conversations/alice/read", "bob", nil, "")
	req.Equal(http.StatusOK, w.Code)
	receipt := decode[dto.ReadReceipt](t, w)
	req.True(receipt.ReadAt.Equal(last.CreatedAt))

	list = decode[dto.ConversationList](t, s.do(t, http.MethodGet, "/api/v1/conversations", "bob", nil, ""))
	req.Equal(0, list.Items[0].UnreadCount)
	req.False(list.Items[0].HasUnread)
}

func TestServer_SendValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/conversations/bob/messages", "alice", []byte(`{"text":"   "}`), "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/conversations/bob/messages", "alice", []byte(`{not json`), "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)

	long := strings.Repeat("x", 4001)
	body, _ := json.Marshal(map[string]string{"text": long})
	w = s.do(t, http.MethodPost, "/api/v1/conversations/bob/messages", "alice", body, "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_MultipartAttachmentIsStoredAndServed(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "photo")
	req.NoError(err)
	_, err = part.Write(pngPayload)
	req.NoError(err)
	req.NoError(mw.Close())

	w := s.do(t, http.MethodPost, "/api/v1/conversations/bob/messages", "alice", buf.Bytes(), mw.FormDataContentType())
	req.Equal(http.StatusCreated, w.Code, w.Body.String())
	msg := decode[dto.ChatMessage](t, w)
	req.Equal(string(chat.KindImage), msg.AttachmentType)
	req.Equal("[Image sent]", msg.Content)

	blobURL, err := url.Parse(msg.AttachmentURL)
	req.NoError(err)
	w = s.do(t, http.MethodGet, blobURL.Path, "", nil, "")
	req.Equal(http.StatusOK, w.Code)
	req.Equal("image/png", w.Header().Get("Content-Type"))
	req.Equal(pngPayload, w.Body.Bytes())

	w = s.do(t, http.MethodGet, "/blobs/assets/missing.png", "", nil, "")
	req.Equal(http.StatusNotFound, w.Code)
}

func TestServer_ThreadSince(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	first := s.sendText(t, "alice", "bob", "one")
	second := s.sendText(t, "bob", "alice", "two")

	thread := decode[dto.Thread](t, s.do(t, http.MethodGet, "/api/v1/conversations/bob/messages", "alice", nil, ""))
	req.Equal("Bob", thread.Counterpart.Name)
	req.Equal([]string{first.ID, second.ID}, []string{thread.Messages[0].ID, thread.Messages[1].ID})

	since := url.QueryEscape(second.CreatedAt.Format(time.RFC3339Nano))
	thread = decode[dto.Thread](t, s.do(t, http.MethodGet, "/api/v1/conversations/bob/messages?since="+since, "alice", nil, ""))
	req.Len(thread.Messages, 1)
	req.Equal(second.ID, thread.Messages[0].ID)

	w := s.do(t, http.MethodGet, "/api/v1/conversations/bob/messages?since=yesterday", "alice", nil, "")
	req.Equal(http.StatusBadRequest, w.Code)
}

func TestServer_ReviewEligibilityNeedsReciprocity(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	s.sendText(t, "alice", "bob", "hello")
	result := decode[dto.ReviewEligibility](t, s.do(t, http.MethodGet, "/api/v1/reviews/eligibility/bob", "alice", nil, ""))
	req.True(result.Sent)
	req.False(result.Eligible)

	s.sendText(t, "bob", "alice", "hi back")
	result = decode[dto.ReviewEligibility](t, s.do(t, http.MethodGet, "/api/v1/reviews/eligibility/bob", "alice", nil, ""))
	req.True(result.Eligible)

	result = decode[dto.ReviewEligibility](t, s.do(t, http.MethodGet, "/api/v1/reviews/eligibility/alice", "alice", nil, ""))
	req.False(result.Eligible)
}

func TestServer_LiveStreamsPairFrames(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/conversations/alice/live"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{principalHeader: []string{"bob"}})
	req.NoError(err)
	req.Equal(http.StatusSwitchingProtocols, resp.StatusCode)
	defer conn.Close()

	// a message from another conversation must not reach this socket
	s.sendText(t, "carol", "bob", "unrelated")
	sent := s.sendText(t, "alice", "bob", "live hello")

	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, frame, err := conn.ReadMessage()
	req.NoError(err)
	got, err := realtime.Decode(frame)
	req.NoError(err)
	req.Equal(chat.MessageID(sent.ID), got.ID)
	req.Equal("live hello", got.Content)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		retryable bool
	}{
		{middleware.ErrUnauthenticated, http.StatusUnauthorized, false},
		{middleware.ErrForbidden, http.StatusForbidden, false},
		{fmt.Errorf("%w: text", middleware.ErrValidation), http.StatusBadRequest, false},
		{chat.ErrEmptyMessage, http.StatusBadRequest, false},
		{fmt.Errorf("%w: %w", chat.ErrAttachmentUploadFailed, chat.ErrAttachmentTooLarge), http.StatusRequestEntityTooLarge, false},
		{fmt.Errorf("%w: %w", chat.ErrAttachmentUploadFailed, chat.ErrEmptyAttachment), http.StatusBadRequest, false},
		{fmt.Errorf("%w: s3 down", chat.ErrAttachmentUploadFailed), http.StatusBadGateway, true},
		{fmt.Errorf("%w: timeout", chat.ErrStoreWriteFailed), http.StatusBadGateway, true},
		{errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, retryable := classify(tt.err)
			require.Equal(t, tt.status, status)
			require.Equal(t, tt.retryable, retryable)
		})
	}
}
