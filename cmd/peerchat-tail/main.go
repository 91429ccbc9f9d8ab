package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"peerchat/internal/app/realtime"
	"peerchat/internal/app/scroll"
	"peerchat/internal/domain/chat"
	"peerchat/internal/infra/config"
	"peerchat/internal/infra/obs"
	"peerchat/internal/infra/realtime/wsfeed"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	server := flag.String("server", envOr("PEERCHAT_SERVER", "http://localhost:8080"), "peerchat server base URL")
	user := flag.String("user", os.Getenv("PEERCHAT_USER"), "your user id")
	peer := flag.String("peer", "", "counterpart user id")
	backoff := flag.String("backoff", "500ms,1s,5s", "reconnect delays")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if *user == "" || *peer == "" {
		flag.Usage()
		os.Exit(2)
	}
	delays, err := config.ParseBackoff(*backoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backoff: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := obs.NewLogger("dev", *logLevel)
	api := &wsfeed.APIClient{BaseURL: *server, HTTP: &http.Client{Timeout: 15 * time.Second}}
	feed := &wsfeed.Feed{BaseURL: *server, Peer: chat.UserID(*peer), Logger: logger}
	session := realtime.NewSession(chat.UserID(*user), feed, api, realtime.SessionConfig{
		Profiles: api,
		Logger:   logger,
		Backoff:  delays,
	})
	defer session.Close()

	if err := session.Open(ctx, chat.UserID(*peer)); err != nil {
		fmt.Fprintf(os.Stderr, "open conversation: %v\n", err)
		os.Exit(1)
	}

	t := &tail{
		out:     os.Stdout,
		session: session,
		viewer:  chat.UserID(*user),
		scroll:  scroll.New(),
		printed: make(map[chat.MessageID]struct{}),
	}
	fmt.Fprintf(t.out, "chatting with %s. 'p' pauses, 'r' resumes, anything else is sent.\n", session.Profile(chat.UserID(*peer)).DisplayName())
	t.refresh()

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-session.Updates():
			if !ok {
				return
			}
			t.refresh()
		case line, ok := <-lines:
			if !ok {
				return
			}
			t.command(ctx, api, chat.UserID(*peer), line)
		}
	}
}

type tail struct {
	out       io.Writer
	session   *realtime.Session
	viewer    chat.UserID
	scroll    *scroll.Controller
	printed   map[chat.MessageID]struct{}
	lastState realtime.State
}

func (t *tail) refresh() {
	if state := t.session.State(); state != t.lastState {
		t.lastState = state
		if state == realtime.StateReconnecting {
			fmt.Fprintln(t.out, "-- connection lost, reconnecting")
		}
	}
	msgs := t.session.Messages()
	if t.scroll.Observe(len(msgs)) || t.scroll.AtBottom() {
		t.flush(msgs)
		return
	}
	if n := t.scroll.Unseen(); n > 0 {
		fmt.Fprintf(t.out, "\r-- %d new message(s), 'r' to jump\n", n)
	}
}

func (t *tail) flush(msgs []chat.Message) {
	for _, m := range msgs {
		if _, ok := t.printed[m.ID]; ok {
			continue
		}
		t.printed[m.ID] = struct{}{}
		fmt.Fprintln(t.out, t.format(m))
	}
}

func (t *tail) format(m chat.Message) string {
	who := "you"
	if m.SenderID != t.viewer {
		who = t.session.Profile(m.SenderID).DisplayName()
	}
	line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04:05"), who, m.Content)
	if m.HasAttachment() {
		line += " <" + m.AttachmentURL + ">"
	}
	return line
}

func (t *tail) command(ctx context.Context, api *wsfeed.APIClient, peer chat.UserID, line string) {
	switch strings.TrimSpace(line) {
	case "":
		return
	case "p":
		t.scroll.SetAtBottom(false)
		fmt.Fprintln(t.out, "-- paused")
	case "r":
		t.scroll.SetAtBottom(true)
		t.flush(t.session.Messages())
	default:
		msg, err := api.Send(ctx, t.viewer, peer, line)
		if err != nil {
			fmt.Fprintf(t.out, "-- send failed: %v\n", err)
			return
		}
		t.session.AddLocal(msg)
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
