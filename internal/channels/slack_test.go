package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"

	"github.com/councilbot/councilbot/internal/bus"
	"github.com/councilbot/councilbot/internal/fault"
	"github.com/councilbot/councilbot/internal/persona"
	"github.com/councilbot/councilbot/internal/session"
)

type fakeSlack struct {
	mu      sync.Mutex
	posts   []url.Values
	replies string
	server  *httptest.Server
}

func newFakeSlack(t *testing.T) *fakeSlack {
	t.Helper()
	f := &fakeSlack{replies: `{"ok":true,"messages":[],"has_more":false}`}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/auth.test"):
			_, _ = w.Write([]byte(`{"ok":true,"team":"Acme","user":"council","team_id":"T1","user_id":"UBOT","bot_id":"BBOT"}`))
		case strings.HasSuffix(r.URL.Path, "/chat.postMessage"):
			f.mu.Lock()
			f.posts = append(f.posts, r.PostForm)
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000001.000200"}`))
		case strings.HasSuffix(r.URL.Path, "/conversations.replies"):
			f.mu.Lock()
			body := f.replies
			f.mu.Unlock()
			_, _ = w.Write([]byte(body))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeSlack) lastPost(t *testing.T) url.Values {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.posts) == 0 {
		t.Fatal("expected a chat.postMessage call")
	}
	return f.posts[len(f.posts)-1]
}

func newTestSlack(t *testing.T, f *fakeSlack, opts SlackOptions) (*SlackChannel, *bus.MessageBus) {
	t.Helper()
	opts.BotToken = "xoxb-test"
	opts.APIBase = f.server.URL
	b := bus.NewMessageBus()
	ch, err := NewSlackChannel(opts, b)
	if err != nil {
		t.Fatalf("new slack channel: %v", err)
	}
	if err := ch.Identify(context.Background()); err != nil {
		t.Fatalf("identify: %v", err)
	}
	return ch, b
}

func TestSlackIdentify(t *testing.T) {
	f := newFakeSlack(t)
	ch, _ := newTestSlack(t, f, SlackOptions{})
	if ch.BotUserID() != "UBOT" {
		t.Fatalf("expected UBOT, got %q", ch.BotUserID())
	}
	if !ch.isSelf("", "BBOT") || !ch.isSelf("UBOT", "") || ch.isSelf("U1", "") {
		t.Fatal("self detection mismatch")
	}
}

func TestNewSlackChannelRequiresToken(t *testing.T) {
	if _, err := NewSlackChannel(SlackOptions{}, bus.NewMessageBus()); err == nil {
		t.Fatal("expected missing token error")
	}
}

func TestSlackReplyPostsInThread(t *testing.T) {
	f := newFakeSlack(t)
	ch, _ := newTestSlack(t, f, SlackOptions{})

	if err := ch.Reply(context.Background(), "C1", "1700000000.000100", "R"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	got := f.lastPost(t)
	if got.Get("channel") != "C1" || got.Get("text") != "R" || got.Get("thread_ts") != "1700000000.000100" {
		t.Fatalf("unexpected post form: %v", got)
	}
	if got.Get("username") != "" {
		t.Fatalf("reply must use the bot identity, got username %q", got.Get("username"))
	}
}

func TestSlackPublishAsMasksIdentity(t *testing.T) {
	f := newFakeSlack(t)
	ch, _ := newTestSlack(t, f, SlackOptions{})

	p := persona.Persona{Key: "director", DisplayName: "Relentless Director", DisplayIcon: ":tengu:"}
	if err := ch.PublishAs(context.Background(), p, "C2", "1.0", "hello"); err != nil {
		t.Fatalf("publish as: %v", err)
	}
	got := f.lastPost(t)
	if got.Get("username") != "Relentless Director" || got.Get("icon_emoji") != ":tengu:" {
		t.Fatalf("unexpected masked post: %v", got)
	}

	p.DisplayIcon = "https://example.com/icon.png"
	if err := ch.PublishAs(context.Background(), p, "C2", "1.0", "hello"); err != nil {
		t.Fatalf("publish as: %v", err)
	}
	if got := f.lastPost(t); got.Get("icon_url") != "https://example.com/icon.png" {
		t.Fatalf("expected icon_url, got %v", got)
	}
}

func TestSlackLoadThreadHistoryTagsRoles(t *testing.T) {
	f := newFakeSlack(t)
	f.replies = `{"ok":true,"has_more":false,"messages":[
		{"type":"message","user":"U1","text":"<@UBOT> first","ts":"1700000000.000100"},
		{"type":"message","bot_id":"BBOT","text":"answer","ts":"1700000002.000000"},
		{"type":"message","user":"U2","text":"follow up","ts":"1700000003.500000"}
	]}`
	ch, _ := newTestSlack(t, f, SlackOptions{})

	turns := ch.LoadThreadHistory(context.Background(), "C1", "1700000000.000100")
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	wantRoles := []session.Role{session.RoleOther, session.RoleSelf, session.RoleOther}
	for i, turn := range turns {
		if turn.Role != wantRoles[i] {
			t.Fatalf("turn %d role=%s want %s", i, turn.Role, wantRoles[i])
		}
		if i > 0 && !turn.Timestamp.After(turns[i-1].Timestamp) {
			t.Fatalf("turns must be chronological: %v then %v", turns[i-1].Timestamp, turn.Timestamp)
		}
	}
	if turns[0].Text != "first" {
		t.Fatalf("expected mention stripped, got %q", turns[0].Text)
	}
}

func TestSlackLoadThreadHistoryFailureIsEmpty(t *testing.T) {
	f := newFakeSlack(t)
	f.replies = `{"ok":false,"error":"channel_not_found"}`
	var reported []fault.Fault
	ch, _ := newTestSlack(t, f, SlackOptions{
		Faults: fault.ReporterFunc(func(_ context.Context, ft fault.Fault) { reported = append(reported, ft) }),
	})

	if turns := ch.LoadThreadHistory(context.Background(), "C1", "1.0"); len(turns) != 0 {
		t.Fatalf("expected empty history, got %d turns", len(turns))
	}
	if len(reported) != 1 || reported[0].Kind != fault.KindHistoryFetch {
		t.Fatalf("expected one history fault, got %+v", reported)
	}
}

func TestSlackInboundMessageTranslation(t *testing.T) {
	f := newFakeSlack(t)
	ch, b := newTestSlack(t, f, SlackOptions{RequireMention: false})
	ctx := context.Background()

	err := ch.handleInnerEvent(ctx, &slackevents.MessageEvent{
		User:            "U1",
		Channel:         "C1",
		Text:            "<@UBOT> what now?",
		TimeStamp:       "1700000005.000100",
		ThreadTimeStamp: "1700000000.000100",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	msg, err := b.ConsumeInbound(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if msg.Channel != "slack" || msg.ChatID != "C1" || msg.Content != "what now?" {
		t.Fatalf("unexpected inbound: %+v", msg)
	}
	if msg.ReplyThread() != "1700000000.000100" || msg.TraceID == "" {
		t.Fatalf("unexpected thread/trace: %+v", msg)
	}
	if msg.Timestamp.Unix() != 1700000005 {
		t.Fatalf("unexpected timestamp %v", msg.Timestamp)
	}
}

func TestSlackInboundDedupesMentionAndMessage(t *testing.T) {
	f := newFakeSlack(t)
	ch, b := newTestSlack(t, f, SlackOptions{RequireMention: false})
	ctx := context.Background()

	_ = ch.handleInnerEvent(ctx, &slackevents.AppMentionEvent{User: "U1", Channel: "C1", Text: "<@UBOT> hi", TimeStamp: "1.0"})
	_ = ch.handleInnerEvent(ctx, &slackevents.MessageEvent{User: "U1", Channel: "C1", Text: "<@UBOT> hi", TimeStamp: "1.0"})
	if b.InboundSize() != 1 {
		t.Fatalf("expected one inbound after dedupe, got %d", b.InboundSize())
	}
}

func TestSlackRequireMentionDropsPlainChannelMessages(t *testing.T) {
	f := newFakeSlack(t)
	ch, b := newTestSlack(t, f, SlackOptions{
		RequireMention: true,
		AlwaysListen:   func(id string) bool { return id == "CMEET" },
	})
	ctx := context.Background()

	_ = ch.handleInnerEvent(ctx, &slackevents.MessageEvent{User: "U1", Channel: "C1", Text: "chatter", TimeStamp: "1.0"})
	if b.InboundSize() != 0 {
		t.Fatal("plain channel message should be dropped")
	}
	_ = ch.handleInnerEvent(ctx, &slackevents.MessageEvent{User: "U1", Channel: "D1", ChannelType: "im", Text: "dm", TimeStamp: "2.0"})
	_ = ch.handleInnerEvent(ctx, &slackevents.MessageEvent{User: "U1", Channel: "CMEET", Text: "topic", TimeStamp: "3.0"})
	if b.InboundSize() != 2 {
		t.Fatalf("expected dm and meeting messages, got %d", b.InboundSize())
	}
}

func TestSlackInboundMarksOwnMessages(t *testing.T) {
	f := newFakeSlack(t)
	ch, b := newTestSlack(t, f, SlackOptions{})
	ctx := context.Background()

	_ = ch.handleInnerEvent(ctx, &slackevents.MessageEvent{BotID: "BBOT", Channel: "D1", ChannelType: "im", Text: "mine", TimeStamp: "1.0"})
	msg, err := b.ConsumeInbound(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !msg.IsBot {
		t.Fatalf("expected bot flag, got %+v", msg)
	}
}

func TestSeenCacheExpires(t *testing.T) {
	s := newSeenCache(time.Minute)
	now := time.Now()
	if s.check("k", now) {
		t.Fatal("first sighting should not be a duplicate")
	}
	if !s.check("k", now.Add(time.Second)) {
		t.Fatal("second sighting should be a duplicate")
	}
	if s.check("k", now.Add(2*time.Minute)) {
		t.Fatal("expired key should be accepted again")
	}
	if s.size() != 1 {
		t.Fatalf("expected pruned cache of 1, got %d", s.size())
	}
}

func TestParseSlackTS(t *testing.T) {
	ts, ok := parseSlackTS("1700000000.000100")
	if !ok || ts.Unix() != 1700000000 || ts.Nanosecond() != 100000 {
		t.Fatalf("unexpected parse %v %v", ts, ok)
	}
	if _, ok := parseSlackTS("nope"); ok {
		t.Fatal("expected parse failure")
	}
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() (bool, error) {
		calls++
		return false, json.Unmarshal([]byte("{"), &struct{}{})
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected single failing call, got calls=%d err=%v", calls, err)
	}
}
