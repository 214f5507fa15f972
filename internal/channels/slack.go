package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/councilbot/councilbot/internal/bus"
	"github.com/councilbot/councilbot/internal/fault"
	"github.com/councilbot/councilbot/internal/persona"
	"github.com/councilbot/councilbot/internal/session"
)

const defaultSlackAPIBase = "https://slack.com/api"

// SlackOptions configures a SlackChannel.
type SlackOptions struct {
	BotToken string
	AppToken string
	APIBase  string
	// RequireMention drops plain channel messages unless they address the bot.
	// Direct messages and AlwaysListen channels are exempt.
	RequireMention bool
	// AlwaysListen reports channels whose every message is forwarded.
	AlwaysListen func(channelID string) bool
	DedupeTTL    time.Duration
	HTTPClient   *http.Client
	Faults       fault.Reporter
	Logger       *slog.Logger
	Debug        bool
}

// SlackChannel receives events over Socket Mode and posts through the Web API.
type SlackChannel struct {
	BaseChannel
	opts   SlackOptions
	api    *slack.Client
	seen   *seenCache
	logger *slog.Logger

	mu        sync.RWMutex
	botUserID string
	botID     string
}

// NewSlackChannel builds the Slack transport. Identify must run before Start
// so the bot's own messages can be recognised.
func NewSlackChannel(opts SlackOptions, messageBus *bus.MessageBus) (*SlackChannel, error) {
	token := strings.TrimSpace(opts.BotToken)
	if token == "" {
		return nil, errors.New("missing SLACK_BOT_TOKEN")
	}
	base := strings.TrimSpace(opts.APIBase)
	if base == "" {
		base = defaultSlackAPIBase
	}
	base = strings.TrimRight(base, "/") + "/"
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	slackOpts := []slack.Option{
		slack.OptionHTTPClient(client),
		slack.OptionAPIURL(base),
	}
	if app := strings.TrimSpace(opts.AppToken); app != "" {
		slackOpts = append(slackOpts, slack.OptionAppLevelToken(app))
	}
	if opts.Debug {
		slackOpts = append(slackOpts, slack.OptionDebug(true))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		opts:        opts,
		api:         slack.New(token, slackOpts...),
		seen:        newSeenCache(opts.DedupeTTL),
		logger:      logger.With("channel", "slack"),
	}, nil
}

func (c *SlackChannel) Name() string { return "slack" }

// Identify resolves the bot's own user and bot ids via auth.test.
func (c *SlackChannel) Identify(ctx context.Context) error {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth.test: %w", err)
	}
	c.mu.Lock()
	c.botUserID = resp.UserID
	c.botID = resp.BotID
	c.mu.Unlock()
	c.logger.Info("Slack identity resolved", "team", resp.Team, "user_id", resp.UserID, "bot_id", resp.BotID)
	return nil
}

// BotUserID returns the bot's own user id once Identify has run.
func (c *SlackChannel) BotUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botUserID
}

func (c *SlackChannel) isSelf(userID, botID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if userID != "" && userID == c.botUserID {
		return true
	}
	return botID != "" && botID == c.botID
}

// Start runs the Socket Mode connection until ctx is cancelled.
func (c *SlackChannel) Start(ctx context.Context) error {
	if strings.TrimSpace(c.opts.AppToken) == "" {
		return errors.New("missing SLACK_APP_TOKEN")
	}
	client := socketmode.New(c.api, socketmode.OptionDebug(c.opts.Debug))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-client.Events:
				if !ok {
					return
				}
				c.handleSocketEvent(ctx, client, evt)
			}
		}
	}()

	c.logger.Info("Slack socket mode starting")
	err := client.RunContext(ctx)
	<-done
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *SlackChannel) handleSocketEvent(ctx context.Context, client *socketmode.Client, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		c.logger.Debug("Slack socket connecting")
	case socketmode.EventTypeConnected:
		c.logger.Info("Slack socket connected")
	case socketmode.EventTypeConnectionError:
		c.logger.Warn("Slack socket connection error", "data", evt.Data)
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			client.Ack(*evt.Request)
		}
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || ev.Type != slackevents.CallbackEvent {
			return
		}
		if err := c.handleInnerEvent(ctx, ev.InnerEvent.Data); err != nil {
			c.logger.Warn("Slack inbound dropped", "error", err)
		}
	}
}

// handleInnerEvent translates a callback event into an inbound bus message.
func (c *SlackChannel) handleInnerEvent(ctx context.Context, data any) error {
	var msg *bus.InboundMessage
	switch in := data.(type) {
	case *slackevents.MessageEvent:
		if in == nil || !c.acceptsMessage(in) {
			return nil
		}
		msg = &bus.InboundMessage{
			SenderID:  in.User,
			ChatID:    in.Channel,
			ThreadID:  in.ThreadTimeStamp,
			MessageID: in.TimeStamp,
			Content:   in.Text,
			IsBot:     in.BotID != "",
			Subtype:   in.SubType,
		}
	case *slackevents.AppMentionEvent:
		if in == nil {
			return nil
		}
		msg = &bus.InboundMessage{
			SenderID:  in.User,
			ChatID:    in.Channel,
			ThreadID:  in.ThreadTimeStamp,
			MessageID: in.TimeStamp,
			Content:   in.Text,
			IsBot:     in.BotID != "",
		}
	default:
		return nil
	}

	if c.seen.check("slack:msg:"+msg.ChatID+":"+msg.MessageID, time.Now()) {
		c.logger.Debug("Slack inbound deduped", "chat_id", msg.ChatID, "ts", msg.MessageID)
		return nil
	}
	if c.isSelf(msg.SenderID, "") {
		msg.IsBot = true
	}
	msg.Channel = c.Name()
	msg.Content = c.stripMention(msg.Content)
	msg.TraceID = uuid.NewString()
	if ts, ok := parseSlackTS(msg.MessageID); ok {
		msg.Timestamp = ts
	}
	if strings.TrimSpace(msg.Content) == "" && !msg.IsBot {
		c.logger.Debug("Slack inbound has no text", "chat_id", msg.ChatID, "ts", msg.MessageID)
		return nil
	}
	return c.Bus.PublishInbound(ctx, msg)
}

func (c *SlackChannel) acceptsMessage(in *slackevents.MessageEvent) bool {
	if in.ChannelType == "im" {
		return true
	}
	if c.opts.AlwaysListen != nil && c.opts.AlwaysListen(in.Channel) {
		return true
	}
	// app_mention delivers the mentioned copy.
	return !c.opts.RequireMention
}

func (c *SlackChannel) stripMention(text string) string {
	if id := c.BotUserID(); id != "" {
		text = strings.ReplaceAll(text, "<@"+id+">", "")
	}
	return strings.TrimSpace(text)
}

// LoadThreadHistory returns every message of a thread as chronological turns.
// A fetch failure is reported and yields an empty history.
func (c *SlackChannel) LoadThreadHistory(ctx context.Context, channelID, threadID string) []session.Turn {
	var (
		turns  []session.Turn
		cursor string
	)
	for {
		params := &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadID,
			Cursor:    cursor,
			Limit:     200,
		}
		var (
			msgs    []slack.Message
			hasMore bool
			next    string
		)
		err := withRetry(ctx, 3, 200*time.Millisecond, func() (bool, error) {
			var err error
			msgs, hasMore, next, err = c.api.GetConversationRepliesContext(ctx, params)
			return c.retryDecision(ctx, err)
		})
		if err != nil {
			fault.Report(ctx, c.opts.Faults, fault.Fault{
				Kind:      fault.KindHistoryFetch,
				ChannelID: channelID,
				ThreadID:  threadID,
				Err:       err,
			})
			return nil
		}
		for _, m := range msgs {
			role := session.RoleOther
			if c.isSelf(m.User, m.BotID) {
				role = session.RoleSelf
			}
			ts, _ := parseSlackTS(m.Timestamp)
			turns = append(turns, session.Turn{
				ID:        m.Timestamp,
				Role:      role,
				Text:      c.stripMention(m.Text),
				Timestamp: ts,
				ChannelID: channelID,
				ThreadID:  threadID,
			})
		}
		if !hasMore || next == "" {
			break
		}
		cursor = next
	}
	return turns
}

// Reply posts text into a thread under the bot's own identity.
func (c *SlackChannel) Reply(ctx context.Context, channelID, threadID, text string) error {
	return c.post(ctx, channelID, threadID, slack.MsgOptionText(text, false))
}

// PublishAs posts text into a thread under a persona's display name and icon.
func (c *SlackChannel) PublishAs(ctx context.Context, p persona.Persona, channelID, threadID, text string) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionUsername(p.DisplayName),
	}
	if icon := strings.TrimSpace(p.DisplayIcon); icon != "" {
		if p.IconIsEmoji() {
			opts = append(opts, slack.MsgOptionIconEmoji(icon))
		} else {
			opts = append(opts, slack.MsgOptionIconURL(icon))
		}
	}
	return c.post(ctx, channelID, threadID, opts...)
}

func (c *SlackChannel) post(ctx context.Context, channelID, threadID string, opts ...slack.MsgOption) error {
	if ts := strings.TrimSpace(threadID); ts != "" {
		opts = append(opts, slack.MsgOptionTS(ts))
	}
	return withRetry(ctx, 3, 200*time.Millisecond, func() (bool, error) {
		_, _, err := c.api.PostMessageContext(ctx, channelID, opts...)
		return c.retryDecision(ctx, err)
	})
}

func (c *SlackChannel) retryDecision(ctx context.Context, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle != nil {
		if rle.RetryAfter > 0 {
			select {
			case <-ctx.Done():
				return false, err
			case <-time.After(rle.RetryAfter):
			}
		}
		return true, err
	}
	return false, err
}

// parseSlackTS converts a Slack "seconds.micros" timestamp to a time.
func parseSlackTS(ts string) (time.Time, bool) {
	sec, frac, _ := strings.Cut(strings.TrimSpace(ts), ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	var micros int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		frac += strings.Repeat("0", 6-len(frac))
		micros, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
	}
	return time.Unix(s, micros*1000), true
}
