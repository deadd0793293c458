package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "focusbot/internal/runtime/supervisor"
	kit "focusbot/internal/transport"
	logx "focusbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// ReportChat is the scope SendOps posts into.
	ReportChat string
	// WriteCacheTTL bounds how long a CanWrite answer is reused (default 1m).
	WriteCacheTTL time.Duration
}

// Adapter is the telegram transport: inbound text messages for the command
// layer and the outbound Messenger used by notification delivery.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Message)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the drop reporter; created on Start.
	sup *rtsup.Supervisor

	droppedUpdates atomic.Uint64

	writeMu    sync.Mutex
	writeCache map[string]writeEntry

	menuMu   sync.Mutex
	menuHash string
}

type writeEntry struct {
	ok  bool
	exp time.Time
}

var errNotRunning = errors.New("telegram adapter not configured")

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.WriteCacheTTL <= 0 {
		cfg.WriteCacheTTL = time.Minute
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:        cfg,
		log:        log.With(logx.String("comp", "telegram")),
		bot:        b,
		writeCache: map[string]writeEntry{},
	}
	var nilOut chan<- kit.Message
	a.out.Store(nilOut)
	a.bot.Handle(tele.OnText, a.onText)
	return a, nil
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

// SetReportChat swaps the SendOps destination (config reload).
func (a *Adapter) SetReportChat(scope string) {
	a.runMu.Lock()
	a.cfg.ReportChat = scope
	a.runMu.Unlock()
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil {
		return nil
	}
	msg := kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
		IsGroup:      m.Chat.Type != tele.ChatPrivate,
	}
	for _, ent := range m.Entities {
		if ent.Type == tele.EntityTMention && ent.User != nil {
			msg.Mentions = append(msg.Mentions, ent.User.ID)
		}
	}
	out, _ := a.out.Load().(chan<- kit.Message)
	if out == nil {
		return nil
	}
	select {
	case out <- msg:
	default:
		a.droppedUpdates.Add(1)
	}
	return nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Message) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// adapter failures must not take down the engine.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.droppedUpdates.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// telebot's Start blocks until Stop; an early return is restarted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	return nil
}

// Stop never blocks shutdown for long on the telegram long poll.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Message
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// Send posts text into a scope ("chat" or "chat:thread") and returns the
// handle of the first message.
func (a *Adapter) Send(ctx context.Context, scopeID, text string) (string, error) {
	to, err := kit.ParseTarget(scopeID)
	if err != nil {
		return "", fmt.Errorf("scope %q: %w", scopeID, err)
	}
	ref, err := a.sendText(ctx, &tele.Chat{ID: to.ChatID}, to.ThreadID, text)
	if err != nil {
		return "", err
	}
	ref.ChatID, ref.ThreadID = to.ChatID, to.ThreadID
	return ref.String(), nil
}

// Edit replaces the text of a message sent earlier. Overflow beyond one
// message is posted as follow-up messages.
func (a *Adapter) Edit(ctx context.Context, handle, text string) error {
	ref, err := kit.ParseRef(handle)
	if err != nil {
		return fmt.Errorf("handle %q: %w", handle, err)
	}
	chunks := splitText(text, textLimit)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		// Editing to identical text is a success for our purposes.
		if errors.Is(err, tele.ErrSameMessageContent) {
			return nil
		}
		return err
	}
	if len(chunks) > 1 {
		_, err = a.sendText(ctx, &tele.Chat{ID: ref.ChatID}, ref.ThreadID, strings.Join(chunks[1:], "\n"))
	}
	return err
}

// SendDirect messages a user privately. It fails if the user never started
// a conversation with the bot.
func (a *Adapter) SendDirect(ctx context.Context, userID, text string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
	if err != nil {
		return fmt.Errorf("user %q: %w", userID, err)
	}
	_, err = a.sendText(ctx, &tele.User{ID: id}, 0, text)
	return err
}

// SendOps posts an operator line into the report chat.
func (a *Adapter) SendOps(ctx context.Context, text string) error {
	a.runMu.Lock()
	scope := a.cfg.ReportChat
	a.runMu.Unlock()
	if strings.TrimSpace(scope) == "" {
		return errNotRunning
	}
	_, err := a.Send(ctx, scope, text)
	return err
}

// CanWrite reports whether the bot may post into the scope. Answers are
// cached for WriteCacheTTL; a failed lookup counts as not writable.
func (a *Adapter) CanWrite(ctx context.Context, scopeID string) bool {
	to, err := kit.ParseTarget(scopeID)
	if err != nil {
		return false
	}
	key := strconv.FormatInt(to.ChatID, 10)
	now := time.Now()
	a.writeMu.Lock()
	if e, ok := a.writeCache[key]; ok && now.Before(e.exp) {
		a.writeMu.Unlock()
		return e.ok
	}
	a.writeMu.Unlock()

	ok := a.probeWrite(ctx, to.ChatID)

	a.writeMu.Lock()
	a.writeCache[key] = writeEntry{ok: ok, exp: now.Add(a.cfg.WriteCacheTTL)}
	a.writeMu.Unlock()
	return ok
}

// ForgetScope drops the cached CanWrite answer, e.g. after a send failed.
func (a *Adapter) ForgetScope(scopeID string) {
	to, err := kit.ParseTarget(scopeID)
	if err != nil {
		return
	}
	a.writeMu.Lock()
	delete(a.writeCache, strconv.FormatInt(to.ChatID, 10))
	a.writeMu.Unlock()
}

func (a *Adapter) probeWrite(ctx context.Context, chatID int64) bool {
	if ctx.Err() != nil {
		return false
	}
	chat, err := a.bot.ChatByID(chatID)
	if err != nil {
		a.log.Debug("chat lookup failed", logx.Int64("chat", chatID), logx.Err(err))
		return false
	}
	if chat.Type == tele.ChatPrivate {
		return true
	}
	member, err := a.bot.ChatMemberOf(chat, a.bot.Me)
	if err != nil {
		a.log.Debug("membership lookup failed", logx.Int64("chat", chatID), logx.Err(err))
		return false
	}
	switch member.Role {
	case tele.Creator, tele.Administrator:
		return true
	case tele.Member:
		return chat.Type != tele.ChatChannel
	case tele.Restricted:
		return member.CanSendMessages
	default:
		return false
	}
}

func (a *Adapter) sendText(ctx context.Context, to tele.Recipient, threadID int, text string) (kit.MessageRef, error) {
	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(to, chunk, &tele.SendOptions{DisableWebPagePreview: true, ThreadID: threadID})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: msg.Chat.ID, ThreadID: threadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// UpdateMenuCommands publishes the command menu. It only calls telegram
// when the list changed.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	list := make([]tele.Command, 0, len(cmds))
	var sig strings.Builder
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		list = append(list, tele.Command{Text: c.Command, Description: d})
		sig.WriteString(c.Command + "\x00" + d + "\x00")
		if len(list) >= 100 {
			break
		}
	}
	if sig.String() == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return fmt.Errorf("telegram setMyCommands: %w", err)
	}
	a.menuHash = sig.String()
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
