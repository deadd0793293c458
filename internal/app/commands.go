package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"focusbot/internal/engine"
	"focusbot/internal/session"
	kit "focusbot/internal/transport"
	logx "focusbot/pkg/logx"
)

// EnginePort is the slice of the engine the chat commands drive.
type EnginePort interface {
	CreateTimer(ctx context.Context, spec engine.TimerSpec) (session.Session, error)
	CreatePomodoro(ctx context.Context, spec engine.PomodoroSpec) (session.Session, error)
	Cancel(ctx context.Context, id, requesterID string) (session.Session, error)
	ListByOwner(ctx context.Context, userID string) ([]session.Session, error)
	ListByScope(ctx context.Context, scopeID string) ([]session.Session, error)
	Status(ctx context.Context, id string) (engine.Status, error)
	AddParticipant(ctx context.Context, id, userID, requesterID string) (session.Session, error)
	RemoveParticipant(ctx context.Context, id, userID, requesterID string) (session.Session, error)
	GrantResetAuthority(ctx context.Context, requesterID, scopeID, userID string) (bool, error)
	RevokeResetAuthority(ctx context.Context, requesterID, scopeID, userID string) (bool, error)
	ListResetAuthority(scopeID string) []string
	ResetAll(ctx context.Context, requesterID, scopeID string) (engine.ResetReport, error)
	Totals(ctx context.Context, q engine.TotalsQuery) (engine.TotalsReport, error)
}

// Replier posts command replies into the scope the command came from.
type Replier interface {
	Send(ctx context.Context, scopeID, text string) (string, error)
}

type handlerFunc func(ctx context.Context, req *request) (string, error)

type command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	// BoolFlags never take a value.
	BoolFlags []string
	Handle    handlerFunc
}

type request struct {
	msg   kit.Message
	scope string
	from  string
	args  args
	log   logx.Logger
}

// Commands routes chat messages to engine operations.
type Commands struct {
	eng     EnginePort
	out     Replier
	log     logx.Logger
	timeout time.Duration
	now     func() time.Time

	fallback atomic.Bool

	mu     sync.RWMutex
	cmds   []command
	byName map[string]*command

	jobs chan func()
}

func NewCommands(eng EnginePort, out Replier, log logx.Logger) *Commands {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Commands{
		eng:     eng,
		out:     out,
		log:     log,
		timeout: 15 * time.Second,
		now:     time.Now,
		jobs:    make(chan func(), 256),
	}
	c.register(c.builtin())
	return c
}

// SetFallbackDefault sets AllowFallback for sessions created without --dm
// or --no-dm. Safe during hot-reload.
func (c *Commands) SetFallbackDefault(v bool) { c.fallback.Store(v) }

func (c *Commands) register(cmds []command) {
	by := map[string]*command{}
	for i := range cmds {
		cmd := &cmds[i]
		by[cmd.Name] = cmd
		for _, a := range cmd.Aliases {
			if _, taken := by[a]; !taken {
				by[a] = cmd
			}
		}
	}
	c.mu.Lock()
	c.cmds = cmds
	c.byName = by
	c.mu.Unlock()
}

// Menu lists the commands for the platform's command menu.
func (c *Commands) Menu() []kit.BotCommand {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(c.cmds))
	for _, cmd := range c.cmds {
		out = append(out, kit.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}
	return out
}

// DispatchLoop consumes messages until ctx ends or in is closed. Commands
// run on a bounded worker pool.
func (c *Commands) DispatchLoop(ctx context.Context, in <-chan kit.Message) error {
	workers := max(runtime.NumCPU(), 2)
	c.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(c.jobs)))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		i := i
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-c.jobs:
					c.runJob(i, job)
				}
			}
		}()
	}
	defer func() {
		wg.Wait()
		c.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			c.route(ctx, msg)
		}
	}
}

func (c *Commands) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in command worker", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (c *Commands) route(ctx context.Context, msg kit.Message) {
	cmd, req, ok := c.match(msg)
	if !ok {
		return
	}
	select {
	case c.jobs <- func() { c.handle(ctx, cmd, req) }:
	default:
		c.reply(ctx, req.scope, "busy, try again")
	}
}

// match resolves the command a message invokes, if any.
func (c *Commands) match(msg kit.Message) (*command, *request, bool) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return nil, nil, false
	}
	parts := tokenize(text)
	if len(parts) == 0 {
		return nil, nil, false
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	c.mu.RLock()
	cmd := c.byName[word]
	c.mu.RUnlock()
	if cmd == nil {
		return nil, nil, false
	}

	rid := newReqID()
	req := &request{
		msg:   msg,
		scope: msg.Scope().String(),
		from:  strconv.FormatInt(msg.FromID, 10),
		args:  parseArgs(parts[1:], cmd.BoolFlags...),
	}
	req.log = c.log.With(
		logx.String("rid", rid),
		logx.String("scope", req.scope),
		logx.String("from", req.from),
		logx.String("cmd", cmd.Name),
	)
	return cmd, req, true
}

// handle runs one command synchronously and replies with its outcome.
func (c *Commands) handle(ctx context.Context, cmd *command, req *request) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	text, err := cmd.Handle(ctx, req)
	took := time.Since(start)
	if err != nil {
		req.log.Info("command failed", logx.Err(err), logx.Duration("took", took))
		text = userError(err, cmd)
	} else {
		req.log.Debug("command ok", logx.Duration("took", took))
	}
	if text != "" {
		c.reply(ctx, req.scope, text)
	}
}

func (c *Commands) reply(ctx context.Context, scope, text string) {
	if _, err := c.out.Send(ctx, scope, text); err != nil {
		c.log.Warn("reply failed", logx.String("scope", scope), logx.Err(err))
	}
}

var errUsage = errors.New("usage")

func userError(err error, cmd *command) string {
	switch {
	case errors.Is(err, errUsage):
		return "usage: " + cmd.Usage
	case errors.Is(err, engine.ErrNotFound):
		return "no such session (it may have finished already)"
	case errors.Is(err, engine.ErrForbidden):
		return "you are not allowed to do that"
	case errors.Is(err, engine.ErrInvalidDuration):
		return "duration must be positive, e.g. 25m, 1h30m or 10:00"
	case errors.Is(err, engine.ErrInvalidCycles):
		return "cycles must be between 1 and the configured maximum"
	case errors.Is(err, engine.ErrStopped), errors.Is(err, context.Canceled):
		return "shutting down, try again later"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out, try again"
	}
	return "error: " + err.Error()
}

func (c *Commands) builtin() []command {
	return []command{
		{
			Name:        "timer",
			Aliases:     []string{"t"},
			Usage:       "/timer <duration> [label] [--with @id,...] [--dm|--no-dm]",
			Description: "start a countdown timer",
			BoolFlags:   []string{"dm", "no-dm"},
			Handle:      c.cmdTimer,
		},
		{
			Name:        "pomodoro",
			Aliases:     []string{"pomo", "p"},
			Usage:       "/pomodoro <work> <break> <cycles> [label] [--with @id,...] [--dm|--no-dm]",
			Description: "start a work/break session",
			BoolFlags:   []string{"dm", "no-dm"},
			Handle:      c.cmdPomodoro,
		},
		{Name: "cancel", Usage: "/cancel <id>", Description: "cancel a session", Handle: c.cmdCancel},
		{Name: "list", Aliases: []string{"ls"}, Usage: "/list [here]", Description: "list your sessions (or this chat's)", Handle: c.cmdList},
		{Name: "status", Usage: "/status [id]", Description: "time left on a session", Handle: c.cmdStatus},
		{Name: "join", Usage: "/join <id>", Description: "get credited for a session", Handle: c.cmdJoin},
		{Name: "leave", Usage: "/leave <id> [user]", Description: "stop being credited for a session", Handle: c.cmdLeave},
		{Name: "stats", Usage: "/stats [all|today|week] [--limit N]", Description: "focus leaderboard", Handle: c.cmdStats},
		{Name: "grant", Usage: "/grant <user>", Description: "let a user reset sessions here (operators)", Handle: c.cmdGrant},
		{Name: "revoke", Usage: "/revoke <user>", Description: "take back reset authority (operators)", Handle: c.cmdRevoke},
		{Name: "resetters", Usage: "/resetters", Description: "who may reset sessions here", Handle: c.cmdResetters},
		{Name: "reset", Usage: "/reset", Description: "cancel everything and clear history", Handle: c.cmdReset},
		{Name: "help", Aliases: []string{"h", "start"}, Usage: "/help", Description: "show help", Handle: c.cmdHelp},
	}
}

// sessionOpts collects the flags shared by /timer and /pomodoro.
func (c *Commands) sessionOpts(req *request) (participants []string, fallback bool) {
	if v, ok := req.args.flag("with"); ok {
		participants = session.ParseParticipants(v)
	}
	for _, id := range req.msg.Mentions {
		participants = append(participants, strconv.FormatInt(id, 10))
	}
	fallback = c.fallback.Load()
	switch {
	case req.args.bools["dm"]:
		fallback = true
	case req.args.bools["no-dm"]:
		fallback = false
	}
	return participants, fallback
}

// leadingDuration finds the longest token prefix that parses as a duration,
// so "/timer 1h 30m tea" reads 1h30m with label "tea".
func leadingDuration(pos []string) (time.Duration, []string, bool) {
	for n := len(pos); n > 0; n-- {
		if d, ok := session.ParseDuration(strings.Join(pos[:n], " ")); ok {
			return d, pos[n:], true
		}
	}
	return 0, pos, false
}

func (c *Commands) cmdTimer(ctx context.Context, req *request) (string, error) {
	d, rest, ok := leadingDuration(req.args.pos)
	if !ok {
		return "", errUsage
	}
	with, fallback := c.sessionOpts(req)
	_, err := c.eng.CreateTimer(ctx, engine.TimerSpec{
		OwnerID:       req.from,
		ScopeID:       req.scope,
		Duration:      d,
		Label:         strings.Join(rest, " "),
		Participants:  with,
		AllowFallback: fallback,
	})
	// the engine posts the started notice itself
	return "", err
}

func (c *Commands) cmdPomodoro(ctx context.Context, req *request) (string, error) {
	pos := req.args.pos
	if len(pos) < 3 {
		return "", errUsage
	}
	work, ok1 := session.ParseDuration(pos[0])
	brk, ok2 := session.ParseDuration(pos[1])
	cycles, err := strconv.Atoi(pos[2])
	if !ok1 || !ok2 || err != nil {
		return "", errUsage
	}
	with, fallback := c.sessionOpts(req)
	_, err = c.eng.CreatePomodoro(ctx, engine.PomodoroSpec{
		OwnerID:       req.from,
		ScopeID:       req.scope,
		Work:          work,
		Break:         brk,
		Cycles:        cycles,
		Label:         strings.Join(pos[3:], " "),
		Participants:  with,
		AllowFallback: fallback,
	})
	return "", err
}

func (c *Commands) cmdCancel(ctx context.Context, req *request) (string, error) {
	if len(req.args.pos) != 1 {
		return "", errUsage
	}
	s, err := c.eng.Cancel(ctx, req.args.pos[0], req.from)
	if err != nil {
		return "", err
	}
	if s.ScopeID == req.scope {
		return "", nil
	}
	return fmt.Sprintf("canceled %s", s.ID), nil
}

func (c *Commands) cmdList(ctx context.Context, req *request) (string, error) {
	var (
		list []session.Session
		err  error
	)
	here := len(req.args.pos) > 0 && strings.EqualFold(req.args.pos[0], "here")
	if here {
		list, err = c.eng.ListByScope(ctx, req.scope)
	} else {
		list, err = c.eng.ListByOwner(ctx, req.from)
	}
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		if here {
			return "no active sessions in this chat", nil
		}
		return "you have no active sessions", nil
	}
	now := c.now()
	var b strings.Builder
	for i := range list {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(describe(&list[i], now))
	}
	return b.String(), nil
}

func (c *Commands) cmdStatus(ctx context.Context, req *request) (string, error) {
	if len(req.args.pos) == 0 {
		return c.cmdList(ctx, req)
	}
	st, err := c.eng.Status(ctx, req.args.pos[0])
	if err != nil {
		return "", err
	}
	s := &st.Session
	line := fmt.Sprintf("%s: %s left", describeHead(s), session.FormatDuration(st.Remaining))
	if s.Kind == session.KindPomodoro {
		line += fmt.Sprintf(" in cycle %d/%d %s, %s total", s.Pomodoro.CurrentCycle+1, s.Pomodoro.TotalCycles, s.Pomodoro.Phase, session.FormatDuration(st.TotalRemaining))
	}
	if len(s.Participants) > 1 {
		line += "\nParticipants: " + strings.Join(s.Participants, ", ")
	}
	return line, nil
}

func describeHead(s *session.Session) string {
	head := string(s.Kind) + " " + s.ID
	if s.Label != "" {
		head += " (" + s.Label + ")"
	}
	return head
}

func describe(s *session.Session, now time.Time) string {
	line := describeHead(s) + ": " + session.FormatDuration(session.Remaining(s, now)) + " left"
	if s.Kind == session.KindPomodoro {
		line += fmt.Sprintf(", cycle %d/%d %s", s.Pomodoro.CurrentCycle+1, s.Pomodoro.TotalCycles, s.Pomodoro.Phase)
	}
	return line
}

func (c *Commands) cmdJoin(ctx context.Context, req *request) (string, error) {
	if len(req.args.pos) != 1 {
		return "", errUsage
	}
	s, err := c.eng.AddParticipant(ctx, req.args.pos[0], req.from, req.from)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("joined %s (%d participants)", s.ID, len(s.Participants)), nil
}

func (c *Commands) cmdLeave(ctx context.Context, req *request) (string, error) {
	pos := req.args.pos
	if len(pos) == 0 || len(pos) > 2 {
		return "", errUsage
	}
	user := req.from
	if len(pos) == 2 {
		ids := session.ParseParticipants(pos[1])
		if len(ids) != 1 {
			return "", errUsage
		}
		user = ids[0]
	}
	s, err := c.eng.RemoveParticipant(ctx, pos[0], user, req.from)
	if err != nil {
		return "", err
	}
	if s.HasParticipant(user) {
		return "the owner cannot leave; use /cancel", nil
	}
	return fmt.Sprintf("%s left %s", user, s.ID), nil
}

func (c *Commands) cmdStats(ctx context.Context, req *request) (string, error) {
	tf := engine.TimeframeAll
	if len(req.args.pos) > 0 {
		tf = strings.ToLower(req.args.pos[0])
	}
	switch tf {
	case engine.TimeframeAll, engine.TimeframeToday, engine.TimeframeWeek:
	default:
		return "", errUsage
	}
	limit, ok := req.args.intFlag("limit", 0)
	if !ok {
		return "", errUsage
	}
	rep, err := c.eng.Totals(ctx, engine.TotalsQuery{UserID: req.from, Timeframe: tf, Limit: limit})
	if err != nil {
		return "", err
	}
	return formatTotals(rep, req.from), nil
}

func formatTotals(rep engine.TotalsReport, self string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Focus time (%s)", rep.Timeframe)
	if len(rep.Leaderboard) == 0 {
		b.WriteString("\nno entries yet")
		return b.String()
	}
	for i, st := range rep.Leaderboard {
		fmt.Fprintf(&b, "\n%d. %s %s", i+1, st.UserID, session.FormatDuration(st.Total))
	}
	if self != "" {
		fmt.Fprintf(&b, "\nYou: %s", session.FormatDuration(rep.UserTotal))
	}
	return b.String()
}

func (c *Commands) authorityTarget(req *request) (string, error) {
	if len(req.args.pos) != 1 {
		return "", errUsage
	}
	ids := session.ParseParticipants(req.args.pos[0])
	if len(ids) != 1 {
		return "", errUsage
	}
	return ids[0], nil
}

func (c *Commands) cmdGrant(ctx context.Context, req *request) (string, error) {
	user, err := c.authorityTarget(req)
	if err != nil {
		return "", err
	}
	changed, err := c.eng.GrantResetAuthority(ctx, req.from, req.scope, user)
	if err != nil {
		return "", err
	}
	if !changed {
		return user + " already has reset authority here", nil
	}
	return user + " may now reset sessions here", nil
}

func (c *Commands) cmdRevoke(ctx context.Context, req *request) (string, error) {
	user, err := c.authorityTarget(req)
	if err != nil {
		return "", err
	}
	changed, err := c.eng.RevokeResetAuthority(ctx, req.from, req.scope, user)
	if err != nil {
		return "", err
	}
	if !changed {
		return user + " had no reset authority here", nil
	}
	return "revoked reset authority of " + user, nil
}

func (c *Commands) cmdResetters(_ context.Context, req *request) (string, error) {
	ids := c.eng.ListResetAuthority(req.scope)
	if len(ids) == 0 {
		return "nobody has been granted reset authority here", nil
	}
	return "Reset authority: " + strings.Join(ids, ", "), nil
}

func (c *Commands) cmdReset(ctx context.Context, req *request) (string, error) {
	rep, err := c.eng.ResetAll(ctx, req.from, req.scope)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("reset done: %d sessions canceled, %d history entries cleared", rep.Sessions, rep.Entries), nil
}

func (c *Commands) cmdHelp(context.Context, *request) (string, error) {
	c.mu.RLock()
	cmds := c.cmds
	c.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:")
	for _, cmd := range cmds {
		fmt.Fprintf(&b, "\n%s - %s", cmd.Usage, cmd.Description)
	}
	b.WriteString("\nDurations: 25m, 1h30m, 90 seconds, 10:00")
	return b.String(), nil
}
