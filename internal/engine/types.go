package engine

import (
	"context"
	"time"

	"focusbot/internal/authz"
	"focusbot/internal/delivery"
	"focusbot/internal/eventbus"
	"focusbot/internal/ledger"
	"focusbot/internal/session"
	"focusbot/internal/storage"
	logx "focusbot/pkg/logx"
)

// Persist modes.
const (
	PersistImmediate = "immediate"
	PersistInterval  = "interval"
)

// Config controls the engine. Zero values select the documented defaults.
type Config struct {
	// HistoryCap bounds the ledger (default 2000).
	HistoryCap int
	// MaxCycles bounds pomodoro cycles (default 100).
	MaxCycles int
	// Persist is "immediate" (save after every mutation, default) or
	// "interval" (save on Flush; the app drives Flush from a schedule).
	Persist string
	// SaveTimeout bounds one snapshot write (default 10s).
	SaveTimeout time.Duration
	// Location defines "today" for stats (default time.Local).
	Location *time.Location
	// StatsLimit is the default leaderboard size (default 10).
	StatsLimit int
}

func (c Config) withDefaults() Config {
	if c.HistoryCap <= 0 {
		c.HistoryCap = ledger.DefaultCapacity
	}
	if c.MaxCycles <= 0 {
		c.MaxCycles = session.MaxCycles
	}
	if c.Persist != PersistInterval {
		c.Persist = PersistImmediate
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 10 * time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.StatsLimit <= 0 {
		c.StatsLimit = 10
	}
	return c
}

// Notifier delivers rendered notices.
type Notifier interface {
	Deliver(ctx context.Context, req delivery.Request) delivery.Result
	Report(ctx context.Context, text string) bool
}

// PermissionOracle answers authorization questions.
type PermissionOracle interface {
	CanWriteScope(ctx context.Context, scopeID string) bool
	IsAuthorizedResetter(scopeID, userID string) bool
	IsOperator(userID string) bool
}

// Deps are the engine collaborators. Store, Bus and Renderer are optional.
type Deps struct {
	Store    storage.Store
	Notifier Notifier
	Oracle   PermissionOracle
	Registry *authz.Registry
	Renderer Renderer
	Clock    Clock
	Log      logx.Logger
	Bus      eventbus.Bus
}

// TimerSpec describes a countdown timer.
type TimerSpec struct {
	OwnerID  string
	ScopeID  string
	Duration time.Duration
	// Label is shown in notices; empty means none.
	Label string
	// Participants are credited alongside the owner; the owner is implied.
	Participants []string
	// AllowFallback permits direct messages when the scope is unavailable.
	AllowFallback bool
	// Handle is an existing message to edit; empty posts a new one.
	Handle string
}

// PomodoroSpec describes a work/break session.
type PomodoroSpec struct {
	OwnerID       string
	ScopeID       string
	Work          time.Duration
	Break         time.Duration
	Cycles        int // 1..MaxCycles
	Label         string
	Participants  []string
	AllowFallback bool
	Handle        string
}

// Status is a point-in-time view of one session.
type Status struct {
	Session        session.Session
	Remaining      time.Duration
	TotalRemaining time.Duration
}

// Timeframes for Totals.
const (
	TimeframeAll   = "all"
	TimeframeToday = "today"
	TimeframeWeek  = "week"
)

// TotalsQuery selects a stats view.
type TotalsQuery struct {
	UserID    string
	Timeframe string // all (default), today, week
	Limit     int    // leaderboard size; 0 uses Config.StatsLimit
}

// TotalsReport is the answer to a TotalsQuery.
type TotalsReport struct {
	Timeframe   string
	Since       time.Time // zero for "all"
	Leaderboard []ledger.Standing
	UserTotal   time.Duration
	Users       int
}

// ResetReport summarizes a ResetAll call.
type ResetReport struct {
	Sessions int
	Entries  int
	Reported bool
}

// Overview is a cheap summary for health output and periodic digests.
type Overview struct {
	Timers    int
	Pomodoros int
	Entries   int
	Users     int
	Dirty     bool
}

// Event types published on the bus.
const (
	EventCreated   = "session.created"
	EventPhase     = "session.phase"
	EventCompleted = "session.completed"
	EventCanceled  = "session.canceled"
	EventUpdated   = "session.updated"
	EventReset     = "engine.reset"
	EventRestored  = "engine.restored"
	EventPersisted = "engine.persisted"
)

// SessionEvent is the Data of session.* events.
type SessionEvent struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	OwnerID string `json:"owner_id"`
	ScopeID string `json:"scope_id,omitempty"`
	Phase   string `json:"phase,omitempty"`
	Cycle   int    `json:"cycle,omitempty"`
	Offline bool   `json:"offline,omitempty"`
}
