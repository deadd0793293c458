package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// OpsConfig forwards high-severity lines to the operator report destination.
type OpsConfig struct {
	Enabled    bool
	MinLevel   string // default WARN
	RatePerSec int    // default 1
}

// OpsSink delivers one formatted log line to operators.
type OpsSink interface {
	SendOps(ctx context.Context, text string) error
}

const (
	opsQueueSize  = 256
	opsSendTTL    = 10 * time.Second
	opsLineLimit  = 3500
	opsFieldLimit = 600
)

// opsForwarder is a zerolog.LevelWriter that queues formatted lines for a
// single background sender. Writes never block the logging call.
type opsForwarder struct {
	queue chan string

	mu      sync.Mutex
	sink    OpsSink
	limiter *rate.Limiter
	min     zerolog.Level
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newOpsForwarder() *opsForwarder {
	return &opsForwarder{queue: make(chan string, opsQueueSize), min: zerolog.WarnLevel}
}

func (o *opsForwarder) setSink(sink OpsSink) {
	o.mu.Lock()
	o.sink = sink
	o.mu.Unlock()
}

func (o *opsForwarder) configure(cfg OpsConfig) {
	rps := max(1, cfg.RatePerSec)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.min = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	o.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.Enabled && o.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		o.cancel = cancel
		o.wg.Add(1)
		go o.run(ctx)
	}
}

func (o *opsForwarder) close() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		o.wg.Wait()
	}
}

func (o *opsForwarder) run(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-o.queue:
			o.mu.Lock()
			sink := o.sink
			o.mu.Unlock()
			if sink == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, opsSendTTL)
			_ = sink.SendOps(sctx, line)
			cancel()
		}
	}
}

func (o *opsForwarder) Write(p []byte) (int, error) {
	return o.WriteLevel(zerolog.NoLevel, p)
}

func (o *opsForwarder) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	o.mu.Lock()
	ok := o.sink != nil && o.limiter != nil && level >= o.min && level != zerolog.NoLevel
	lim := o.limiter
	o.mu.Unlock()
	if !ok || !lim.Allow() {
		return len(p), nil
	}
	if line := formatOpsLine(p); line != "" {
		select {
		case o.queue <- line:
		default:
		}
	}
	return len(p), nil
}

// formatOpsLine renders a JSON log line for a chat reader:
//
//	WARN engine: snapshot save failed
//	err: disk full
//
// Timestamps and callers are dropped; chat messages carry their own time.
func formatOpsLine(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(string(p), opsLineLimit)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString(strings.ToUpper(lvl))
		b.WriteByte(' ')
	}
	if comp, _ := m["comp"].(string); comp != "" {
		b.WriteString(comp)
		b.WriteString(": ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "comp", zerolog.CallerFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := opsFieldLimit
		if k == "stack" {
			limit = 900
		}
		fmt.Fprintf(&b, "\n%s: %s", k, clip(fmt.Sprint(m[k]), limit))
	}
	return clip(b.String(), opsLineLimit)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
