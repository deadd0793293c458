package app

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID returns a short request id: base36 time plus a sequence number.
func newReqID() string {
	n := ridSeq.Add(1)
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + strconv.FormatUint(n, 36)
}

// tokenize splits command text into tokens while supporting quotes.
//
//	/timer 25m "deep work" --with=@1,@2
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ && ch == qChar:
			inQ = false
		case inQ:
			buf.WriteByte(ch)
		case ch == '"' || ch == '\'':
			inQ = true
			qChar = ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// args is a parsed command line.
type args struct {
	pos   []string
	flags map[string]string
	bools map[string]bool
}

// parseArgs splits raw tokens into positionals and flags. Keys listed in
// boolKeys never consume the following token.
//
// Supported: --k=v, --k v, --flag.
func parseArgs(raw []string, boolKeys ...string) args {
	isBool := map[string]bool{}
	for _, k := range boolKeys {
		isBool[k] = true
	}
	a := args{flags: map[string]string{}, bools: map[string]bool{}}
	for i := 0; i < len(raw); i++ {
		tok := raw[i]
		if !strings.HasPrefix(tok, "--") || len(tok) == 2 {
			a.pos = append(a.pos, tok)
			continue
		}
		key := strings.ToLower(tok[2:])
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			a.flags[key[:eq]] = tok[2+eq+1:]
			continue
		}
		if !isBool[key] && i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "--") {
			a.flags[key] = raw[i+1]
			i++
			continue
		}
		a.bools[key] = true
	}
	return a
}

func (a args) flag(key string) (string, bool) {
	v, ok := a.flags[key]
	return v, ok
}

// intFlag returns the flag value, def when absent, and ok=false when the
// value is not a positive integer.
func (a args) intFlag(key string, def int) (int, bool) {
	v, ok := a.flags[key]
	if !ok {
		return def, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
