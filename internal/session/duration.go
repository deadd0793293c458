package session

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

var (
	unitToken = regexp.MustCompile(`^(\d+)\s*([a-z]+)`)

	unitNames = map[string]time.Duration{
		"d": day, "day": day, "days": day,
		"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
		"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
		"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	}
)

// ParseDuration converts user text into a duration.
//
// Accepted forms:
//   - "mm:ss" or "hh:mm:ss", every segment made of digits
//   - compound units such as "1h30m", "2d 3h", "90 seconds"; each unit once
//
// It never panics; ok is false for anything else, including empty input.
// A zero result is returned as-is, callers reject non-positive values.
func ParseDuration(text string) (d time.Duration, ok bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ":") {
		return parseColon(s)
	}
	return parseUnits(s)
}

func parseColon(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, false
	}
	vals := make([]int64, len(parts))
	for i, p := range parts {
		if p == "" || !allDigits(p) {
			return 0, false
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, false
		}
		vals[i] = n
	}
	if len(vals) == 2 {
		return time.Duration(vals[0])*time.Minute + time.Duration(vals[1])*time.Second, true
	}
	return time.Duration(vals[0])*time.Hour + time.Duration(vals[1])*time.Minute + time.Duration(vals[2])*time.Second, true
}

func parseUnits(s string) (time.Duration, bool) {
	var total time.Duration
	seen := map[time.Duration]bool{}
	rest := s
	for rest != "" {
		m := unitToken.FindStringSubmatch(rest)
		if m == nil {
			return 0, false
		}
		unit, known := unitNames[m[2]]
		if !known || seen[unit] {
			return 0, false
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, false
		}
		seen[unit] = true
		total += time.Duration(n) * unit
		rest = strings.TrimLeft(rest[len(m[0]):], " \t,")
	}
	return total, len(seen) > 0
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatDuration renders d as "1d 2h 3m 4s", omitting zero parts.
// Sub-second precision is dropped; zero renders as "0s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	if secs == 0 {
		return "0s"
	}
	parts := make([]string, 0, 4)
	for _, u := range []struct {
		n      int64
		suffix string
	}{{86400, "d"}, {3600, "h"}, {60, "m"}, {1, "s"}} {
		if v := secs / u.n; v > 0 {
			parts = append(parts, strconv.FormatInt(v, 10)+u.suffix)
			secs %= u.n
		}
	}
	return strings.Join(parts, " ")
}
