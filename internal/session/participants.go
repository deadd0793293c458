package session

import (
	"regexp"
	"strings"
)

var mentionToken = regexp.MustCompile(`^(?:<@!?(\d+)>|@?(\d+))$`)

// ParseParticipants extracts user IDs from free text.
//
// Recognized tokens are mentions ("<@123>", "<@!123>"), "@123" and bare
// numeric IDs. Everything else is ignored. Order of first appearance is kept.
func ParseParticipants(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\n' || r == '\t'
	})
	seen := map[string]bool{}
	var out []string
	for _, f := range fields {
		m := mentionToken.FindStringSubmatch(f)
		if m == nil {
			continue
		}
		id := m[1]
		if id == "" {
			id = m[2]
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
