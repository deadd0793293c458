package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a process-unique session ID: base36 creation millis plus a
// short random suffix.
func NewID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
