// Package transport holds the platform-neutral message types exchanged
// between chat adapters and the command layer, plus the string encodings of
// scopes and message handles the engine stores.
package transport

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
	// Mentions are user IDs referenced by the message (text mentions).
	Mentions []int64
}

// Scope returns the scope the message was posted in.
func (m *Message) Scope() ChatTarget { return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID} }

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Adapter is a long-running inbound source.
type Adapter interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

var errBadRef = errors.New("malformed reference")

// String encodes the target as "chat" or "chat:thread".
func (t ChatTarget) String() string {
	s := strconv.FormatInt(t.ChatID, 10)
	if t.ThreadID != 0 {
		s += ":" + strconv.Itoa(t.ThreadID)
	}
	return s
}

// ParseTarget decodes ChatTarget.String.
func ParseTarget(s string) (ChatTarget, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) > 2 {
		return ChatTarget{}, errBadRef
	}
	chat, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || chat == 0 {
		return ChatTarget{}, errBadRef
	}
	t := ChatTarget{ChatID: chat}
	if len(parts) == 2 {
		if t.ThreadID, err = strconv.Atoi(parts[1]); err != nil {
			return ChatTarget{}, errBadRef
		}
	}
	return t, nil
}

// String encodes the reference as "chat:thread:message".
func (r MessageRef) String() string {
	return strconv.FormatInt(r.ChatID, 10) + ":" + strconv.Itoa(r.ThreadID) + ":" + strconv.Itoa(r.MessageID)
}

// ParseRef decodes MessageRef.String.
func ParseRef(s string) (MessageRef, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return MessageRef{}, errBadRef
	}
	chat, err1 := strconv.ParseInt(parts[0], 10, 64)
	thread, err2 := strconv.Atoi(parts[1])
	msg, err3 := strconv.Atoi(parts[2])
	if err := errors.Join(err1, err2, err3); err != nil || chat == 0 || msg == 0 {
		return MessageRef{}, errBadRef
	}
	return MessageRef{ChatID: chat, ThreadID: thread, MessageID: msg}, nil
}

// Target is the chat the referenced message lives in.
func (r MessageRef) Target() ChatTarget { return ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID} }
