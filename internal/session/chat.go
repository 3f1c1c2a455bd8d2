package session

import (
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
)

type Author int

const (
	Me Author = iota
	SomeoneElse
)

func (a Author) String() string {
	if a == Me {
		return "me"
	}
	return "someone_else"
}

type ChatEntry struct {
	ID     uint64
	Author Author
	// From is empty for entries written by this session.
	From domain.PeerURL
	Text string
	At   time.Time
}

// ChatLog is the session's chat history. Readers may call Entries from any
// goroutine.
type ChatLog struct {
	mu       sync.Mutex
	next     uint64
	entries  []ChatEntry
	listener func(ChatEntry)
}

func NewChatLog(listener func(ChatEntry)) *ChatLog {
	return &ChatLog{listener: listener}
}

func (l *ChatLog) append(author Author, from domain.PeerURL, text string) ChatEntry {
	l.mu.Lock()
	e := ChatEntry{ID: l.next, Author: author, From: from, Text: text, At: time.Now()}
	l.next++
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	if l.listener != nil {
		l.listener(e)
	}
	return e
}

func (l *ChatLog) Entries() []ChatEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ChatEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
