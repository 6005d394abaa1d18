// Package notify delivers watch-mode notifications to the terminal.
package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"tradeshare/internal/models"
)

// Kind represents the type of terminal notification.
type Kind int

const (
	KindUpdate Kind = iota
	KindShared
	KindRevoked
	KindDeleted
	KindActivity
	KindError
)

// Notification is one line shown while watching.
type Notification struct {
	Kind       Kind
	PositionID models.PositionID
	ReplicaID  models.ReplicaID
	Message    string
	Action     string
	Timestamp  time.Time
	Priority   int // Higher = more important
}

// Handler handles a notification.
type Handler func(n Notification)

// Notifier queues notifications and hands them to handlers on its own
// goroutine. When the queue is full the oldest notification is dropped.
type Notifier struct {
	notifications chan Notification
	handlers      []Handler
	out           io.Writer
	mu            sync.RWMutex
	bellEnabled   bool
}

// NewNotifier creates a notifier. The bell, when enabled, is written to out.
func NewNotifier(bufferSize int, out io.Writer) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Notifier{
		notifications: make(chan Notification, bufferSize),
		out:           out,
	}
}

// SetBellEnabled enables or disables the terminal bell.
func (n *Notifier) SetBellEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bellEnabled = enabled
}

// AddHandler adds a notification handler.
func (n *Notifier) AddHandler(h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, h)
}

// Notify queues a notification.
func (n *Notifier) Notify(note Notification) {
	if note.Timestamp.IsZero() {
		note.Timestamp = time.Now()
	}

	select {
	case n.notifications <- note:
	default:
		// Buffer full, drop oldest notification
		select {
		case <-n.notifications:
		default:
		}
		select {
		case n.notifications <- note:
		default:
		}
	}
}

// Start processes queued notifications until ctx is cancelled.
func (n *Notifier) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case note := <-n.notifications:
				n.process(note)
			}
		}
	}()
}

func (n *Notifier) process(note Notification) {
	n.mu.RLock()
	handlers := n.handlers
	bell := n.bellEnabled
	n.mu.RUnlock()

	if bell && note.Priority > 0 && n.out != nil {
		fmt.Fprint(n.out, "\a")
	}
	for _, h := range handlers {
		h(note)
	}
}

// ForEvents builds the notification for pending events on one position.
// The most significant event type decides the kind.
func ForEvents(position models.PositionID, replica models.ReplicaID, count int, types []models.EventType) Notification {
	note := Notification{
		PositionID: position,
		ReplicaID:  replica,
		Kind:       KindUpdate,
		Message:    fmt.Sprintf("%d update(s) waiting", count),
		Action:     fmt.Sprintf("tradeshare review %s", replica),
	}
	has := func(t models.EventType) bool {
		for _, x := range types {
			if x == t {
				return true
			}
		}
		return false
	}

	switch {
	case replica == "":
		note.Kind = KindActivity
		note.Message = fmt.Sprintf("%d new recipient edit(s)", count)
		note.Action = ""
	case has(models.EventPositionDeleted):
		note.Kind = KindDeleted
		note.Message = "owner deleted the position"
		note.Action = fmt.Sprintf("tradeshare positions leave %s", replica)
		note.Priority = 2
	case has(models.EventShareRevoked):
		note.Kind = KindRevoked
		note.Message = "owner stopped sharing the position"
		note.Action = fmt.Sprintf("tradeshare positions leave %s", replica)
		note.Priority = 2
	case has(models.EventPositionShared) && len(types) == 1:
		note.Kind = KindShared
		note.Message = "position shared with you"
		note.Action = fmt.Sprintf("tradeshare sync one %s", replica)
		note.Priority = 1
	default:
		note.Priority = 1
	}
	return note
}

// Format formats a notification for terminal display.
func Format(note Notification, colorEnabled bool) string {
	var sb strings.Builder

	var label, color, reset string
	if colorEnabled {
		reset = "\033[0m"
	}
	switch note.Kind {
	case KindUpdate:
		label = "🔄 UPDATE"
		color = "\033[36m" // Cyan
	case KindShared:
		label = "📥 SHARED"
		color = "\033[32m" // Green
	case KindRevoked:
		label = "🚫 REVOKED"
		color = "\033[33m" // Yellow
	case KindDeleted:
		label = "🗑  DELETED"
		color = "\033[31m" // Red
	case KindActivity:
		label = "💬 ACTIVITY"
		color = "\033[35m" // Magenta
	case KindError:
		label = "❌ ERROR"
		color = "\033[31m" // Red
	}
	if !colorEnabled {
		color = ""
	}

	sb.WriteString(fmt.Sprintf("%s[%s] %s%s", color, note.Timestamp.Format("15:04:05"), label, reset))
	if note.ReplicaID != "" {
		sb.WriteString(fmt.Sprintf(" | %s", note.ReplicaID))
	} else if note.PositionID != "" {
		sb.WriteString(fmt.Sprintf(" | %s", note.PositionID))
	}
	sb.WriteString(fmt.Sprintf(" | %s", note.Message))
	if note.Action != "" {
		sb.WriteString(fmt.Sprintf("\n    → %s", note.Action))
	}
	return sb.String()
}

// WriterHandler returns a handler that prints formatted notifications to w.
func WriterHandler(w io.Writer, colorEnabled bool) Handler {
	return func(n Notification) {
		fmt.Fprintln(w, Format(n, colorEnabled))
	}
}
