// Package events is a small synchronous publish/subscribe bus. Subscribers
// are addressed by the Handle they got back, never by reference.
package events

import (
	"slices"
	"sync"

	"github.com/glabrego/feedtree/internal/display"
)

type Kind int

const (
	// RowsChanged carries re-projected rows for dirty entries.
	RowsChanged Kind = iota + 1
	// TreeChanged is published after a structural change; Rows holds every row.
	TreeChanged
	// DragRejected carries the validation error of a refused move.
	DragRejected
	// FetchFailed reports a feed whose fetch ended in an error.
	FetchFailed
)

func (k Kind) String() string {
	switch k {
	case RowsChanged:
		return "rows_changed"
	case TreeChanged:
		return "tree_changed"
	case DragRejected:
		return "drag_rejected"
	case FetchFailed:
		return "fetch_failed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind Kind
	Rows []display.Row
	ID   int64
	Err  error
}

// Handle identifies a subscription. The zero Handle is never issued.
type Handle uint64

type subscriber struct {
	handle Handle
	fn     func(Event)
}

type Bus struct {
	mu   sync.Mutex
	next Handle
	subs []subscriber
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(fn func(Event)) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.subs = append(b.subs, subscriber{handle: b.next, fn: fn})
	return b.next
}

// Unsubscribe reports whether h was registered.
func (b *Bus) Unsubscribe(h Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.subs)
	b.subs = slices.DeleteFunc(b.subs, func(s subscriber) bool { return s.handle == h })
	return len(b.subs) != n
}

// Publish calls every subscriber in registration order. Subscribers may
// unsubscribe themselves while being called.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := slices.Clone(b.subs)
	b.mu.Unlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
