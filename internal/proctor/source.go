package proctor

import (
	"slices"
	"strings"
	"sync"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventKind is the name of a raw browser event.
type EventKind string

const (
	EventFullscreenChange EventKind = "fullscreenchange"
	EventFullscreenError  EventKind = "fullscreenerror"
	EventCopy             EventKind = "copy"
	EventPaste            EventKind = "paste"
	EventKeyDown          EventKind = "keydown"
	EventVisibilityChange EventKind = "visibilitychange"
	EventContextMenu      EventKind = "contextmenu"
)

// Event is a raw browser event forwarded by the client.
type Event struct {
	Kind       EventKind `json:"kind" binding:"required,oneof=fullscreenchange fullscreenerror copy paste keydown visibilitychange contextmenu"`
	Fullscreen bool      `json:"fullscreen,omitempty"`
	Hidden     bool      `json:"hidden,omitempty"`
	Key        string    `json:"key,omitempty" binding:"max=32"`
	Ctrl       bool      `json:"ctrl,omitempty"`
	Meta       bool      `json:"meta,omitempty"`
	Detail     string    `json:"detail,omitempty" binding:"max=512"`
}

// EventSource delivers raw events to subscribers.
type EventSource interface {
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Feed is an in-process EventSource. Publish delivers synchronously and in
// call order to every current subscriber.
type Feed struct {
	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]func(Event))}
}

func (f *Feed) Subscribe(fn func(Event)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Publish hands e to all subscribers. Handlers run without the feed lock held.
func (f *Feed) Publish(e Event) {
	f.mu.Lock()
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		f.mu.Lock()
		fn, ok := f.subs[id]
		f.mu.Unlock()
		if ok {
			fn(e)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

var restrictedWithModifier = map[string]bool{
	"tab": true, "r": true, "w": true, "t": true, "n": true,
}

var restrictedAlone = map[string]bool{
	"escape": true, "f5": true, "f12": true,
}

// Classify maps a raw event onto the violation taxonomy. ok is false for
// events that are not violations.
func Classify(e Event) (vt model.ViolationType, label string, ok bool) {
	switch e.Kind {
	case EventFullscreenChange:
		if e.Fullscreen {
			return "", "", false
		}
		return model.ViolationFullscreenExit, "You exited fullscreen mode", true
	case EventCopy, EventPaste:
		return model.ViolationCopyPaste, "Copying or pasting content is not allowed", true
	case EventVisibilityChange:
		if !e.Hidden {
			return "", "", false
		}
		return model.ViolationTabSwitch, "Switching tabs or windows is not allowed", true
	case EventContextMenu:
		return model.ViolationContextMenu, "The context menu is disabled during the assessment", true
	case EventKeyDown:
		return classifyKey(e)
	}
	return "", "", false
}

func classifyKey(e Event) (model.ViolationType, string, bool) {
	key := strings.ToLower(e.Key)
	mod := e.Ctrl || e.Meta
	combo := keyCombo(e)

	switch {
	case mod && (key == "c" || key == "v"):
		return model.ViolationCopyPaste, "Keyboard copy/paste shortcut detected (" + combo + ")", true
	case restrictedAlone[key]:
		return model.ViolationRestrictedKey, "Restricted key detected (" + combo + ")", true
	case mod && restrictedWithModifier[key]:
		return model.ViolationRestrictedKey, "Restricted key combination detected (" + combo + ")", true
	}
	return "", "", false
}

func keyCombo(e Event) string {
	key := e.Key
	if len(key) == 1 {
		key = strings.ToUpper(key)
	}
	switch {
	case e.Meta:
		return "Cmd+" + key
	case e.Ctrl:
		return "Ctrl+" + key
	}
	return key
}
