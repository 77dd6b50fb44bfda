// Package events is the in-process notification bus. Components publish a
// typed event after every mutation so views and caches know to re-read the
// stores.
package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/VoteDrop/internal/logging"
)

// Name identifies a kind of event.
type Name string

const (
	DatasetUploaded    Name = "datasetUploaded"
	DatasetVerified    Name = "datasetVerified"
	DatasetDeleted     Name = "datasetDeleted"
	CleanedDataApplied Name = "cleanedDataApplied"
	StorageChanged     Name = "storageChanged"
)

// Event is delivered to subscribers. DatasetID is empty for events that are
// not about a single dataset.
type Event struct {
	Name      Name      `json:"name"`
	DatasetID string    `json:"datasetId,omitempty"`
	At        time.Time `json:"at"`
}

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id      uint64
	name    Name
	all     bool
	handler Handler
}

// Bus fans events out to the handlers registered at publish time. Delivery is
// synchronous and in registration order; nothing is queued for handlers that
// subscribe later.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	log    *logrus.Entry
}

// NewBus constructs a Bus. A nil logger discards handler panics silently.
func NewBus(logger logrus.FieldLogger) *Bus {
	return &Bus{log: logging.Component(logger, "events")}
}

// Subscribe registers handler for one event name and returns a function that
// removes it again.
func (b *Bus) Subscribe(name Name, handler Handler) func() {
	return b.add(subscription{name: name, handler: handler})
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) func() {
	return b.add(subscription{all: true, handler: handler})
}

func (b *Bus) add(sub subscription) func() {
	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every matching handler before returning.
func (b *Bus) Publish(name Name, datasetID string) {
	if b == nil {
		return
	}
	ev := Event{Name: name, DatasetID: datasetID, At: time.Now().UTC()}
	// Snapshot under the read lock so handlers may (un)subscribe while we
	// deliver without deadlocking.
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.all || s.name == name {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()
	for _, h := range targets {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("event", ev.Name).Errorf("handler panicked: %v", r)
		}
	}()
	h(ev)
}
