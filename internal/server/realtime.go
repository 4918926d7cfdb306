package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/content"
)

const (
	RealtimeEventSnapshot  = "snapshot"
	realtimeEventHeartbeat = "heartbeat"
	realtimeTopicContent   = "content"
	realtimeSourceBackend  = "folio-backend"
)

type RealtimeMessage struct {
	Topic      string
	EventType  string
	Collection string
	Source     string
	Count      int
	Timestamp  time.Time
}

type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, topic string) (<-chan RealtimeMessage, func()) {
	if topic == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(topic, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(topic, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish fans message out without blocking; subscribers with a full buffer miss it.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.Topic == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Topic]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// ConnectContent republishes every view change of the content service as a snapshot event.
// The returned function detaches all listeners.
func (d *RealtimeDispatcher) ConnectContent(service *content.Service) func() {
	collections := append(content.EditableCollections(), content.CollectionIdentity)
	cancels := make([]func(), 0, len(collections))
	for _, collection := range collections {
		cancels = append(cancels, service.OnChange(collection, func(view content.View) {
			d.Publish(snapshotMessage(view))
		}))
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func snapshotMessage(view content.View) RealtimeMessage {
	return RealtimeMessage{
		Topic:      realtimeTopicContent,
		EventType:  RealtimeEventSnapshot,
		Collection: view.Collection,
		Source:     string(view.Source),
		Count:      len(view.Documents),
		Timestamp:  time.Now().UTC(),
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(topic string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[topic][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(topic string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
	d.mu.Unlock()
}
