package console

import (
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/metrics"
)

// FrameBroadcaster manages fanout of JPEG frames to multiple clients. It is the
// preview container: the most recent frame is replayed to every new subscriber.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	latest  []byte
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewFrameBroadcaster creates an empty preview container.
func NewFrameBroadcaster(log *logger.Logger, m *metrics.Metrics) *FrameBroadcaster {
	if log == nil {
		log = logger.For("FrameBroadcaster")
	}
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
		log:     log,
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if fb.latest != nil {
		ch <- fb.latest
	}
	fb.clients[id] = ch
	if fb.metrics != nil {
		fb.metrics.ConsoleClients.Add(1)
	}

	fb.log.Debugf("Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.ConsoleClients.Add(-1)
		}
		fb.log.Debugf("Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Publish replaces the visible frame.
func (fb *FrameBroadcaster) Publish(frame []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.latest = frame
	for _, ch := range fb.clients {
		select {
		case ch <- frame:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

// Latest returns the visible frame, or nil before the first publish.
func (fb *FrameBroadcaster) Latest() []byte {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.latest
}

// SerializedEvent holds pre-serialized data in both formats so a broadcast to
// many SSE clients serializes once.
type SerializedEvent struct {
	JSONData     []byte
	ProtobufData []byte // base64 for SSE transport
}

// EventBroadcaster fans serialized events out to SSE and websocket clients.
// The last event is replayed to new subscribers.
type EventBroadcaster struct {
	name    string
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	latest  *SerializedEvent
	log     *logger.Logger
}

// NewEventBroadcaster creates a broadcaster; name tags its log lines.
func NewEventBroadcaster(name string, log *logger.Logger) *EventBroadcaster {
	if log == nil {
		log = logger.For(name)
	}
	return &EventBroadcaster{
		name:    name,
		clients: make(map[int]chan *SerializedEvent),
		log:     log,
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (eb *EventBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	ch := make(chan *SerializedEvent, 4)
	if eb.latest != nil {
		ch <- eb.latest
	}
	eb.clients[id] = ch

	eb.log.Debugf("%s client #%d subscribed (total clients: %d)", eb.name, id, len(eb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.clients[id]; ok {
		close(ch)
		delete(eb.clients, id)
		eb.log.Debugf("%s client #%d unsubscribed (remaining clients: %d)", eb.name, id, len(eb.clients))
	}
}

// Publish sends event to every client that has room for it.
func (eb *EventBroadcaster) Publish(event *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.latest = event
	for _, ch := range eb.clients {
		select {
		case ch <- event:
		default:
		}
	}
}
