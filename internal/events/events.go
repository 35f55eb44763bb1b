package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType int

const (
	// Control connection lifecycle events (admin CLI side)
	EventConnecting EventType = iota
	EventConnected
	EventDisconnected
	EventReconnecting

	// Tracking events
	EventTaskStarted
	EventTaskTransition
	EventTaskFinished
	EventCleanupDone

	// Pool events
	EventPoolChanged

	// Error events
	EventError

	// Log events (for TUI display)
	EventLog
)

var typeNames = map[EventType]string{
	EventConnecting:     "connecting",
	EventConnected:      "connected",
	EventDisconnected:   "disconnected",
	EventReconnecting:   "reconnecting",
	EventTaskStarted:    "task_started",
	EventTaskTransition: "task_transition",
	EventTaskFinished:   "task_finished",
	EventCleanupDone:    "cleanup_done",
	EventPoolChanged:    "pool_changed",
	EventError:          "error",
	EventLog:            "log",
}

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseType is the inverse of EventType.String.
func ParseType(name string) (EventType, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// TaskData contains data for task events.
type TaskData struct {
	TaskID  string `json:"task_id"`
	Phone   string `json:"phone"`
	CC      string `json:"cc"`
	UserID  uint   `json:"user_id"`
	Account string `json:"account"`
	State   string `json:"state"`
	Status  string `json:"status"`
	Checks  int    `json:"checks"`
}

// CleanupData contains data for EventCleanupDone.
type CleanupData struct {
	Phone   string `json:"phone"`
	UserID  uint   `json:"user_id"`
	Targets int    `json:"targets"`
	Deleted int    `json:"deleted"`
	Absent  int    `json:"absent"`
	Failed  int    `json:"failed"`
}

// PoolData contains data for EventPoolChanged.
type PoolData struct {
	UserID    uint   `json:"user_id"`
	AccountID uint   `json:"account_id"`
	Account   string `json:"account"`
	Usage     int    `json:"usage"`
	Capacity  int    `json:"capacity"`
}

// ConnectedData contains data for EventConnected.
type ConnectedData struct {
	ServerAddr string        `json:"server_addr"`
	Latency    time.Duration `json:"latency"`
}

// ReconnectingData contains data for EventReconnecting.
type ReconnectingData struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
	Error   string        `json:"error"`
}

// ErrorData contains data for EventError.
type ErrorData struct {
	Error   string `json:"error"`
	Context string `json:"context"`
}

// LogData contains data for EventLog.
type LogData struct {
	Level   string `json:"level"` // "info", "warn", "error"
	Message string `json:"message"`
}

// DecodeData unmarshals a JSON payload into the data struct matching t.
func DecodeData(t EventType, raw json.RawMessage) (interface{}, error) {
	var v interface{}
	switch t {
	case EventTaskStarted, EventTaskTransition, EventTaskFinished:
		v = &TaskData{}
	case EventCleanupDone:
		v = &CleanupData{}
	case EventPoolChanged:
		v = &PoolData{}
	case EventConnected:
		v = &ConnectedData{}
	case EventReconnecting:
		v = &ReconnectingData{}
	case EventError:
		v = &ErrorData{}
	case EventLog:
		v = &LogData{}
	default:
		return nil, nil
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	switch d := v.(type) {
	case *TaskData:
		return *d, nil
	case *CleanupData:
		return *d, nil
	case *PoolData:
		return *d, nil
	case *ConnectedData:
		return *d, nil
	case *ReconnectingData:
		return *d, nil
	case *ErrorData:
		return *d, nil
	case *LogData:
		return *d, nil
	}
	return nil, nil
}

// Bus is a simple pub/sub event bus with fan-out delivery.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	bufferSize  int
	closed      bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return NewBusWithBuffer(100)
}

// NewBusWithBuffer creates a new event bus with custom buffer size.
func NewBusWithBuffer(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel that receives all published events.
// The caller is responsible for consuming events to avoid blocking.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			close(sub)
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers.
// Non-blocking: if a subscriber's buffer is full, the event is dropped for that subscriber.
// Publishing on a nil bus is a no-op.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// PublishType is a convenience method to publish an event with just a type.
func (b *Bus) PublishType(eventType EventType) {
	b.Publish(Event{Type: eventType})
}

// PublishError publishes an error event.
func (b *Bus) PublishError(err error, context string) {
	b.Publish(Event{
		Type: EventError,
		Data: ErrorData{Error: err.Error(), Context: context},
	})
}

// PublishLog publishes a log event.
func (b *Bus) PublishLog(level, message string) {
	b.Publish(Event{
		Type: EventLog,
		Data: LogData{Level: level, Message: message},
	})
}

// Close closes the event bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
