package server

import (
	"sync"

	"github.com/autoforge/autoforge/internal/event"
	"github.com/autoforge/autoforge/internal/telemetry"
)

// wsClient is one subscriber to a task's event stream.
type wsClient struct {
	id     string
	taskID string // empty = subscribe to every task
	events chan event.TaskEvent
}

// Broker fans TaskEvents out to connected `/ws/tasks` clients. It
// implements event.Hook so the orchestrator's event.Bus can dispatch
// straight into it without either package knowing about the other.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
	logger  *telemetry.Logger
}

// NewBroker returns an empty Broker.
func NewBroker(logger *telemetry.Logger) *Broker {
	return &Broker{clients: make(map[string]*wsClient), logger: logger}
}

// subscribe registers a new client and returns its event channel; call
// unsubscribe when the connection closes.
func (b *Broker) subscribe(id, taskID string) *wsClient {
	c := &wsClient{id: id, taskID: taskID, events: make(chan event.TaskEvent, 64)}
	b.mu.Lock()
	b.clients[id] = c
	b.mu.Unlock()
	return c
}

func (b *Broker) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[id]; ok {
		close(c.events)
		delete(b.clients, id)
	}
}

func (b *Broker) broadcast(ev event.TaskEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		if c.taskID != "" && c.taskID != ev.TaskID {
			continue
		}
		select {
		case c.events <- ev:
		default:
			if b.logger != nil {
				b.logger.Warn("dropping task event for slow ws client", "client", c.id)
			}
		}
	}
}

// --- event.Hook ---

func (b *Broker) Name() string { return "ws-broker" }

func (b *Broker) Matches(_ event.Kind) bool { return true }

func (b *Broker) IsBlocking() bool { return false }

func (b *Broker) Handle(ev event.TaskEvent) error {
	b.broadcast(ev)
	return nil
}
