package events

import (
	"context"
	"sync"

	"github.com/rematch-coach/rematch-coach/src/instance"
	"github.com/rematch-coach/rematch-coach/src/interfaces"
)

type EventType string

// Event is one notification on the process-wide bus. Object carries the
// payload and is type-asserted by listeners.
type Event struct {
	Type   EventType
	Object interface{}
}

func NewEvent(eventType EventType, object interface{}) *Event {
	return &Event{
		Type:   eventType,
		Object: object,
	}
}

type EventHandler func(event *Event)

type EventListener struct {
	Handler EventHandler
}

func NewEventListener(handler EventHandler) *EventListener {
	return &EventListener{
		Handler: handler,
	}
}

type Dispatcher interface {
	interfaces.Module
	AddEventListener(eventType EventType, listener *EventListener)
	RemoveEventListener(eventType EventType, listener *EventListener)
	RemoveAllEventListener(eventType EventType)
	DispatchEvent(event *Event)
}

// NewDispatcher creates the dispatcher and registers it on the instance.
func NewDispatcher(ctx context.Context) Dispatcher {
	ed := &dispatcher{
		savers: make(map[EventType]map[*EventListener]struct{}),
	}
	if inst := instance.GetInstance(ctx); inst != nil {
		inst.EventDispatcher = ed
	}
	return ed
}

type dispatcher struct {
	lock   sync.RWMutex
	savers map[EventType]map[*EventListener]struct{}
}

func (d *dispatcher) Start(ctx context.Context) error {
	return nil
}

func (d *dispatcher) Close(ctx context.Context) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.savers = make(map[EventType]map[*EventListener]struct{})
}

func (d *dispatcher) AddEventListener(eventType EventType, listener *EventListener) {
	d.lock.Lock()
	defer d.lock.Unlock()
	listeners, ok := d.savers[eventType]
	if !ok {
		listeners = make(map[*EventListener]struct{})
		d.savers[eventType] = listeners
	}
	listeners[listener] = struct{}{}
}

func (d *dispatcher) RemoveEventListener(eventType EventType, listener *EventListener) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if listeners, ok := d.savers[eventType]; ok {
		delete(listeners, listener)
	}
}

func (d *dispatcher) RemoveAllEventListener(eventType EventType) {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.savers, eventType)
}

// DispatchEvent delivers the event to every registered listener in the
// caller's goroutine. Synchronous delivery keeps bus events ordered the same
// way the operations that produced them were.
func (d *dispatcher) DispatchEvent(event *Event) {
	if event == nil {
		return
	}
	d.lock.RLock()
	listeners := make([]*EventListener, 0, len(d.savers[event.Type]))
	for listener := range d.savers[event.Type] {
		listeners = append(listeners, listener)
	}
	d.lock.RUnlock()
	for _, listener := range listeners {
		listener.Handler(event)
	}
}
