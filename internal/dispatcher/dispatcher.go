// Package dispatcher раздает входящие события подписчикам по виду события.
package dispatcher

import (
	"sync"

	"Pairline/internal/models"
)

// All - подписка на все виды событий
const All models.EventKind = "all"

type Handler func(models.CollaborationEvent)

// HandlerID идентифицирует подписку для Off
type HandlerID uint64

type entry struct {
	id      HandlerID
	handler Handler
}

// Dispatcher - реестр подписчиков вида "вид события -> список обработчиков"
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   HandlerID
	handlers map[models.EventKind][]entry
}

func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[models.EventKind][]entry)}
}

// On регистрирует обработчик для точного вида события или для All
func (d *Dispatcher) On(kind models.EventKind, h Handler) HandlerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.handlers[kind] = append(d.handlers[kind], entry{id: d.nextID, handler: h})
	return d.nextID
}

// Off снимает обработчик. Неизвестный id игнорируется
func (d *Dispatcher) Off(kind models.EventKind, id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.handlers[kind]
	for i, e := range list {
		if e.id != id {
			continue
		}
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(d.handlers, kind)
		} else {
			d.handlers[kind] = next
		}
		return
	}
}

// Clear снимает все обработчики
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.handlers = make(map[models.EventKind][]entry)
	d.mu.Unlock()
}

// Len возвращает число обработчиков для вида события
func (d *Dispatcher) Len(kind models.EventKind) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[kind])
}

// Emit вызывает обработчики вида события, затем подписчиков All, в порядке регистрации.
// Паника обработчика не перехватывается и прерывает рассылку.
func (d *Dispatcher) Emit(ev models.CollaborationEvent) {
	d.mu.RLock()
	exact := d.handlers[ev.Type]
	var wildcard []entry
	if ev.Type != All {
		wildcard = d.handlers[All]
	}
	d.mu.RUnlock()

	for _, e := range exact {
		e.handler(ev)
	}
	for _, e := range wildcard {
		e.handler(ev)
	}
}
