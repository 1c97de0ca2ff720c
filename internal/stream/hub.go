// Package stream доставляет события симуляции единственному подписчику.
// Служебные события (status, complete, error) доставляются строго, а
// live_data хранится в слоте на одно значение: медленный подписчик
// получает только последний снапшот и никогда не тормозит цикл симуляции.
package stream

import (
	"sync"
)

// EventType тип события потока
type EventType string

const (
	EventStatus   EventType = "status"
	EventLiveData EventType = "live_data"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event тегированное событие для подписчика
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// IsTerminal сообщает, закрывает ли событие поток
func (e Event) IsTerminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Hub канал доставки событий одного прогона. Публикация никогда не
// блокируется. После терминального события публикации игнорируются,
// поэтому за прогон уходит ровно одно complete либо error.
type Hub struct {
	mu       sync.Mutex
	strict   []Event // status/complete/error, не теряются
	live     *Event  // последний live_data, затирается новым
	terminal bool    // терминальное событие уже поставлено в очередь

	notify chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

// NewHub создаёт хаб и запускает доставку
func NewHub() *Hub {
	h := &Hub{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	go h.pump()
	return h
}

// Events возвращает канал подписчика. Канал закрывается после
// терминального события или Close.
func (h *Hub) Events() <-chan Event {
	return h.out
}

// Status публикует строку прогресса
func (h *Hub) Status(message string) {
	h.publish(Event{Type: EventStatus, Message: message})
}

// LiveData публикует снапшот. Недоставленный снапшот затирается.
func (h *Hub) LiveData(data any, message string) {
	h.publish(Event{Type: EventLiveData, Message: message, Data: data})
}

// Complete публикует итоговый ответ и завершает поток
func (h *Hub) Complete(data any) {
	h.publish(Event{Type: EventComplete, Data: data})
}

// Error публикует ошибку и завершает поток
func (h *Hub) Error(message string) {
	h.publish(Event{Type: EventError, Message: message})
}

// Close останавливает доставку. События после Close теряются.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	if h.terminal {
		h.mu.Unlock()
		return
	}

	if ev.Type == EventLiveData {
		h.live = &ev
	} else {
		h.strict = append(h.strict, ev)
		if ev.IsTerminal() {
			h.terminal = true
		}
	}
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// next отдаёт следующее событие: сначала строгая очередь, затем live-слот
func (h *Hub) next() (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.strict) > 0 {
		ev := h.strict[0]
		h.strict = h.strict[1:]
		return ev, true
	}
	if h.live != nil {
		ev := *h.live
		h.live = nil
		return ev, true
	}
	return Event{}, false
}

func (h *Hub) pump() {
	defer close(h.out)

	for {
		select {
		case <-h.done:
			return
		case <-h.notify:
		}

		for {
			ev, ok := h.next()
			if !ok {
				break
			}

			select {
			case h.out <- ev:
			case <-h.done:
				return
			}

			if ev.IsTerminal() {
				return
			}
		}
	}
}
