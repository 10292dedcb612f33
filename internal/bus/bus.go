package bus

import "log"

// Bus carries behavior events from the engine to whatever presentation
// layer is attached. Publishing never blocks the engine: when no
// consumer keeps up, the oldest buffered event is dropped.
type Bus struct {
	Events chan BehaviorEvent
}

func New(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &Bus{Events: make(chan BehaviorEvent, bufSize)}
}

// Publish enqueues an event, dropping the oldest buffered event if the
// channel is full. Ordering within a single caller is preserved.
func (b *Bus) Publish(ev BehaviorEvent) {
	for {
		select {
		case b.Events <- ev:
			return
		default:
		}
		select {
		case dropped := <-b.Events:
			log.Printf("[bus] dropping %s event, no consumer", dropped.Type)
		default:
		}
	}
}
