package app

// EventType identifies engine events.
type EventType int

const (
	EventAttemptAdded EventType = iota
	EventBufferCleared
	EventItemFinalized
	EventLabelChanged
	EventBufferSaved
)

func (e EventType) String() string {
	switch e {
	case EventAttemptAdded:
		return "attempt_added"
	case EventBufferCleared:
		return "buffer_cleared"
	case EventItemFinalized:
		return "item_finalized"
	case EventLabelChanged:
		return "label_changed"
	case EventBufferSaved:
		return "buffer_saved"
	}
	return "unknown"
}

// EventListener is called when an event occurs. Listeners run synchronously
// on the goroutine that caused the event.
type EventListener func(data interface{})

// On registers an event listener for the specified event type.
func (s *State) On(event EventType, listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (s *State) Emit(event EventType, data interface{}) {
	s.mu.RLock()
	listeners := s.listeners[event]
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}
