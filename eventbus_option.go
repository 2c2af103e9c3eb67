package sheetwise

import "github.com/ZanzyTHEbar/sheetwise/internal/eventbus"

// WithEventBus sets the event bus lifecycle events are published on. A
// supplied bus is not closed by Service.Close.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *Service) {
		s.eventBus = bus
	}
}
