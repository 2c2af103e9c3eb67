package eventbus

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EventType names a lifecycle transition.
type EventType string

const (
	EventInterpretationStarted   EventType = "interpretation_started"
	EventInterpretationSuccess   EventType = "interpretation_success"
	EventInterpretationFailure   EventType = "interpretation_failure"
	EventInterpretationCancelled EventType = "interpretation_cancelled"
	EventInterpretationCacheHit  EventType = "interpretation_cache_hit"
	EventClarificationNeeded     EventType = "clarification_needed"
	EventPlanValidationFailed    EventType = "plan_validation_failed"

	EventResolutionStarted EventType = "resolution_started"
	EventResolutionSuccess EventType = "resolution_success"
	EventResolutionFailure EventType = "resolution_failure"
	EventSourceSucceeded   EventType = "source_succeeded"
	EventSourceFailed      EventType = "source_failed"

	// EventAdapterFallback fires when a provider failed and the pattern
	// interpreter answered instead.
	EventAdapterFallback EventType = "adapter_fallback"

	EventAsyncInterpretationStarted   EventType = "async_interpretation_started"
	EventAsyncInterpretationSuccess   EventType = "async_interpretation_success"
	EventAsyncInterpretationFailure   EventType = "async_interpretation_failure"
	EventAsyncInterpretationCancelled EventType = "async_interpretation_cancelled"

	EventSystemError   EventType = "system_error"
	EventSystemWarning EventType = "system_warning"
	EventSystemInfo    EventType = "system_info"
)

// Fields carries the small scalar facts attached to an event, such as the
// provider name, a confidence or an error code.
type Fields = map[string]any

type EventHandler func(context.Context, Event) error

type Event interface {
	Type() EventType
	Payload() any
	Metadata() Fields
	// Timestamp is in Unix nanoseconds.
	Timestamp() int64
	// Source names the component that emitted the event.
	Source() string
}

type EventBus interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns an ID for Unsubscribe.
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)
	SubscribeAll(handler EventHandler) (string, error)
	Unsubscribe(subscriptionID string) error
	Close() error
}

// Emit publishes event on bus detached from ctx's cancellation. A nil bus is a
// no-op and publish failures are only logged, so callers never branch on them.
func Emit(ctx context.Context, bus EventBus, logger *zap.Logger, event Event) {
	if bus == nil {
		return
	}
	if err := bus.Publish(context.WithoutCancel(ctx), event); err != nil && logger != nil {
		logger.Debug("event not published", zap.String("event_type", string(event.Type())), zap.Error(err))
	}
}

// Record is the Event implementation every emitter uses. It marshals to JSON
// so subscribers can ship it elsewhere unchanged.
type Record struct {
	Kind   EventType `json:"type"`
	Data   any       `json:"payload,omitempty"`
	Fields Fields    `json:"metadata"`
	At     time.Time `json:"at"`
	Origin string    `json:"source,omitempty"`
}

// NewEmptyEvent creates an event with no payload, source, or metadata.
func NewEmptyEvent(eventType EventType) *Record {
	return NewEvent(eventType, nil, "", nil)
}

func NewEvent(eventType EventType, payload any, source string, metadata Fields) *Record {
	if metadata == nil {
		metadata = Fields{}
	}
	return &Record{
		Kind:   eventType,
		Data:   payload,
		Fields: metadata,
		At:     time.Now(),
		Origin: source,
	}
}

func (r *Record) Type() EventType  { return r.Kind }
func (r *Record) Payload() any     { return r.Data }
func (r *Record) Metadata() Fields { return r.Fields }
func (r *Record) Timestamp() int64 { return r.At.UnixNano() }
func (r *Record) Source() string   { return r.Origin }

// With sets one metadata field and returns r.
func (r *Record) With(key string, value any) *Record {
	r.Fields[key] = value
	return r
}

// Merge copies fields into r's metadata and returns r.
func (r *Record) Merge(fields Fields) *Record {
	for k, v := range fields {
		r.Fields[k] = v
	}
	return r
}

// LogHandler returns a handler that writes every event to logger at debug
// level, failures at warn.
func LogHandler(logger *zap.Logger) EventHandler {
	return func(_ context.Context, e Event) error {
		fields := make([]zap.Field, 0, len(e.Metadata())+2)
		fields = append(fields, zap.String("event_type", string(e.Type())), zap.String("source", e.Source()))
		for k, v := range e.Metadata() {
			fields = append(fields, zap.Any(k, v))
		}
		switch e.Type() {
		case EventInterpretationFailure, EventResolutionFailure, EventAsyncInterpretationFailure, EventSystemError:
			logger.Warn("event", fields...)
		default:
			logger.Debug("event", fields...)
		}
		return nil
	}
}
