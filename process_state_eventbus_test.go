package sheetwise

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/sheetwise/internal/eventbus"
)

func TestStateMachine_EventBus_EmitsEvents(t *testing.T) {
	bus := eventbus.NewChannelEventBus(
		eventbus.WithBufferSize(10),
		eventbus.WithWorkerCount(1),
		eventbus.WithRetries(1, 10*time.Millisecond),
	)
	defer bus.Close()

	var mu sync.Mutex
	emitted := make(map[eventbus.EventType]bool)
	allSeen := make(chan struct{})
	handler := func(ctx context.Context, evt eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		emitted[evt.Type()] = true
		if emitted[eventbus.EventInterpretationStarted] &&
			emitted[eventbus.EventPlanValidationFailed] &&
			emitted[eventbus.EventClarificationNeeded] &&
			emitted[eventbus.EventInterpretationSuccess] {
			select {
			case <-allSeen:
			default:
				close(allSeen)
			}
		}
		return nil
	}
	if _, err := bus.SubscribeAll(handler); err != nil {
		t.Fatalf("SubscribeAll failed: %v", err)
	}

	// Dedup before split is invalid, so the result is not ready.
	plan := Plan{
		NewAction(ActionRemoveDuplicates, "Remove duplicates", nil),
		NewAction(ActionSplitColumn, "Split name", nil),
	}
	sm := createInterpretStateMachine(testComponents(staticResolver(&Response{Source: "openai", Plan: plan, Confidence: 0.9})), bus)

	result, err := sm.Execute(context.Background(), NewProcessContext("req-ev", "dedupe then split", WorkbookHints{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Ready {
		t.Error("invalid plan must not be ready")
	}

	select {
	case <-allSeen:
	case <-time.After(time.Second):
		mu.Lock()
		t.Errorf("missing lifecycle events, saw %v", emitted)
		mu.Unlock()
	}
}
