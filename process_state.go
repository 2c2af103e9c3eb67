package sheetwise

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/sheetwise/internal/eventbus"
)

// ProcessState represents the current state of an interpretation.
type ProcessState string

const (
	// StateInit is the initial state of the process
	StateInit ProcessState = "init"
	// StateResolving asks the resolver for the best interpretation
	StateResolving ProcessState = "resolving"
	// StateValidating checks plan ordering and lints formulas
	StateValidating ProcessState = "validating"
	// StateSummarizing builds the user-facing result
	StateSummarizing ProcessState = "summarizing"
	// StateError represents an error state
	StateError ProcessState = "error"
	// StateComplete represents the completed state
	StateComplete ProcessState = "complete"
	// StateCancelled represents the cancelled state
	StateCancelled ProcessState = "cancelled"
	// StateUnknown is reported when an async interpretation cannot be found.
	StateUnknown ProcessState = "unknown"
)

// ProcessContext carries one interpretation through the state machine.
// Fields written by transitions are only read by the machine's goroutine;
// status readers use Snapshot.
type ProcessContext struct {
	RequestID string
	Request   string
	Hints     WorkbookHints

	// Intermediate results
	Response       *Response
	Validation     Validation
	Clarifications []string
	Result         *Result

	LastError  error
	ErrorStage string

	CurrentState ProcessState
	History      []ProcessState

	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[ProcessState]time.Time

	mu sync.RWMutex
}

// NewProcessContext creates a process context for a prepared request.
func NewProcessContext(requestID, request string, hints WorkbookHints) *ProcessContext {
	now := time.Now()
	return &ProcessContext{
		RequestID:       requestID,
		Request:         request,
		Hints:           hints,
		CurrentState:    StateInit,
		History:         []ProcessState{StateInit},
		StartTime:       now,
		StateStartTimes: map[ProcessState]time.Time{StateInit: now},
	}
}

// State returns the current state.
func (pc *ProcessContext) State() ProcessState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.CurrentState
}

func (pc *ProcessContext) enter(state ProcessState) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.enterLocked(state)
}

func (pc *ProcessContext) enterLocked(state ProcessState) {
	now := time.Now()
	pc.CurrentState = state
	pc.History = append(pc.History, state)
	pc.StateStartTimes[state] = now
	if isTerminal(state) {
		pc.EndTime = now
	}
}

func isTerminal(state ProcessState) bool {
	return state == StateComplete || state == StateError || state == StateCancelled
}

// IsTerminal checks if the current state is complete, error or cancelled.
func (pc *ProcessContext) IsTerminal() bool {
	return isTerminal(pc.State())
}

// SetError records err and moves to StateError.
func (pc *ProcessContext) SetError(err error, stage string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.LastError = err
	pc.ErrorStage = stage
	pc.enterLocked(StateError)
}

// SetCancelled records the cancellation cause and moves to StateCancelled.
func (pc *ProcessContext) SetCancelled(err error, stage string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.LastError = err
	pc.ErrorStage = stage
	pc.enterLocked(StateCancelled)
}

// Complete stores the result and moves to StateComplete.
func (pc *ProcessContext) Complete(result *Result) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.Result = result
	pc.enterLocked(StateComplete)
}

func (pc *ProcessContext) setResult(result *Result) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.Result = result
}

// TotalDuration returns the time from start to the terminal state, or to now.
func (pc *ProcessContext) TotalDuration() time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	if isTerminal(pc.CurrentState) {
		return pc.EndTime.Sub(pc.StartTime)
	}
	return time.Since(pc.StartTime)
}

// ProcessSnapshot is a consistent copy of a ProcessContext's progress.
type ProcessSnapshot struct {
	State      ProcessState
	Result     *Result
	Err        error
	ErrorStage string
	StartTime  time.Time
	Duration   time.Duration
}

// Snapshot copies the externally visible progress under the lock.
func (pc *ProcessContext) Snapshot() ProcessSnapshot {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	end := time.Now()
	if isTerminal(pc.CurrentState) {
		end = pc.EndTime
	}
	return ProcessSnapshot{
		State:      pc.CurrentState,
		Result:     pc.Result,
		Err:        pc.LastError,
		ErrorStage: pc.ErrorStage,
		StartTime:  pc.StartTime,
		Duration:   end.Sub(pc.StartTime),
	}
}

// StateTransition runs one state and names the next.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error)

// StateMachine drives a ProcessContext from StateInit to a terminal state.
type StateMachine struct {
	transitions map[ProcessState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a state machine with no transitions.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[ProcessState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers the transition run while in state.
func (sm *StateMachine) RegisterTransition(state ProcessState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs transitions until the context reaches a terminal state.
func (sm *StateMachine) Execute(ctx context.Context, pCtx *ProcessContext) (*Result, error) {
	for !pCtx.IsTerminal() {
		stage := string(pCtx.State())

		if err := ctx.Err(); err != nil {
			pCtx.SetCancelled(err, stage)
			break
		}

		transition, exists := sm.transitions[pCtx.State()]
		if !exists {
			pCtx.SetError(NewInternalError(stage, fmt.Sprintf("no transition defined for state: %s", stage), nil), stage)
			break
		}

		nextState, err := transition(ctx, sm.eventBus, pCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				pCtx.SetCancelled(err, stage)
			} else {
				pCtx.SetError(err, stage)
			}
			break
		}

		if nextState == StateComplete {
			// The summarizing transition stores the result before completing.
			pCtx.Complete(pCtx.Result)
			break
		}
		pCtx.enter(nextState)
	}

	snap := pCtx.Snapshot()
	if snap.State == StateComplete {
		return snap.Result, nil
	}
	return nil, snap.Err
}
