package sheetwise

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/sheetwise/internal/eventbus"
	"go.uber.org/zap"
)

type asyncExecution struct {
	pCtx   *ProcessContext
	cancel context.CancelFunc
}

// AsyncStatus represents the status information for an async interpretation.
type AsyncStatus struct {
	ID           string        `json:"id"`
	Request      string        `json:"request"`
	State        ProcessState  `json:"state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// InterpretAsync validates text and starts interpreting it in the
// background. The returned ID is used with AsyncStatus, AsyncResult and
// CancelAsync. The run is detached from ctx's cancellation but keeps its
// values.
func (s *Service) InterpretAsync(ctx context.Context, text string, opts ...RequestOption) (string, error) {
	ro := newRequestOptions(opts)

	request, err := s.PrepareRequest(text)
	if err != nil {
		return "", err
	}

	pCtx := NewProcessContext(ro.requestID, request, ro.hints)
	asyncCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.asyncExecutionsMutex.Lock()
	if _, exists := s.asyncExecutions[ro.requestID]; exists {
		s.asyncExecutionsMutex.Unlock()
		cancel()
		return "", NewValidationError("async", "request ID already in use", nil)
	}
	s.asyncExecutions[ro.requestID] = &asyncExecution{pCtx: pCtx, cancel: cancel}
	s.asyncWG.Add(1)
	s.asyncExecutionsMutex.Unlock()

	publish(ctx, s.eventBus, s.logger, eventbus.NewEvent(
		eventbus.EventAsyncInterpretationStarted,
		request,
		"Service.InterpretAsync",
		map[string]interface{}{
			"timestamp":  time.Now().Format(time.RFC3339),
			"request_id": ro.requestID,
		},
	))

	go func() {
		defer s.asyncWG.Done()
		defer cancel()

		_, err := s.run(asyncCtx, pCtx, ro)

		eventType := eventbus.EventAsyncInterpretationSuccess
		metadata := map[string]interface{}{
			"request_id":  ro.requestID,
			"duration_ms": pCtx.TotalDuration().Milliseconds(),
		}
		if err != nil {
			eventType = eventbus.EventAsyncInterpretationFailure
			metadata["error"] = err.Error()
			metadata["error_stage"] = pCtx.Snapshot().ErrorStage
			s.logger.Debug("async interpretation ended with error", zap.String("request_id", ro.requestID), zap.Error(err))
		}
		publish(asyncCtx, s.eventBus, s.logger, eventbus.NewEvent(eventType, request, "Service.InterpretAsync", metadata))
	}()

	return ro.requestID, nil
}

func (s *Service) lookupAsync(id string) (*asyncExecution, error) {
	s.asyncExecutionsMutex.RLock()
	defer s.asyncExecutionsMutex.RUnlock()

	exec, exists := s.asyncExecutions[id]
	if !exists {
		return nil, NewNotFoundError("async", "interpretation '"+id+"'")
	}
	return exec, nil
}

// AsyncStatus retrieves the current status of an async interpretation.
func (s *Service) AsyncStatus(id string) (*AsyncStatus, error) {
	exec, err := s.lookupAsync(id)
	if err != nil {
		return nil, err
	}

	snap := exec.pCtx.Snapshot()
	status := &AsyncStatus{
		ID:         id,
		Request:    exec.pCtx.Request,
		State:      snap.State,
		StartTime:  snap.StartTime,
		Duration:   snap.Duration,
		IsComplete: snap.State == StateComplete,
		HasError:   snap.State == StateError || snap.State == StateCancelled,
	}
	if snap.Err != nil {
		status.ErrorMessage = snap.Err.Error()
		status.ErrorStage = snap.ErrorStage
	}
	return status, nil
}

// AsyncResult returns the result of a completed async interpretation, the
// error it failed with, or an IN_PROGRESS error while it is still running.
func (s *Service) AsyncResult(id string) (*Result, error) {
	exec, err := s.lookupAsync(id)
	if err != nil {
		return nil, err
	}

	snap := exec.pCtx.Snapshot()
	switch snap.State {
	case StateComplete:
		return snap.Result, nil
	case StateError, StateCancelled:
		return nil, snap.Err
	default:
		return nil, NewInProgressError("async", snap.State)
	}
}

// CancelAsync cancels a running async interpretation. It reports false if
// the interpretation had already finished.
func (s *Service) CancelAsync(id string) (bool, error) {
	exec, err := s.lookupAsync(id)
	if err != nil {
		return false, err
	}

	if exec.pCtx.IsTerminal() {
		return false, nil
	}
	exec.cancel()

	publish(context.Background(), s.eventBus, s.logger, eventbus.NewEvent(
		eventbus.EventAsyncInterpretationCancelled,
		exec.pCtx.Request,
		"Service.CancelAsync",
		map[string]interface{}{
			"request_id":  id,
			"duration_ms": exec.pCtx.TotalDuration().Milliseconds(),
		},
	))
	return true, nil
}

// ListAsync returns every tracked async interpretation and its state.
func (s *Service) ListAsync() map[string]ProcessState {
	s.asyncExecutionsMutex.RLock()
	defer s.asyncExecutionsMutex.RUnlock()

	result := make(map[string]ProcessState, len(s.asyncExecutions))
	for id, exec := range s.asyncExecutions {
		result[id] = exec.pCtx.State()
	}
	return result
}

// CleanupCompleted forgets finished async interpretations that ended more
// than olderThan ago and returns how many were removed.
func (s *Service) CleanupCompleted(olderThan time.Duration) int {
	s.asyncExecutionsMutex.Lock()
	defer s.asyncExecutionsMutex.Unlock()

	now := time.Now()
	count := 0
	for id, exec := range s.asyncExecutions {
		snap := exec.pCtx.Snapshot()
		if !isTerminal(snap.State) {
			continue
		}
		if now.Sub(snap.StartTime.Add(snap.Duration)) > olderThan {
			delete(s.asyncExecutions, id)
			count++
		}
	}
	return count
}
