package sheetwise

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/sheetwise/internal/eventbus"
	"go.uber.org/zap"
)

// serviceComponents is what the transitions need from a Service.
type serviceComponents struct {
	Resolver       Resolver
	Clarifier      Clarifier
	FormulaChecker FormulaChecker
	Config         Config
	Logger         *zap.Logger
}

// createInterpretStateMachine wires init -> resolving -> validating ->
// summarizing -> complete.
func createInterpretStateMachine(components serviceComponents, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateInit, createInitTransition(components))
	sm.RegisterTransition(StateResolving, createResolvingTransition(components))
	sm.RegisterTransition(StateValidating, createValidatingTransition(components))
	sm.RegisterTransition(StateSummarizing, createSummarizingTransition(components))

	return sm
}

// publish delivers an event without tying its delivery to the request's
// cancellation.
func publish(ctx context.Context, eb eventbus.EventBus, logger *zap.Logger, event eventbus.Event) {
	eventbus.Emit(ctx, eb, logger, event)
}

func createInitTransition(components serviceComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		publish(ctx, eb, components.Logger, eventbus.NewEvent(
			eventbus.EventInterpretationStarted,
			pCtx.Request,
			"StateMachine.Init",
			map[string]interface{}{
				"request_id": pCtx.RequestID,
				"timestamp":  time.Now().Format(time.RFC3339),
			},
		))
		return StateResolving, nil
	}
}

func createResolvingTransition(components serviceComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		resp, err := components.Resolver.Resolve(ctx, pCtx.Request)
		if err != nil {
			if ctx.Err() != nil {
				return StateCancelled, ctx.Err()
			}
			publish(ctx, eb, components.Logger, eventbus.NewEvent(
				eventbus.EventInterpretationFailure,
				pCtx.Request,
				"StateMachine.Resolving",
				map[string]interface{}{
					"request_id": pCtx.RequestID,
					"error":      err.Error(),
					"stage":      string(StateResolving),
				},
			))
			return StateError, err
		}
		if resp == nil {
			return StateError, NewInternalError(string(StateResolving), "resolver returned no response", nil)
		}

		pCtx.Response = resp
		return StateValidating, nil
	}
}

func createValidatingTransition(components serviceComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		plan := pCtx.Response.Plan
		pCtx.Validation = ValidatePlan(plan)
		pCtx.Clarifications = append([]string{}, pCtx.Response.Clarifications...)

		if components.FormulaChecker != nil {
			for _, action := range plan {
				params, ok := action.Params.(AddCalculatedColumnParams)
				if !ok || params.Formula == "" {
					continue
				}
				if err := components.FormulaChecker.Check(params.Formula); err != nil {
					components.Logger.Debug("formula lint failed",
						zap.String("formula", params.Formula), zap.Error(err))
					pCtx.Clarifications = append(pCtx.Clarifications, formulaQuestion(params))
				}
			}
		}

		if !pCtx.Validation.Valid {
			publish(ctx, eb, components.Logger, eventbus.NewEvent(
				eventbus.EventPlanValidationFailed,
				pCtx.Validation.Errors,
				"StateMachine.Validating",
				map[string]interface{}{"request_id": pCtx.RequestID},
			))
		}
		return StateSummarizing, nil
	}
}

func formulaQuestion(params AddCalculatedColumnParams) string {
	column := params.ColumnName
	if column == "" {
		column = "the new column"
	}
	return fmt.Sprintf("The formula %q for %s could not be read. Could you restate the calculation?", params.Formula, column)
}

func createSummarizingTransition(components serviceComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		resp := pCtx.Response
		threshold := components.Config.AcceptThreshold

		clarifications := pCtx.Clarifications
		confident := resp.Confidence >= threshold
		if !confident && len(clarifications) == 0 {
			question := components.Config.DefaultClarification
			if components.Clarifier != nil {
				if q := components.Clarifier.AskClarification(ctx, pCtx.Request, pCtx.Hints); q != "" {
					question = q
				}
			}
			clarifications = append(clarifications, question)
		}

		result := &Result{
			RequestID:      pCtx.RequestID,
			Source:         resp.Source,
			Contributors:   resp.Contributors,
			Plan:           resp.Plan,
			Summary:        resp.Summary,
			PlanSummary:    SummarizePlan(resp.Plan),
			Confidence:     resp.Confidence,
			Clarifications: clarifications,
			Validation:     pCtx.Validation,
			Ready:          pCtx.Validation.Valid && confident,
		}

		if !result.Ready {
			publish(ctx, eb, components.Logger, eventbus.NewEvent(
				eventbus.EventClarificationNeeded,
				result.Clarifications,
				"StateMachine.Summarizing",
				map[string]interface{}{
					"request_id": pCtx.RequestID,
					"confidence": result.Confidence,
				},
			))
		}

		publish(ctx, eb, components.Logger, eventbus.NewEvent(
			eventbus.EventInterpretationSuccess,
			pCtx.Request,
			"StateMachine.Summarizing",
			map[string]interface{}{
				"request_id":   pCtx.RequestID,
				"source":       result.Source,
				"action_count": len(result.Plan),
				"ready":        result.Ready,
			},
		))

		pCtx.setResult(result)
		return StateComplete, nil
	}
}
