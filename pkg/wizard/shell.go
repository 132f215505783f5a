// Package wizard composes the draft store, step controller, validation gate and
// submission coordinator into one application wizard per session.
package wizard

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/intake/pkg/draft"
	"github.com/Ramsey-B/intake/pkg/models"
	"github.com/Ramsey-B/intake/pkg/submission"
	"github.com/Ramsey-B/intake/pkg/validation"
)

// Navigator is the step controller the shell drives
type Navigator interface {
	CurrentStep() int
	Total() int
	GoToStep(n int) bool
	NextStep() bool
	PrevStep() bool
	IsFirstStep() bool
	IsLastStep() bool
}

// StepView is what a client needs to render the current step.
type StepView struct {
	Step    int                    `json:"step"`
	Total   int                    `json:"total"`
	IsFirst bool                   `json:"is_first"`
	IsLast  bool                   `json:"is_last"`
	Fields  []models.StepKey       `json:"fields"`
	Values  map[models.StepKey]any `json:"values"`
	// URL is filled in by the transport from the navigation state
	URL string `json:"url,omitempty"`
}

// NavigationResult reports a Next/Previous attempt
type NavigationResult struct {
	Moved        bool                     `json:"moved"`
	Outcome      models.ValidationOutcome `json:"outcome"`
	FirstInvalid string                   `json:"first_invalid,omitempty"`
	View         StepView                 `json:"view"`
}

// Shell is one session's wizard.
type Shell struct {
	sessionID   string
	store       *draft.Store
	gate        *validation.Gate
	coordinator *submission.Coordinator
	logger      ectologger.Logger
}

func NewShell(sessionID string, store *draft.Store, gate *validation.Gate, coordinator *submission.Coordinator, logger ectologger.Logger) *Shell {
	if logger == nil {
		logger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	}
	return &Shell{
		sessionID:   sessionID,
		store:       store,
		gate:        gate,
		coordinator: coordinator,
		logger:      logger,
	}
}

func (s *Shell) SessionID() string {
	return s.sessionID
}

// Draft returns a copy of the whole draft
func (s *Shell) Draft() models.FormDraft {
	return s.store.Draft()
}

// View renders the current step with the values already entered for it.
func (s *Shell) View(nav Navigator) StepView {
	step := nav.CurrentStep()
	fields := s.gate.Fields(step)

	values := make(map[models.StepKey]any, len(fields))
	for _, key := range fields {
		values[key] = s.store.GetStepData(key)
	}

	return StepView{
		Step:    step,
		Total:   nav.Total(),
		IsFirst: nav.IsFirstStep(),
		IsLast:  nav.IsLastStep(),
		Fields:  fields,
		Values:  values,
	}
}

// Change merges a partial draft; persistence is debounced.
func (s *Shell) Change(partial models.FormDraft) models.FormDraft {
	return s.store.Update(partial)
}

// ChangeStep replaces one step group from raw JSON.
func (s *Shell) ChangeStep(key models.StepKey, raw json.RawMessage) (models.FormDraft, error) {
	return s.store.UpdateStepData(key, raw)
}

// Next validates the current step and advances only when it passes. A passing step
// is flushed to storage before the move so the restored draft matches what was validated.
func (s *Shell) Next(ctx context.Context, nav Navigator) NavigationResult {
	step := nav.CurrentStep()
	outcome := s.gate.ValidateStep(s.store.Draft(), step)
	if !outcome.Valid {
		first, _ := validation.FirstInvalidField(outcome)
		s.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"session_id": s.sessionID,
			"step":       step,
			"invalid":    len(outcome.Errors),
		}).Debugf("Step %d failed validation", step)
		return NavigationResult{Outcome: outcome, FirstInvalid: first, View: s.View(nav)}
	}

	s.store.Flush(ctx)
	moved := nav.NextStep()
	return NavigationResult{Moved: moved, Outcome: outcome, View: s.View(nav)}
}

// Previous goes back one step without validating.
func (s *Shell) Previous(nav Navigator) NavigationResult {
	moved := nav.PrevStep()
	return NavigationResult{
		Moved:   moved,
		Outcome: models.ValidationOutcome{Step: nav.CurrentStep(), Valid: true},
		View:    s.View(nav),
	}
}

// Reset discards the draft and returns to step 1
func (s *Shell) Reset(ctx context.Context, nav Navigator) StepView {
	s.store.Clear(ctx)
	nav.GoToStep(1)
	return s.View(nav)
}

// Submit is only offered on the last step, once that step passes.
func (s *Shell) Submit(ctx context.Context, nav Navigator) submission.Result {
	if !nav.IsLastStep() {
		return submission.Failed(submission.FailureNotReady, "submission is only available on the last step")
	}

	outcome := s.gate.ValidateStep(s.store.Draft(), nav.CurrentStep())
	if !outcome.Valid {
		result := submission.Failed(submission.FailureValidation, "Please complete the current step before submitting")
		result.Errors = outcome.Errors
		return result
	}

	s.store.Flush(ctx)
	return s.coordinator.Submit(ctx, s.store, nav)
}

// History returns the session's submission attempts
func (s *Shell) History() []models.SubmissionRecord {
	return s.coordinator.History()
}

// SubmissionState returns the coordinator state
func (s *Shell) SubmissionState() submission.State {
	return s.coordinator.State()
}

// Close flushes any pending draft write and stops the store.
func (s *Shell) Close(ctx context.Context) {
	s.store.Flush(ctx)
	s.store.Close()
}
