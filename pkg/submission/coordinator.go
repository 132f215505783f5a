// Package submission coordinates the terminal action of the wizard: final validation,
// optimistic bookkeeping, the remote call and cleanup.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/intake/pkg/events"
	"github.com/Ramsey-B/intake/pkg/metrics"
	"github.com/Ramsey-B/intake/pkg/models"
	"github.com/Ramsey-B/intake/pkg/tracing"
	"github.com/Ramsey-B/intake/pkg/validation"
)

// ErrInFlight is reported when a session submits while its previous submission is unresolved
var ErrInFlight = errors.New("a submission is already in progress")

// ErrGuardHeld is returned by a Guard when another holder owns the key
var ErrGuardHeld = errors.New("submission guard held")

type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// FailureKind tells callers why a submission did not succeed
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureValidation FailureKind = "validation"
	FailureRemote     FailureKind = "remote"
	FailureInFlight   FailureKind = "in_flight"
	FailureNotReady   FailureKind = "not_ready"
)

type NotificationLevel string

const (
	NotificationSuccess NotificationLevel = "success"
	NotificationError   NotificationLevel = "error"
)

// Notification is the user-facing message for a settled submission
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
	Link    string            `json:"link,omitempty"`
}

// Data is what a successful submission returns
type Data struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Result is the discriminated outcome of Submit; failures are never returned as errors.
type Result struct {
	Success      bool              `json:"success"`
	Message      string            `json:"message,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
	Data         *Data             `json:"data,omitempty"`
	Failure      FailureKind       `json:"failure,omitempty"`
	StatusCode   int               `json:"status_code,omitempty"`
	Notification *Notification     `json:"notification,omitempty"`
}

// Failed builds a failed Result with an error notification
func Failed(kind FailureKind, message string) Result {
	return Result{
		Success:      false,
		Message:      message,
		Failure:      kind,
		Notification: &Notification{Level: NotificationError, Message: message},
	}
}

// DraftSource is the draft the coordinator reads and clears
type DraftSource interface {
	Draft() models.FormDraft
	Clear(ctx context.Context)
}

// Navigator resets the wizard after success
type Navigator interface {
	GoToStep(n int) bool
}

// Validator performs the final whole-form validation
type Validator interface {
	Check(draft models.FormDraft) error
}

// Publisher announces accepted submissions
type Publisher interface {
	PublishSubmitted(ctx context.Context, event events.SubmittedEvent) error
}

// Guard is an optional cross-process in-flight guard keyed by session
type Guard interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithPublisher publishes an event for every accepted submission
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithGuard adds a shared in-flight guard on top of the in-process one
func WithGuard(g Guard) Option {
	return func(c *Coordinator) { c.guard = g }
}

// WithViewURL sets the deep-link template for created applications; %s is the id
func WithViewURL(template string) Option {
	return func(c *Coordinator) { c.viewURL = template }
}

func WithLogger(logger ectologger.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Coordinator runs submissions for one wizard session.
type Coordinator struct {
	sessionID string
	sender    Sender
	validator Validator
	publisher Publisher
	guard     Guard
	viewURL   string
	logger    ectologger.Logger
	now       func() time.Time

	mu      sync.Mutex
	state   State
	history []models.SubmissionRecord
}

func New(sessionID string, sender Sender, validator Validator, opts ...Option) *Coordinator {
	c := &Coordinator{
		sessionID: sessionID,
		sender:    sender,
		validator: validator,
		logger:    ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}),
		now:       time.Now,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current coordinator state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns a copy of the session's submission attempts, oldest first.
func (c *Coordinator) History() []models.SubmissionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.SubmissionRecord(nil), c.history...)
}

// Submit validates the draft, records the attempt optimistically, sends it and reconciles.
//
// On success the draft is cleared and the wizard returns to step 1. On failure the draft
// is left untouched and the optimistic record stays in History marked failed.
func (c *Coordinator) Submit(ctx context.Context, draft DraftSource, nav Navigator) Result {
	ctx, span := tracing.StartSpan(ctx, "submission.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("intake.session_id", c.sessionID))

	if !c.begin() {
		metrics.SubmissionsTotal.WithLabelValues("rejected_in_flight").Inc()
		return Failed(FailureInFlight, ErrInFlight.Error())
	}

	result := c.submit(ctx, draft, nav)

	c.finish(result.Success)
	if !result.Success {
		span.SetStatus(codes.Error, result.Message)
	}
	return result
}

func (c *Coordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSubmitting {
		return false
	}
	c.state = StateSubmitting
	return true
}

// finish settles the state machine; a failure returns to idle so the user can retry
func (c *Coordinator) finish(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.state = StateSucceeded
		return
	}
	c.state = StateIdle
}

func (c *Coordinator) submit(ctx context.Context, draft DraftSource, nav Navigator) Result {
	logger := c.logger.WithContext(ctx).WithField("session_id", c.sessionID)

	if c.guard != nil {
		release, err := c.guard.Acquire(ctx, c.sessionID)
		switch {
		case err == nil:
			defer release()
		case errors.Is(err, ErrGuardHeld):
			metrics.SubmissionsTotal.WithLabelValues("rejected_in_flight").Inc()
			return Failed(FailureInFlight, ErrInFlight.Error())
		default:
			logger.WithError(err).Warnf("Submission guard unavailable, continuing without it")
		}
	}

	values := draft.Draft()
	if err := c.validator.Check(values); err != nil {
		metrics.SubmissionsTotal.WithLabelValues(string(StateFailed)).Inc()
		return validationFailure(err)
	}

	payload := models.NewSubmissionPayload(values)
	attempt := c.appendPending(payload)

	start := time.Now()
	reply, err := c.sender.Send(ctx, payload)
	metrics.SubmissionDuration.Observe(time.Since(start).Seconds())

	if err != nil && reply.StatusCode == 0 {
		logger.WithError(err).Errorf("Submission request failed")
		return c.fail(attempt, 0, fmt.Sprintf("submission request failed: %v", err))
	}

	if reply.StatusCode < 200 || reply.StatusCode >= 300 {
		message := remoteMessage(reply.Body)
		if message == "" {
			message = fmt.Sprintf("submission failed with status %d", reply.StatusCode)
		}
		logger.WithField("status_code", reply.StatusCode).Warnf("Submission rejected: %s", message)
		return c.fail(attempt, reply.StatusCode, message)
	}

	var response models.SubmissionResponse
	if len(reply.Body) > 0 {
		if err := json.Unmarshal(reply.Body, &response); err != nil {
			logger.WithError(err).Warnf("Submission accepted but response body was not JSON")
		}
	}

	id := response.CreatedID()
	c.settle(attempt, models.SubmissionSucceeded, id, response.Message)
	metrics.SubmissionsTotal.WithLabelValues(string(StateSucceeded)).Inc()

	draft.Clear(ctx)
	nav.GoToStep(1)

	c.publish(ctx, attempt, id, payload)

	message := response.Message
	if message == "" {
		message = "Application submitted successfully"
	}
	logger.WithField("application_id", id).Infof("Application submitted (attempt %d)", attempt)

	return Result{
		Success:    true,
		Message:    message,
		Data:       &Data{ID: id, Message: response.Message},
		StatusCode: reply.StatusCode,
		Notification: &Notification{
			Level:   NotificationSuccess,
			Message: message,
			Link:    c.link(id),
		},
	}
}

func (c *Coordinator) fail(attempt int, statusCode int, message string) Result {
	c.settle(attempt, models.SubmissionFailed, "", message)
	metrics.SubmissionsTotal.WithLabelValues(string(StateFailed)).Inc()

	result := Failed(FailureRemote, message)
	result.StatusCode = statusCode
	return result
}

// validationFailure surfaces per-field messages; the summary only counts them
func validationFailure(err error) Result {
	var verr *validation.Error
	if !errors.As(err, &verr) {
		return Failed(FailureValidation, err.Error())
	}

	summary := fmt.Sprintf("Please correct %s before submitting", plural(len(verr.Fields), "field"))
	result := Failed(FailureValidation, summary)
	result.Errors = verr.Fields
	return result
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// remoteMessage extracts a server-supplied message from a failure body, if readable
func remoteMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var parsed models.SubmissionErrorResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.Message)
}

func (c *Coordinator) appendPending(payload models.SubmissionPayload) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	attempt := len(c.history) + 1
	c.history = append(c.history, models.SubmissionRecord{
		Attempt:     attempt,
		Payload:     payload,
		State:       models.SubmissionPending,
		SubmittedAt: c.now(),
	})
	return attempt
}

func (c *Coordinator) settle(attempt int, state models.SubmissionState, id, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := attempt - 1
	if i < 0 || i >= len(c.history) {
		return
	}
	c.history[i].State = state
	c.history[i].ID = id
	c.history[i].Message = message
}

func (c *Coordinator) link(id string) string {
	if id == "" || !strings.Contains(c.viewURL, "%s") {
		return ""
	}
	return fmt.Sprintf(c.viewURL, id)
}

func (c *Coordinator) publish(ctx context.Context, attempt int, id string, payload models.SubmissionPayload) {
	if c.publisher == nil {
		return
	}
	err := c.publisher.PublishSubmitted(ctx, events.SubmittedEvent{
		EventID:       uuid.New().String(),
		SessionID:     c.sessionID,
		ApplicationID: id,
		ContactLineID: payload.ContactLineID,
		Status:        payload.Status,
		Attempt:       attempt,
		SubmittedAt:   c.now().UTC(),
	})
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Warnf("Submitted event not published for session %s", c.sessionID)
	}
}
