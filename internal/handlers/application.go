package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/intake/pkg/context"
	"github.com/Ramsey-B/intake/pkg/middleware"
	"github.com/Ramsey-B/intake/pkg/models"
	"github.com/Ramsey-B/intake/pkg/steps"
	"github.com/Ramsey-B/intake/pkg/submission"
	"github.com/Ramsey-B/intake/pkg/tracing"
	"github.com/Ramsey-B/intake/pkg/validation"
	"github.com/Ramsey-B/intake/pkg/wizard"
)

// DraftPath is where the wizard is mounted; step views link back to it
const DraftPath = "/api/v1/applications/draft"

// maxStepBody bounds a single step group upload
const maxStepBody = 1 << 20

// ApplicationHandler serves the application wizard
type ApplicationHandler struct {
	sessions *wizard.Manager
	logger   ectologger.Logger
}

func NewApplicationHandler(sessions *wizard.Manager, logger ectologger.Logger) *ApplicationHandler {
	if logger == nil {
		logger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	}
	return &ApplicationHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// SubmitResponse is the submission result plus the step the client should show next
type SubmitResponse struct {
	submission.Result
	View wizard.StepView `json:"view"`
}

// HistoryResponse lists a session's submission attempts
type HistoryResponse struct {
	State       submission.State          `json:"state"`
	Submissions []models.SubmissionRecord `json:"submissions"`
}

// Register registers application routes on the /api/v1/applications group
func (h *ApplicationHandler) Register(g *echo.Group) {
	g.GET("/draft", h.GetDraft)
	g.PATCH("/draft", h.PatchDraft)
	g.DELETE("/draft", h.ResetDraft)
	g.PUT("/draft/steps/:stepKey", h.PutStep)
	g.POST("/draft/next", h.Next)
	g.POST("/draft/previous", h.Previous)
	g.POST("/draft/submit", h.Submit)
	g.GET("/submissions", h.ListSubmissions)
}

// session resolves the caller's wizard and the navigation state carried in the query
func (h *ApplicationHandler) session(c echo.Context) (*wizard.Shell, *steps.Controller, *steps.QueryState, error) {
	ctx := c.Request().Context()

	sessionID := appctx.GetSessionID(ctx)
	if sessionID == "" {
		return nil, nil, nil, BadRequest("missing " + middleware.HeaderSessionID + " header")
	}

	shell, err := h.sessions.Get(ctx, sessionID)
	if errors.Is(err, wizard.ErrInvalidSession) {
		return nil, nil, nil, BadRequest("invalid " + middleware.HeaderSessionID + " header")
	}
	if err != nil {
		return nil, nil, nil, httperror.WrapError(http.StatusInternalServerError, err)
	}

	state := steps.NewQueryState(c.QueryParams())
	return shell, steps.New(state, validation.TotalSteps), state, nil
}

func withURL(view wizard.StepView, state *steps.QueryState) wizard.StepView {
	view.URL = DraftPath + "?" + state.Encode()
	return view
}

// GetDraft returns the current step and its values
func (h *ApplicationHandler) GetDraft(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ApplicationHandler.GetDraft")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	shell, nav, state, err := h.session(c)
	if err != nil {
		return err
	}
	return SuccessResponse(c, withURL(shell.View(nav), state))
}

// PatchDraft merges a partial draft keyed by step
func (h *ApplicationHandler) PatchDraft(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ApplicationHandler.PatchDraft")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	shell, nav, state, err := h.session(c)
	if err != nil {
		return err
	}

	partial, err := BindRequest[models.FormDraft](c)
	if err != nil {
		return err
	}

	shell.Change(partial)
	return SuccessResponse(c, withURL(shell.View(nav), state))
}

// PutStep replaces one step group
func (h *ApplicationHandler) PutStep(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ApplicationHandler.PutStep")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	shell, nav, state, err := h.session(c)
	if err != nil {
		return err
	}

	key := models.StepKey(c.Param("stepKey"))
	if !key.IsValid() {
		return NotFound("unknown step " + string(key))
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxStepBody))
	if err != nil {
		return httperror.WrapError(http.StatusBadRequest, err)
	}
	if !json.Valid(raw) {
		return BadRequest("request body must be a JSON object")
	}

	if _, err := shell.ChangeStep(key, raw); err != nil {
		return BadRequest(err.Error())
	}
	return SuccessResponse(c, withURL(shell.View(nav), state))
}

// Next validates the current step and advances when it passes
func (h *ApplicationHandler) Next(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ApplicationHandler.Next")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	shell, nav, state, err := h.session(c)
	if err != nil {
		return err
	}

	result := shell.Next(ctx, nav)
	result.View = withURL(result.View, state)
	if !result.Outcome.Valid {
		return c.JSON(http.StatusUnprocessableEntity, result)
	}
	return SuccessResponse(c, result)
}

// Previous goes back one step
func (h *ApplicationHandler) Previous(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ApplicationHandler.Previous")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	shell, nav, state, err := h.session(c)
	if err != nil {
		return err
	}

	result := shell.Previous(nav)
	result.View = withURL(result.View, state)
	return SuccessResponse(c, result)
}

// ResetDraft clears the draft and returns to step 1
func (h *ApplicationHandler) ResetDraft(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ApplicationHandler.ResetDraft")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	shell, nav, state, err := h.session(c)
	if err != nil {
		return err
	}
	return SuccessResponse(c, withURL(shell.Reset(ctx, nav), state))
}

// Submit sends the completed application
func (h *ApplicationHandler) Submit(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ApplicationHandler.Submit")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	shell, nav, state, err := h.session(c)
	if err != nil {
		return err
	}

	result := shell.Submit(ctx, nav)
	if !result.Success {
		h.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"session_id": shell.SessionID(),
			"failure":    result.Failure,
		}).Infof("Submission not completed: %s", result.Message)
	}
	resp := SubmitResponse{Result: result, View: withURL(shell.View(nav), state)}

	return c.JSON(submitStatus(result), resp)
}

func submitStatus(result submission.Result) int {
	if result.Success {
		return http.StatusCreated
	}
	switch result.Failure {
	case submission.FailureInFlight:
		return http.StatusConflict
	case submission.FailureRemote:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

// ListSubmissions returns the session's submission attempts
func (h *ApplicationHandler) ListSubmissions(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ApplicationHandler.ListSubmissions")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	shell, _, _, err := h.session(c)
	if err != nil {
		return err
	}

	history := shell.History()
	if history == nil {
		history = []models.SubmissionRecord{}
	}
	return SuccessResponse(c, HistoryResponse{State: shell.SubmissionState(), Submissions: history})
}
