package handlers

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/intake/pkg/models"
	"github.com/Ramsey-B/intake/pkg/tracing"
)

// MockApplication is what the mock endpoint stores per accepted submission
type MockApplication struct {
	ID         string                   `json:"id"`
	Payload    models.SubmissionPayload `json:"payload"`
	ReceivedAt time.Time                `json:"received_at"`
}

// MockSubmissionHandler stands in for the remote applications API during development.
type MockSubmissionHandler struct {
	failRate float64
	random   func() float64
	logger   ectologger.Logger

	mu           sync.RWMutex
	applications map[string]MockApplication
}

func NewMockSubmissionHandler(failRate float64, logger ectologger.Logger) *MockSubmissionHandler {
	return &MockSubmissionHandler{
		failRate:     failRate,
		random:       rand.Float64,
		logger:       logger,
		applications: make(map[string]MockApplication),
	}
}

// Register registers the mock routes on the root group
func (h *MockSubmissionHandler) Register(g *echo.Group) {
	g.POST("/applications", h.Create)
	g.GET("/applications/:id", h.Get)
}

// Create accepts a submission. ?fail=<status> forces that failure status.
func (h *MockSubmissionHandler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MockSubmissionHandler.Create")
	defer span.End()

	if forced := c.QueryParam("fail"); forced != "" {
		code, err := strconv.Atoi(forced)
		if err != nil || code < 400 || code > 599 {
			code = http.StatusInternalServerError
		}
		return c.JSON(code, models.SubmissionErrorResponse{Message: "Service unavailable"})
	}
	if h.failRate > 0 && h.random() < h.failRate {
		h.logger.WithContext(ctx).Infof("Mock API failing submission at random")
		return c.JSON(http.StatusInternalServerError, models.SubmissionErrorResponse{Message: "Service unavailable"})
	}

	var payload models.SubmissionPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, models.SubmissionErrorResponse{Message: "invalid application payload"})
	}
	if payload.Content.IsEmpty() {
		return c.JSON(http.StatusBadRequest, models.SubmissionErrorResponse{Message: "application content is required"})
	}

	app := MockApplication{
		ID:         uuid.New().String(),
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
	h.mu.Lock()
	h.applications[app.ID] = app
	h.mu.Unlock()

	h.logger.WithContext(ctx).WithField("application_id", app.ID).Infof("Mock API accepted application")

	return CreatedResponse(c, map[string]any{
		"message": "Application received",
		"data":    map[string]string{"id": app.ID},
	})
}

// Get returns a previously accepted application
func (h *MockSubmissionHandler) Get(c echo.Context) error {
	h.mu.RLock()
	app, ok := h.applications[c.Param("id")]
	h.mu.RUnlock()

	if !ok {
		return NotFound("application not found")
	}
	return SuccessResponse(c, app)
}
