package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/intake/internal/handlers"
	"github.com/Ramsey-B/intake/internal/server"
	"github.com/Ramsey-B/intake/pkg/draft"
	"github.com/Ramsey-B/intake/pkg/health"
	"github.com/Ramsey-B/intake/pkg/httpclient"
	"github.com/Ramsey-B/intake/pkg/middleware"
	"github.com/Ramsey-B/intake/pkg/submission"
	"github.com/Ramsey-B/intake/pkg/wizard"
)

type apiHelper struct {
	t         *testing.T
	e         *echo.Echo
	sessionID string
}

func newAPIHelper(t *testing.T, remoteURL string) *apiHelper {
	t.Helper()
	sessions := wizard.NewManager(wizard.ManagerConfig{
		Storage:  draft.NewMemoryStorage(),
		Debounce: time.Hour,
		Sender:   submission.NewHTTPSender(httpclient.NewClient(httpclient.DefaultConfig(), nil), remoteURL),
	})
	t.Cleanup(func() { sessions.Close(context.Background()) })

	e := server.NewAPI(server.Options{ServiceName: "intake-test"}, sessions, health.NewChecker("test"))
	return &apiHelper{t: t, e: e, sessionID: "sess-1"}
}

func (h *apiHelper) do(method, path string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	switch b := body.(type) {
	case nil:
		reqBody = bytes.NewBuffer(nil)
	case string:
		reqBody = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(h.t, err)
		reqBody = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if h.sessionID != "" {
		req.Header.Set(middleware.HeaderSessionID, h.sessionID)
	}

	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const (
	applicant = `{"organizationName":"Acme Foods","applicantName":"Somchai","email":"somchai@acme.co","address":"1 Rama IV Rd","contact":{"channel":"email"}}`
	samples   = `{"samples":[{"name":"Rice","sampleType":"food","quantity":2,"unit":"kg"}]}`
	testsReq  = `{"tests":["aflatoxin"],"purpose":"export","reportLanguage":"en"}`
	confirm   = `{"acceptTerms":true,"signerName":"Somchai","deliveryMethod":"email"}`
)

func (h *apiHelper) fill() {
	for key, body := range map[string]string{
		"stepOneInfo":     applicant,
		"stepTwoSamples":  samples,
		"stepThreeTests":  testsReq,
		"stepFourConfirm": confirm,
	} {
		rec := h.do(http.MethodPut, handlers.DraftPath+"/steps/"+key, body)
		require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func TestMissingSessionHeaderIsRejected(t *testing.T) {
	h := newAPIHelper(t, "http://unused")
	h.sessionID = ""

	rec := h.do(http.MethodGet, handlers.DraftPath, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "X-Session-ID")
}

func TestGetDraftClampsMalformedStep(t *testing.T) {
	h := newAPIHelper(t, "http://unused")

	for _, step := range []string{"abc", "0", "999", ""} {
		rec := h.do(http.MethodGet, handlers.DraftPath+"?step="+step, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		view := decode[wizard.StepView](t, rec)
		assert.Equal(t, 1, view.Step, step)
		assert.Equal(t, 4, view.Total, step)
		assert.True(t, view.IsFirst, step)
	}
}

func TestPutUnknownStepIsNotFound(t *testing.T) {
	h := newAPIHelper(t, "http://unused")

	rec := h.do(http.MethodPut, handlers.DraftPath+"/steps/stepNine", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPut, handlers.DraftPath+"/steps/stepOneInfo", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchDraftMergesAndShowsCurrentStepValues(t *testing.T) {
	h := newAPIHelper(t, "http://unused")

	rec := h.do(http.MethodPatch, handlers.DraftPath+"?step=2", `{"stepTwoSamples":`+samples+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	view := decode[map[string]any](t, rec)
	values := view["values"].(map[string]any)
	assert.Contains(t, values, "stepTwoSamples")
	assert.Equal(t, handlers.DraftPath+"?step=2", view["url"])
}

func TestNextRejectsInvalidStep(t *testing.T) {
	h := newAPIHelper(t, "http://unused")

	rec := h.do(http.MethodPost, handlers.DraftPath+"/next?step=1", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	result := decode[wizard.NavigationResult](t, rec)
	assert.False(t, result.Moved)
	assert.Equal(t, 1, result.View.Step)
	assert.NotEmpty(t, result.FirstInvalid)
	assert.Contains(t, result.Outcome.Errors, "stepOneInfo.email")
}

func TestNextAndPreviousMoveThroughSteps(t *testing.T) {
	h := newAPIHelper(t, "http://unused")
	h.fill()

	rec := h.do(http.MethodPost, handlers.DraftPath+"/next?step=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[wizard.NavigationResult](t, rec)
	assert.True(t, result.Moved)
	assert.Equal(t, 2, result.View.Step)
	assert.Equal(t, handlers.DraftPath+"?step=2", result.View.URL)

	rec = h.do(http.MethodPost, handlers.DraftPath+"/previous?step=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result = decode[wizard.NavigationResult](t, rec)
	assert.Equal(t, 1, result.View.Step)
}

func TestSubmitEndToEnd(t *testing.T) {
	remote := httptest.NewServer(server.NewMockAPI(server.Options{}, 0))
	defer remote.Close()

	h := newAPIHelper(t, remote.URL+"/applications")
	h.fill()

	rec := h.do(http.MethodPost, handlers.DraftPath+"/submit?step=3", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(http.MethodPost, handlers.DraftPath+"/submit?step=4", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[handlers.SubmitResponse](t, rec)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.NotEmpty(t, resp.Data.ID)
	assert.Equal(t, 1, resp.View.Step)

	rec = h.do(http.MethodGet, handlers.DraftPath+"?step=1", nil)
	view := decode[wizard.StepView](t, rec)
	assert.Nil(t, view.Values["stepOneInfo"])

	rec = h.do(http.MethodGet, "/api/v1/applications/submissions", nil)
	history := decode[handlers.HistoryResponse](t, rec)
	require.Len(t, history.Submissions, 1)
	assert.Equal(t, resp.Data.ID, history.Submissions[0].ID)
}

func TestSubmitRemoteFailureIsBadGateway(t *testing.T) {
	remote := httptest.NewServer(server.NewMockAPI(server.Options{}, 0))
	defer remote.Close()

	h := newAPIHelper(t, remote.URL+"/applications?fail=500")
	h.fill()

	rec := h.do(http.MethodPost, handlers.DraftPath+"/submit?step=4", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())

	resp := decode[handlers.SubmitResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "Service unavailable", resp.Message)
	assert.Equal(t, 4, resp.View.Step)

	rec = h.do(http.MethodGet, handlers.DraftPath+"?step=1", nil)
	view := decode[wizard.StepView](t, rec)
	assert.NotNil(t, view.Values["stepOneInfo"])
}

func TestResetDraft(t *testing.T) {
	h := newAPIHelper(t, "http://unused")
	h.fill()

	rec := h.do(http.MethodDelete, handlers.DraftPath+"?step=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	view := decode[wizard.StepView](t, rec)
	assert.Equal(t, 1, view.Step)
	assert.Nil(t, view.Values["stepOneInfo"])
}
