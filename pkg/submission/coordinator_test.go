package submission

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/intake/pkg/draft"
	"github.com/Ramsey-B/intake/pkg/events"
	"github.com/Ramsey-B/intake/pkg/httpclient"
	"github.com/Ramsey-B/intake/pkg/models"
	"github.com/Ramsey-B/intake/pkg/steps"
	"github.com/Ramsey-B/intake/pkg/validation"
)

func validDraft() models.FormDraft {
	return models.FormDraft{
		StepOneInfo: &models.ApplicantInfo{
			OrganizationName: "Acme Foods",
			ApplicantName:    "Somchai",
			Email:            "somchai@acme.co",
			Address:          "1 Rama IV Rd, Bangkok",
			Contact:          models.Contact{Channel: models.ContactChannelLine, LineID: "@acme"},
		},
		StepTwoSamples: &models.SampleDetails{
			Samples: []models.Sample{{Name: "Rice", SampleType: models.SampleTypeFood, Quantity: 2, Unit: "kg"}},
		},
		StepThreeTests: &models.TestRequest{
			Tests:          []string{"aflatoxin"},
			Purpose:        models.PurposeExport,
			ReportLanguage: "en",
		},
		StepFourConfirm: &models.Confirmation{
			AcceptTerms:    true,
			SignerName:     "Somchai",
			DeliveryMethod: models.DeliveryEmail,
		},
	}
}

type fixture struct {
	store *draft.Store
	nav   *steps.Controller
}

func newFixture(t *testing.T, d models.FormDraft) fixture {
	t.Helper()
	store := draft.New(draft.NewMemoryStorage(), "application-form-draft", draft.WithDebounce(time.Hour))
	t.Cleanup(store.Close)
	store.Update(d)
	store.Flush(context.Background())

	nav := steps.New(steps.NewQueryState(map[string][]string{steps.QueryParam: {"4"}}), validation.TotalSteps)
	return fixture{store: store, nav: nav}
}

func newServer(t *testing.T, status int, body string, calls *atomic.Int32, received *models.SubmissionPayload) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if received != nil {
			_ = json.NewDecoder(r.Body).Decode(received)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func newSender(url string) *HTTPSender {
	return NewHTTPSender(httpclient.NewClient(httpclient.DefaultConfig(), nil), url)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.SubmittedEvent
	err    error
}

func (p *recordingPublisher) PublishSubmitted(_ context.Context, event events.SubmittedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func TestSubmitSuccessClearsDraftAndResetsNavigation(t *testing.T) {
	var calls atomic.Int32
	var received models.SubmissionPayload
	url := newServer(t, http.StatusCreated, `{"message":"created","data":{"id":"app-42"}}`, &calls, &received)

	f := newFixture(t, validDraft())
	publisher := &recordingPublisher{}
	c := New("sess-1", newSender(url), validation.NewGate(),
		WithPublisher(publisher), WithViewURL("https://lab.example/applications/%s"))

	result := c.Submit(context.Background(), f.store, f.nav)

	require.True(t, result.Success, result.Message)
	require.NotNil(t, result.Data)
	assert.Equal(t, "app-42", result.Data.ID)
	assert.Equal(t, "created", result.Message)
	require.NotNil(t, result.Notification)
	assert.Equal(t, NotificationSuccess, result.Notification.Level)
	assert.Equal(t, "https://lab.example/applications/app-42", result.Notification.Link)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "@acme", received.ContactLineID)
	assert.Equal(t, "waiting", received.Status)
	require.NotNil(t, received.Content.StepOneInfo)
	assert.Equal(t, "Acme Foods", received.Content.StepOneInfo.OrganizationName)

	assert.True(t, f.store.Draft().IsEmpty())
	assert.Equal(t, 1, f.nav.CurrentStep())
	assert.Equal(t, StateSucceeded, c.State())

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, models.SubmissionSucceeded, history[0].State)
	assert.Equal(t, "app-42", history[0].ID)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "app-42", publisher.events[0].ApplicationID)
	assert.Equal(t, "sess-1", publisher.events[0].SessionID)
}

func TestSubmitRemoteFailureKeepsDraftAndSurfacesMessage(t *testing.T) {
	var calls atomic.Int32
	url := newServer(t, http.StatusInternalServerError, `{"message":"Service unavailable"}`, &calls, nil)

	f := newFixture(t, validDraft())
	publisher := &recordingPublisher{}
	c := New("sess-1", newSender(url), validation.NewGate(), WithPublisher(publisher))

	result := c.Submit(context.Background(), f.store, f.nav)

	assert.False(t, result.Success)
	assert.Equal(t, "Service unavailable", result.Message)
	assert.Equal(t, FailureRemote, result.Failure)
	assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
	require.NotNil(t, result.Notification)
	assert.Equal(t, NotificationError, result.Notification.Level)

	assert.Equal(t, validDraft(), f.store.Draft())
	assert.Equal(t, 4, f.nav.CurrentStep())
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, publisher.events)

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, models.SubmissionFailed, history[0].State)
	assert.Equal(t, "Service unavailable", history[0].Message)
}

func TestSubmitFailureWithoutReadableBodyUsesStatus(t *testing.T) {
	var calls atomic.Int32
	url := newServer(t, http.StatusBadGateway, `<html>bad gateway</html>`, &calls, nil)

	f := newFixture(t, validDraft())
	c := New("sess-1", newSender(url), validation.NewGate())

	result := c.Submit(context.Background(), f.store, f.nav)

	assert.False(t, result.Success)
	assert.Equal(t, "submission failed with status 502", result.Message)
}

func TestSubmitTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := newFixture(t, validDraft())
	c := New("sess-1", newSender(url), validation.NewGate())

	result := c.Submit(context.Background(), f.store, f.nav)

	assert.False(t, result.Success)
	assert.Equal(t, FailureRemote, result.Failure)
	assert.Contains(t, result.Message, "submission request failed")
	assert.Equal(t, 1, strings.Count(result.Message, "request failed"))
	assert.False(t, f.store.Draft().IsEmpty())
}

func TestSubmitInvalidDraftNeverCallsRemote(t *testing.T) {
	var calls atomic.Int32
	url := newServer(t, http.StatusCreated, `{}`, &calls, nil)

	d := validDraft()
	d.StepThreeTests.Tests = nil
	f := newFixture(t, d)
	c := New("sess-1", newSender(url), validation.NewGate())

	result := c.Submit(context.Background(), f.store, f.nav)

	assert.False(t, result.Success)
	assert.Equal(t, FailureValidation, result.Failure)
	assert.Equal(t, "Please correct 1 field before submitting", result.Message)
	assert.Contains(t, result.Errors, "stepThreeTests.tests")
	assert.Equal(t, int32(0), calls.Load())
	assert.Empty(t, c.History())
}

func TestSubmitSucceedsWithoutResponseBody(t *testing.T) {
	var calls atomic.Int32
	url := newServer(t, http.StatusCreated, ``, &calls, nil)

	f := newFixture(t, validDraft())
	c := New("sess-1", newSender(url), validation.NewGate(), WithViewURL("/applications/%s"))

	result := c.Submit(context.Background(), f.store, f.nav)

	require.True(t, result.Success)
	assert.Equal(t, "Application submitted successfully", result.Message)
	assert.Empty(t, result.Data.ID)
	assert.Empty(t, result.Notification.Link)
}

// blockingSender holds the remote call open until released
type blockingSender struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingSender) Send(_ context.Context, _ models.SubmissionPayload) (Reply, error) {
	b.calls.Add(1)
	close(b.started)
	<-b.release
	return Reply{StatusCode: http.StatusCreated, Body: []byte(`{"data":{"id":"x"}}`)}, nil
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	sender := &blockingSender{started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, validDraft())
	c := New("sess-1", sender, validation.NewGate())

	done := make(chan Result)
	go func() { done <- c.Submit(context.Background(), f.store, f.nav) }()
	<-sender.started

	assert.Equal(t, StateSubmitting, c.State())
	second := c.Submit(context.Background(), f.store, f.nav)
	assert.False(t, second.Success)
	assert.Equal(t, FailureInFlight, second.Failure)
	assert.Equal(t, ErrInFlight.Error(), second.Message)

	close(sender.release)
	first := <-done
	assert.True(t, first.Success)
	assert.Equal(t, int32(1), sender.calls.Load())
}

type heldGuard struct{}

func (heldGuard) Acquire(context.Context, string) (func(), error) {
	return nil, ErrGuardHeld
}

type brokenGuard struct{}

func (brokenGuard) Acquire(context.Context, string) (func(), error) {
	return nil, errors.New("redis: connection refused")
}

func TestSubmitHonoursSharedGuard(t *testing.T) {
	var calls atomic.Int32
	url := newServer(t, http.StatusCreated, `{"data":{"id":"x"}}`, &calls, nil)

	f := newFixture(t, validDraft())
	held := New("sess-1", newSender(url), validation.NewGate(), WithGuard(heldGuard{}))
	result := held.Submit(context.Background(), f.store, f.nav)
	assert.Equal(t, FailureInFlight, result.Failure)
	assert.Equal(t, int32(0), calls.Load())

	broken := New("sess-1", newSender(url), validation.NewGate(), WithGuard(brokenGuard{}))
	result = broken.Submit(context.Background(), f.store, f.nav)
	assert.True(t, result.Success)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFailedSubmissionCanBeRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"message":"try later"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"app-7"}}`))
	}))
	defer srv.Close()

	f := newFixture(t, validDraft())
	c := New("sess-1", newSender(srv.URL), validation.NewGate())

	assert.False(t, c.Submit(context.Background(), f.store, f.nav).Success)
	assert.True(t, c.Submit(context.Background(), f.store, f.nav).Success)

	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, models.SubmissionFailed, history[0].State)
	assert.Equal(t, models.SubmissionSucceeded, history[1].State)
	assert.Equal(t, 2, history[1].Attempt)
}

func TestPublishFailureDoesNotFailSubmission(t *testing.T) {
	var calls atomic.Int32
	url := newServer(t, http.StatusCreated, `{"data":{"id":"x"}}`, &calls, nil)

	f := newFixture(t, validDraft())
	c := New("sess-1", newSender(url), validation.NewGate(),
		WithPublisher(&recordingPublisher{err: errors.New("broker down")}))

	assert.True(t, c.Submit(context.Background(), f.store, f.nav).Success)
}
