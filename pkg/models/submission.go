package models

import "time"

// InitialSubmissionStatus is the status every new application starts in.
const InitialSubmissionStatus = "waiting"

// SubmissionPayload is the body posted to the remote submission endpoint.
type SubmissionPayload struct {
	Content       FormDraft `json:"content"`
	ContactLineID string    `json:"contactLineId"`
	Status        string    `json:"status"`
}

// NewSubmissionPayload assembles the payload from a validated draft plus its derived fields.
func NewSubmissionPayload(draft FormDraft) SubmissionPayload {
	return SubmissionPayload{
		Content:       draft.Clone(),
		ContactLineID: draft.ContactLineID(),
		Status:        InitialSubmissionStatus,
	}
}

// SubmissionResponse is the success body of the remote endpoint.
type SubmissionResponse struct {
	Message string `json:"message,omitempty"`
	Data    *struct {
		ID string `json:"id,omitempty"`
	} `json:"data,omitempty"`
}

// CreatedID returns the identifier of the created application, if the server sent one.
func (r SubmissionResponse) CreatedID() string {
	if r.Data == nil {
		return ""
	}
	return r.Data.ID
}

// SubmissionErrorResponse is the optional failure body of the remote endpoint.
type SubmissionErrorResponse struct {
	Message string `json:"message"`
}

type SubmissionState string

const (
	SubmissionPending   SubmissionState = "pending"
	SubmissionSucceeded SubmissionState = "succeeded"
	SubmissionFailed    SubmissionState = "failed"
)

// SubmissionRecord is one attempted submission within a wizard session.
type SubmissionRecord struct {
	Attempt     int               `json:"attempt"`
	Payload     SubmissionPayload `json:"payload"`
	ID          string            `json:"id,omitempty"`
	State       SubmissionState   `json:"state"`
	Message     string            `json:"message,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// ValidationOutcome is the result of validating one step (or the whole form).
type ValidationOutcome struct {
	Step   int               `json:"step"`
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors,omitempty"`
}
