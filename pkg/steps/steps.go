// Package steps owns the current step of the application wizard.
//
// The step lives in shareable navigation state (the "step" query parameter) so it
// survives back/forward navigation and can be bookmarked. Reads are always clamped:
// anything missing, unparseable or outside [1, total] is step 1.
package steps

import (
	"net/url"
	"strconv"
)

// QueryParam is the navigation parameter holding the step index
const QueryParam = "step"

// NavigationState is the shared state the step index is read from and written to.
type NavigationState interface {
	Get(name string) string
	Set(name, value string)
}

// QueryState is NavigationState backed by URL query values.
type QueryState struct {
	values url.Values
}

// NewQueryState copies values so writes never leak into the caller's request.
func NewQueryState(values url.Values) *QueryState {
	copied := url.Values{}
	for k, v := range values {
		copied[k] = append([]string(nil), v...)
	}
	return &QueryState{values: copied}
}

// ParseQueryState builds a QueryState from a raw query string. Malformed input yields empty state.
func ParseQueryState(rawQuery string) *QueryState {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return NewQueryState(nil)
	}
	return NewQueryState(values)
}

func (q *QueryState) Get(name string) string {
	return q.values.Get(name)
}

func (q *QueryState) Set(name, value string) {
	q.values.Set(name, value)
}

// Encode renders the state as a query string
func (q *QueryState) Encode() string {
	return q.values.Encode()
}

// Controller derives the current step from navigation state and drives navigation.
type Controller struct {
	state NavigationState
	total int
}

// New creates a Controller over state with total steps. total below 1 is treated as 1.
func New(state NavigationState, total int) *Controller {
	if total < 1 {
		total = 1
	}
	return &Controller{state: state, total: total}
}

// Total returns the number of steps
func (c *Controller) Total() int {
	return c.total
}

// CurrentStep re-derives the step on every read.
func (c *Controller) CurrentStep() int {
	n, err := strconv.Atoi(c.state.Get(QueryParam))
	if err != nil || n < 1 || n > c.total {
		return 1
	}
	return n
}

// GoToStep moves to n. Out of range values are ignored and false is returned.
func (c *Controller) GoToStep(n int) bool {
	if n < 1 || n > c.total {
		return false
	}
	c.state.Set(QueryParam, strconv.Itoa(n))
	return true
}

// NextStep advances one step; a no-op on the last step.
func (c *Controller) NextStep() bool {
	return c.GoToStep(c.CurrentStep() + 1)
}

// PrevStep goes back one step; a no-op on the first step.
func (c *Controller) PrevStep() bool {
	return c.GoToStep(c.CurrentStep() - 1)
}

func (c *Controller) IsFirstStep() bool {
	return c.CurrentStep() == 1
}

func (c *Controller) IsLastStep() bool {
	return c.CurrentStep() == c.total
}
