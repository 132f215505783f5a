// Package draft persists the in-progress application form so a reload does not lose input.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/intake/pkg/metrics"
	"github.com/Ramsey-B/intake/pkg/models"
)

const (
	// DefaultDebounce is the trailing-edge delay applied to persisted writes
	DefaultDebounce = 500 * time.Millisecond

	// writeTimeout bounds a single background write to storage
	writeTimeout = 5 * time.Second
)

// Option configures a Store
type Option func(*Store)

// WithDebounce overrides the write debounce delay
func WithDebounce(delay time.Duration) Option {
	return func(s *Store) {
		if delay > 0 {
			s.delay = delay
		}
	}
}

// WithLogger sets the logger used to report swallowed storage failures
func WithLogger(logger ectologger.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store holds one session's draft in memory and mirrors it to durable storage.
//
// Writes are debounced: every Update restarts the delay and only the merged snapshot
// present when the delay elapses is written. Storage failures are logged and swallowed.
type Store struct {
	storage Storage
	key     string
	delay   time.Duration
	logger  ectologger.Logger

	// writeMu serializes storage writes so a superseded snapshot never lands after a newer one
	writeMu sync.Mutex

	mu      sync.Mutex
	draft   models.FormDraft
	timer   *time.Timer
	gen     uint64
	pending bool
	closed  bool
}

// New creates a Store persisting under key.
func New(storage Storage, key string, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		key:     key,
		delay:   DefaultDebounce,
		logger:  ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the storage key of this draft
func (s *Store) Key() string {
	return s.key
}

// Load restores the persisted draft. A missing entry, unavailable storage or
// unparseable content all yield an empty draft.
func (s *Store) Load(ctx context.Context) models.FormDraft {
	loaded := s.read(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = loaded
	return s.draft.Clone()
}

func (s *Store) read(ctx context.Context) models.FormDraft {
	raw, err := s.storage.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.DraftLoadsTotal.WithLabelValues("missing").Inc()
			return models.FormDraft{}
		}
		metrics.DraftLoadsTotal.WithLabelValues("unavailable").Inc()
		s.logger.WithContext(ctx).WithError(err).Warnf("Draft storage unavailable for %s, starting empty", s.key)
		return models.FormDraft{}
	}

	if raw == "" {
		metrics.DraftLoadsTotal.WithLabelValues("missing").Inc()
		return models.FormDraft{}
	}

	var loaded models.FormDraft
	if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
		metrics.DraftLoadsTotal.WithLabelValues("malformed").Inc()
		s.logger.WithContext(ctx).WithError(err).Warnf("Discarding malformed draft for %s", s.key)
		return models.FormDraft{}
	}

	metrics.DraftLoadsTotal.WithLabelValues("restored").Inc()
	return loaded
}

// Draft returns a copy of the in-memory draft
func (s *Store) Draft() models.FormDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Clone()
}

// Update merges partial into the draft at the step-group level and schedules a debounced write.
func (s *Store) Update(partial models.FormDraft) models.FormDraft {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.draft = s.draft.Merge(partial.Clone())
	s.scheduleLocked()
	return s.draft.Clone()
}

// GetStepData returns the group stored under key, or nil
func (s *Store) GetStepData(key models.StepKey) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Clone().Step(key)
}

// UpdateStepData replaces one step group through Update.
func (s *Store) UpdateStepData(key models.StepKey, data json.RawMessage) (models.FormDraft, error) {
	partial, err := models.PartialFor(key, data)
	if err != nil {
		return models.FormDraft{}, err
	}
	return s.Update(partial), nil
}

// Clear drops any pending write, removes the persisted entry and empties the draft.
func (s *Store) Clear(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.cancelLocked()
	s.draft = models.FormDraft{}
	s.mu.Unlock()

	if err := s.storage.Remove(ctx, s.key); err != nil {
		metrics.DraftWritesTotal.WithLabelValues("error").Inc()
		s.logger.WithContext(ctx).WithError(err).Warnf("Failed to remove persisted draft %s", s.key)
		return
	}
	metrics.DraftWritesTotal.WithLabelValues("removed").Inc()
}

// Flush writes a pending snapshot now instead of waiting for the debounce.
func (s *Store) Flush(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return
	}
	s.cancelLocked()
	snapshot := s.draft.Clone()
	s.mu.Unlock()

	s.write(ctx, snapshot)
}

// Pending reports whether a debounced write is scheduled
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Close cancels any pending write. The in-memory draft stays readable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	s.closed = true
}

func (s *Store) scheduleLocked() {
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.pending = true
	s.timer = time.AfterFunc(s.delay, func() {
		s.persist(gen)
	})
}

func (s *Store) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	// a timer that already fired sees a newer generation and skips its write
	s.gen++
	s.pending = false
}

func (s *Store) persist(gen uint64) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if gen != s.gen || !s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.timer = nil
	snapshot := s.draft.Clone()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	s.write(ctx, snapshot)
}

func (s *Store) write(ctx context.Context, snapshot models.FormDraft) {
	b, err := json.Marshal(snapshot)
	if err != nil {
		metrics.DraftWritesTotal.WithLabelValues("error").Inc()
		s.logger.WithContext(ctx).WithError(err).Errorf("Failed to serialize draft %s", s.key)
		return
	}

	if err := s.storage.Set(ctx, s.key, string(b)); err != nil {
		metrics.DraftWritesTotal.WithLabelValues("error").Inc()
		s.logger.WithContext(ctx).WithError(err).Warnf("Failed to persist draft %s", s.key)
		return
	}

	metrics.DraftWritesTotal.WithLabelValues("ok").Inc()
	s.logger.WithContext(ctx).Debugf("Persisted draft %s (%d bytes)", s.key, len(b))
}
