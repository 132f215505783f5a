package wizard

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/singleflight"

	"github.com/Ramsey-B/intake/pkg/draft"
	"github.com/Ramsey-B/intake/pkg/metrics"
	"github.com/Ramsey-B/intake/pkg/submission"
	"github.com/Ramsey-B/intake/pkg/validation"
)

// ErrInvalidSession is returned for a missing or malformed session id
var ErrInvalidSession = errors.New("invalid session id")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ManagerConfig configures a Manager
type ManagerConfig struct {
	Storage  draft.Storage
	DraftKey string
	Debounce time.Duration
	// IdleTimeout evicts sessions untouched for this long; zero keeps them until released
	IdleTimeout time.Duration
	Sender      submission.Sender
	Submission  []submission.Option
	Logger      ectologger.Logger
}

type entry struct {
	shell    *Shell
	lastUsed time.Time
}

// Manager owns one Shell per session id, restoring drafts from storage on first use.
type Manager struct {
	cfg    ManagerConfig
	gate   *validation.Gate
	logger ectologger.Logger
	now    func() time.Time

	mu      sync.Mutex
	shells  map[string]*entry
	loading singleflight.Group
}

func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	}
	if cfg.DraftKey == "" {
		cfg.DraftKey = "application-form-draft"
	}
	return &Manager{
		cfg:    cfg,
		gate:   validation.NewGate(),
		logger: logger,
		now:    time.Now,
		shells: make(map[string]*entry),
	}
}

// Gate returns the shared validation gate
func (m *Manager) Gate() *validation.Gate {
	return m.gate
}

// DraftKey returns the storage key for a session's draft
func (m *Manager) DraftKey(sessionID string) string {
	return m.cfg.DraftKey + ":" + sessionID
}

// Get returns the session's shell, creating it and loading its draft on first use.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Shell, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return nil, ErrInvalidSession
	}

	if shell, ok := m.lookup(sessionID); ok {
		return shell, nil
	}

	// the draft loads outside m.mu; concurrent first opens of one session share a single load
	v, err, _ := m.loading.Do(sessionID, func() (any, error) {
		if shell, ok := m.lookup(sessionID); ok {
			return shell, nil
		}
		return m.open(ctx, sessionID), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Shell), nil
}

func (m *Manager) lookup(sessionID string) (*Shell, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.shells[sessionID]
	if !ok {
		return nil, false
	}
	e.lastUsed = m.now()
	return e.shell, true
}

func (m *Manager) open(ctx context.Context, sessionID string) *Shell {
	logger := m.logger.WithField("session_id", sessionID)
	store := draft.New(m.cfg.Storage, m.DraftKey(sessionID),
		draft.WithDebounce(m.cfg.Debounce),
		draft.WithLogger(logger),
	)
	store.Load(ctx)

	opts := append([]submission.Option{submission.WithLogger(logger)}, m.cfg.Submission...)
	coordinator := submission.New(sessionID, m.cfg.Sender, m.gate, opts...)
	shell := NewShell(sessionID, store, m.gate, coordinator, logger)

	m.mu.Lock()
	m.shells[sessionID] = &entry{shell: shell, lastUsed: m.now()}
	metrics.ActiveSessions.Set(float64(len(m.shells)))
	m.mu.Unlock()

	logger.WithContext(ctx).Debugf("Opened wizard session %s", sessionID)
	return shell
}

// Release closes and forgets a session; its persisted draft stays in storage.
func (m *Manager) Release(ctx context.Context, sessionID string) {
	m.mu.Lock()
	e, ok := m.shells[sessionID]
	if ok {
		delete(m.shells, sessionID)
		metrics.ActiveSessions.Set(float64(len(m.shells)))
	}
	m.mu.Unlock()

	if ok {
		e.shell.Close(ctx)
	}
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shells)
}

// Evict releases sessions idle for longer than idle and returns how many were released.
// Sessions with a submission in flight are kept.
func (m *Manager) Evict(ctx context.Context, idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	var stale []*Shell
	for id, e := range m.shells {
		if e.lastUsed.After(cutoff) || e.shell.SubmissionState() == submission.StateSubmitting {
			continue
		}
		stale = append(stale, e.shell)
		delete(m.shells, id)
	}
	metrics.ActiveSessions.Set(float64(len(m.shells)))
	m.mu.Unlock()

	for _, shell := range stale {
		shell.Close(ctx)
	}
	if len(stale) > 0 {
		m.logger.WithContext(ctx).Infof("Evicted %d idle wizard sessions", len(stale))
	}
	return len(stale)
}

// Run evicts idle sessions every interval until ctx is done. It returns immediately
// when no IdleTimeout is configured.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.cfg.IdleTimeout <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict(ctx, m.cfg.IdleTimeout)
		}
	}
}

// Close releases every session, flushing pending draft writes.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	shells := make([]*Shell, 0, len(m.shells))
	for id, e := range m.shells {
		shells = append(shells, e.shell)
		delete(m.shells, id)
	}
	metrics.ActiveSessions.Set(0)
	m.mu.Unlock()

	for _, shell := range shells {
		shell.Close(ctx)
	}
}
