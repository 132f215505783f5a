// Package startup brings service dependencies up in dependency order, retrying with
// fibonacci backoff, and stops them in reverse.
package startup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
)

type StartupDependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type StartupStatus int

const (
	StartupStatusPending StartupStatus = iota
	StartupStatusStarted
	StartupStatusStopped
	StartupStatusFailed
)

// Dependency is a StartupDependency built from funcs. Nil funcs are no-ops.
type Dependency struct {
	Name     string
	Requires []string
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
}

func (d Dependency) GetName() string     { return d.Name }
func (d Dependency) DependsOn() []string { return d.Requires }

func (d Dependency) Start(ctx context.Context) error {
	if d.OnStart == nil {
		return nil
	}
	return d.OnStart(ctx)
}

func (d Dependency) Stop(ctx context.Context) error {
	if d.OnStop == nil {
		return nil
	}
	return d.OnStop(ctx)
}

type Startup struct {
	dependencies map[string]StartupDependency
	order        []string
	started      []string
	logger       ectologger.Logger
	statuses     map[string]StartupStatus
	attempt      int
	maxAttempts  int
	// backoffUnit scales the fibonacci wait between attempts
	backoffUnit time.Duration
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Startup{
		logger:       logger,
		dependencies: make(map[string]StartupDependency),
		statuses:     make(map[string]StartupStatus),
		maxAttempts:  maxAttempts,
		backoffUnit:  time.Second,
	}
}

func (s *Startup) AddDependency(dependency StartupDependency) {
	name := dependency.GetName()
	if _, exists := s.dependencies[name]; !exists {
		s.order = append(s.order, name)
	}
	s.dependencies[name] = dependency
}

// Status returns the status of a named dependency
func (s *Startup) Status(name string) StartupStatus {
	return s.statuses[name]
}

// Attempts returns how many attempts the last Start made
func (s *Startup) Attempts() int {
	return s.attempt
}

func (s *Startup) Start(ctx context.Context) error {
	if err := s.checkGraph(); err != nil {
		return err
	}

	s.attempt = 0
	var lastErr error

	// Fibonacci backoff sequence
	a, b := 1, 1
	for s.attempt < s.maxAttempts {
		s.attempt++
		s.logger.WithField("attempt", s.attempt).Infof("Beginning startup attempt %d", s.attempt)

		success := true
		for _, name := range s.order {
			err := s.startDependency(ctx, s.dependencies[name])
			if err != nil {
				s.logger.WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, s.attempt)
				lastErr = err
				success = false
				break
			}
		}

		if success {
			return nil
		}

		if s.attempt >= s.maxAttempts {
			return fmt.Errorf("startup failed after %d attempts: %w", s.attempt, lastErr)
		}

		waitTime := time.Duration(a) * s.backoffUnit
		s.logger.Infof("Retrying in %s (attempt %d/%d)", waitTime, s.attempt, s.maxAttempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}

		a, b = b, a+b
	}

	return lastErr
}

// checkGraph rejects unknown requirements and cycles before anything is started
func (s *Startup) checkGraph() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(s.dependencies))

	var visit func(name string, from string) error
	visit = func(name string, from string) error {
		dep, ok := s.dependencies[name]
		if !ok {
			return fmt.Errorf("dependency '%s' requires unknown dependency '%s'", from, name)
		}
		switch state[name] {
		case visiting:
			return fmt.Errorf("dependency cycle detected at '%s'", name)
		case done:
			return nil
		}
		state[name] = visiting
		requires := append([]string(nil), dep.DependsOn()...)
		sort.Strings(requires)
		for _, req := range requires {
			if err := visit(req, name); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for _, name := range s.order {
		if err := visit(name, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Startup) startDependency(ctx context.Context, dependency StartupDependency) error {
	name := dependency.GetName()
	if s.statuses[name] == StartupStatusStarted {
		return nil
	}

	for _, dependencyName := range dependency.DependsOn() {
		if s.statuses[dependencyName] != StartupStatusStarted {
			err := s.startDependency(ctx, s.dependencies[dependencyName])
			if err != nil {
				return err
			}
		}
	}

	s.logger.WithField("dependency", name).Infof("Starting dependency '%s'", name)
	s.statuses[name] = StartupStatusPending
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = StartupStatusFailed
		s.logger.WithError(err).WithField("dependency", name).Errorf("Failed to start dependency '%s'", name)
		return err
	}
	s.statuses[name] = StartupStatusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop stops started dependencies in the reverse of their start order. Every
// dependency is attempted; the first error is returned.
func (s *Startup) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		if s.statuses[name] != StartupStatusStarted {
			continue
		}
		if err := s.stopDependency(ctx, s.dependencies[name]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.started = nil
	return firstErr
}

func (s *Startup) stopDependency(ctx context.Context, dependency StartupDependency) error {
	name := dependency.GetName()
	s.logger.WithField("dependency", name).Infof("Stopping dependency '%s'", name)
	if err := dependency.Stop(ctx); err != nil {
		s.statuses[name] = StartupStatusFailed
		s.logger.WithError(err).WithField("dependency", name).Errorf("Failed to stop dependency '%s'", name)
		return err
	}

	s.logger.WithField("dependency", name).Infof("Dependency '%s' stopped", name)
	s.statuses[name] = StartupStatusStopped
	return nil
}
