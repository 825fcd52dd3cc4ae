package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const defaultCloseTimeout = 30 * time.Second

// SessionConfig holds the optional parts of a session.
type SessionConfig struct {
	Env          map[string]string
	Log          *SessionLog
	CloseTimeout time.Duration
}

// Session owns one live sandbox from provisioning to teardown. Steps run
// one at a time; a second concurrent RunStep fails with ErrSessionBusy.
type Session struct {
	runtime  Runtime
	executor *Executor
	handle   Handle
	image    string
	env      map[string]string
	log      *SessionLog

	closeTimeout time.Duration
	running      atomic.Bool
	closed       atomic.Bool
	closeOnce    sync.Once
	closeErr     error
}

// OpenSession provisions image on rt. It blocks until the sandbox is ready
// and fails with ErrContainerUnavailable if it cannot be provisioned, or
// with the context error if ctx ends first.
func OpenSession(ctx context.Context, rt Runtime, executor *Executor, image string, cfg SessionConfig) (*Session, error) {
	h, err := rt.Provision(ctx, image)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: provision %s: %w", ErrContainerUnavailable, image, err)
	}

	if executor == nil {
		executor = NewExecutor(0)
	}
	if cfg.Log == nil {
		cfg.Log = NewSessionLog(nil)
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	return &Session{
		runtime:      rt,
		executor:     executor,
		handle:       h,
		image:        image,
		env:          cfg.Env,
		log:          cfg.Log,
		closeTimeout: cfg.CloseTimeout,
	}, nil
}

// RunStep delegates to the session's Executor.
func (s *Session) RunStep(ctx context.Context, command string) (StepOutcome, error) {
	if s.closed.Load() {
		return StepOutcome{}, ErrSessionClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return StepOutcome{}, ErrSessionBusy
	}
	defer s.running.Store(false)

	return s.executor.Run(ctx, s, command)
}

// Close tears the sandbox down. It is idempotent and still runs when ctx
// is already cancelled.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.closeTimeout)
		defer cancel()
		if err := s.runtime.Teardown(tctx, s.handle); err != nil {
			s.closeErr = fmt.Errorf("teardown %s: %w", s.handle.ID(), err)
		}
	})
	return s.closeErr
}

func (s *Session) ID() string       { return s.handle.ID() }
func (s *Session) Image() string    { return s.image }
func (s *Session) Log() *SessionLog { return s.log }
