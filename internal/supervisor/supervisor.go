package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Default timings, matching the bridge's configuration defaults.
const (
	DefaultInterval     = 10 * time.Second
	DefaultInitialDelay = 3 * time.Second
)

// State is the supervisor's view of its connection.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Target is the connection a Supervisor looks after.
type Target interface {
	// Alive reports whether the connection is usable right now.
	Alive(ctx context.Context) bool

	// Reconnect tears the connection down and establishes a new one,
	// restoring whatever session state the target owns.
	Reconnect(ctx context.Context) error
}

// Config holds per-supervisor timings.
type Config struct {
	// Interval between liveness checks.
	Interval time.Duration

	// InitialDelay before the first check.
	InitialDelay time.Duration

	// CheckTimeout bounds one tick (check, reconnect, re-check).
	// Defaults to Interval.
	CheckTimeout time.Duration
}

// Logger defines the logging interface for supervisors. A logger that also
// has Critical(msg, args...) receives connection-loss events at that level.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type criticalLogger interface {
	Critical(msg string, args ...any)
}

// Supervisor periodically checks a Target and reconnects it when the check
// fails. It is a two-state machine; only a successful check puts it in
// Connected, including right after a reconnect.
//
// Thread Safety:
//   - State and the setters are safe for concurrent use.
//   - Check must not be called concurrently with itself or Run.
type Supervisor struct {
	name   string
	target Target
	cfg    Config

	mu          sync.RWMutex
	state       State
	logger      Logger
	onChange    func(name string, from, to State)
	onReconnect func(name string, err error)
}

// New creates a supervisor in the Disconnected state.
func New(name string, target Target, cfg Config) (*Supervisor, error) {
	if target == nil {
		return nil, errors.New("supervisor: target is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = cfg.Interval
	}

	return &Supervisor{
		name:   name,
		target: target,
		cfg:    cfg,
		state:  Disconnected,
		logger: noopLogger{},
	}, nil
}

// Name returns the supervised target's name.
func (s *Supervisor) Name() string { return s.name }

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// OnStateChange registers a callback invoked on every state transition.
func (s *Supervisor) OnStateChange(fn func(name string, from, to State)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// OnReconnect registers a callback invoked after every reconnect attempt.
func (s *Supervisor) OnReconnect(fn func(name string, err error)) {
	s.mu.Lock()
	s.onReconnect = fn
	s.mu.Unlock()
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Run checks the target every Interval, after InitialDelay, until ctx is
// cancelled. It always returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	log := s.getLogger()
	log.Info("supervisor started", "target", s.name, "interval", s.cfg.Interval)

	if s.cfg.InitialDelay > 0 {
		delay := time.NewTimer(s.cfg.InitialDelay)
		select {
		case <-ctx.Done():
			delay.Stop()
			return nil
		case <-delay.C:
		}
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.Check(ctx)

		select {
		case <-ctx.Done():
			log.Info("supervisor stopped", "target", s.name)
			return nil
		case <-ticker.C:
		}
	}
}

// Check performs one tick: check, and on failure exactly one reconnect
// followed by a verifying check. It returns the resulting state.
func (s *Supervisor) Check(ctx context.Context) State {
	if ctx.Err() != nil {
		return s.State()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	log := s.getLogger()

	if s.target.Alive(ctx) {
		log.Debug("connection alive", "target", s.name)
		s.transition(Connected)
		return Connected
	}

	s.transition(Disconnected)
	s.critical(log, "connection dead, reconnecting", "target", s.name)

	err := s.target.Reconnect(ctx)
	s.notifyReconnect(err)
	if err != nil {
		log.Error("reconnect failed", "target", s.name, "error", err)
		return Disconnected
	}

	if !s.target.Alive(ctx) {
		log.Error("reconnect completed but connection is not alive", "target", s.name)
		return Disconnected
	}

	log.Info("connection restored", "target", s.name)
	s.transition(Connected)
	return Connected
}

func (s *Supervisor) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	fn := s.onChange
	s.mu.Unlock()

	if from != to && fn != nil {
		fn(s.name, from, to)
	}
}

func (s *Supervisor) notifyReconnect(err error) {
	s.mu.RLock()
	fn := s.onReconnect
	s.mu.RUnlock()
	if fn != nil {
		fn(s.name, err)
	}
}

func (s *Supervisor) getLogger() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

func (s *Supervisor) critical(log Logger, msg string, args ...any) {
	if c, ok := log.(criticalLogger); ok {
		c.Critical(msg, args...)
		return
	}
	log.Error(msg, args...)
}
