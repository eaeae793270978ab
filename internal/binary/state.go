package binary

import "context"

// State is a step of the install state machine.
type State int

const (
	StateIdle State = iota
	StateResolvingRelease
	StateCheckingExisting
	StateAwaitingConfirmation
	StateDownloading
	StateVerifying
	StateExtracting
	StateInstalling
	StateCleaningUp
	StateDone
	StateCancelled
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:                 "idle",
	StateResolvingRelease:     "resolving release",
	StateCheckingExisting:     "checking existing install",
	StateAwaitingConfirmation: "awaiting confirmation",
	StateDownloading:          "downloading",
	StateVerifying:            "verifying",
	StateExtracting:           "extracting",
	StateInstalling:           "installing",
	StateCleaningUp:           "cleaning up",
	StateDone:                 "done",
	StateCancelled:            "cancelled",
	StateFailed:               "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled || s == StateFailed
}

// Reporter receives human-facing progress. Implementations must not block.
type Reporter interface {
	// Step is called on every state transition with a short detail string.
	Step(state State, detail string)
	// Warn reports a non-fatal condition the user should see.
	Warn(msg string)
}

type noopReporter struct{}

func (noopReporter) Step(State, string) {}
func (noopReporter) Warn(string)        {}

// Confirmer asks the user a yes/no question. Implementations must return
// promptly with ctx.Err() once ctx is cancelled.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Logger provides structured logging for install runs. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger is the default used when no Logger is configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
