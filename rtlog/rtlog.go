// Package rtlog wires Concord's ambient logging: unhandled exceptions
// (spec.md §7, when no CoroutineExceptionHandler is found up a Job's parent
// chain), dispatcher task panics, and dropped channel values
// (OnUndeliveredElement, spec.md §4.6). It is grounded on the
// github.com/joeycumines/logiface root logger interface with the
// github.com/joeycumines/logiface-slog backend, the logging stack used
// across the joeycumines-go-utilpkg retrieval pack.
//
// Logging here is always best-effort: a log call never blocks a suspension
// point and never itself panics.
package rtlog

import (
	"log/slog"
	"os"

	"github.com/joeycumines/logiface"
	islog "github.com/joeycumines/logiface-slog"
)

var (
	currentHandler slog.Handler   = slog.NewJSONHandler(os.Stderr, nil)
	currentLevel   logiface.Level = logiface.LevelInformational
)

// Logger is the package-level structured logger. It defaults to writing
// JSON lines to stderr at Info level; call SetHandler to redirect it (e.g.
// to a test buffer, or a host application's own slog.Handler) or SetLevel
// to change its verbosity (wired to concord/config's RuntimeConfig.LogLevel).
var Logger = newLogger(currentHandler, currentLevel)

func newLogger(h slog.Handler, level logiface.Level) *logiface.Logger[*islog.Event] {
	return islog.L.New(islog.L.WithSlogHandler(h), islog.L.WithLevel(level))
}

// SetHandler replaces the backing slog.Handler. Safe to call once during
// process init; not safe to call concurrently with logging calls.
func SetHandler(h slog.Handler) {
	currentHandler = h
	Logger = newLogger(currentHandler, currentLevel)
}

// SetLevel replaces the minimum level Logger emits at. Safe to call once
// during process init; not safe to call concurrently with logging calls.
func SetLevel(level logiface.Level) {
	currentLevel = level
	Logger = newLogger(currentHandler, currentLevel)
}

// LevelFromName maps a concord/config RuntimeConfig.LogLevel string onto a
// logiface.Level, defaulting to LevelInformational for anything else (config
// rejects unrecognized names in Load, LoadFile and New, but a RuntimeConfig
// passed straight to SetActive is not validated).
func LevelFromName(name string) logiface.Level {
	switch name {
	case "debug":
		return logiface.LevelDebug
	case "warn":
		return logiface.LevelWarning
	case "error":
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

// UnhandledException logs an exception that completed a Job exceptionally
// with no CoroutineExceptionHandler found anywhere up its parent chain.
func UnhandledException(jobName, jobID string, err error) {
	defer recoverLogging()
	Logger.Err().
		Str("job_name", jobName).
		Str("job_id", jobID).
		Err(err).
		Log("unhandled coroutine exception")
}

// DispatcherTaskPanic logs a task that panicked inside a Dispatcher-run
// goroutine before it could reach the coroutine's own panic recovery.
func DispatcherTaskPanic(dispatcherName string, recovered any) {
	defer recoverLogging()
	Logger.Err().
		Str("dispatcher", dispatcherName).
		Str("panic", panicString(recovered)).
		Log("dispatched task panicked")
}

// UndeliveredElement logs a value dropped by Channel.Cancel or a DROP_OLDEST
// / DROP_LATEST overflow policy, when the channel has no
// OnUndeliveredElement hook installed to receive it directly.
func UndeliveredElement(channelName string, reason string) {
	defer recoverLogging()
	Logger.Info().
		Str("channel", channelName).
		Str("reason", reason).
		Log("dropped undelivered channel element")
}

func panicString(recovered any) string {
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return "panic"
}

func recoverLogging() {
	// Logging must never be the reason a cancellation or dispatch fails;
	// swallow any handler-side misconfiguration (e.g. a nil handler).
	_ = recover()
}
