// Package ports defines the interfaces between the pipeline core and its
// adapters: codecs, containers, file system, logging and metrics.
package ports

// LogLevel orders log output by severity. A logger prints messages at or
// above its own level.
type LogLevel int

const (
	LevelDebug LogLevel = iota // per-buffer traces inside a stage
	LevelInfo                  // coordinator progress
	LevelWarn                  // recoverable, e.g. a late format change
	LevelError                 // failures that end a run
	LevelQuiet                 // nothing
)

var levelNames = [...]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
	LevelQuiet: "quiet",
}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// LookupLogLevel returns the level named s. ok is false for unknown names.
func LookupLogLevel(s string) (level LogLevel, ok bool) {
	for i, name := range levelNames {
		if name == s {
			return LogLevel(i), true
		}
	}
	return LevelInfo, false
}

// ParseLogLevel is LookupLogLevel falling back to LevelInfo.
func ParseLogLevel(s string) LogLevel {
	level, _ := LookupLogLevel(s)
	return level
}

// Logger abstracts logging. msg is a translatable format key; args fill
// its verbs after translation.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})

	// WithComponent tags every message with the pipeline component
	// (source, decoder, encoder, muxer, coordinator).
	WithComponent(component string) Logger
}
