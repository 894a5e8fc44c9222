package types

// Logger is the structured logger used throughout msam. WithField and
// WithFields return a derived logger; the receiver is never modified.
type Logger interface {
	WithField(key string, value any) Logger
	WithFields(fields map[string]any) Logger
	Debug(msg string)
	Debugf(format string, args ...any)
	Info(msg string)
	Infof(format string, args ...any)
	Warn(msg string)
	Warnf(format string, args ...any)
	Error(msg string)
	Errorf(format string, args ...any)
}
