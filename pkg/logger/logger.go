// Package logger is a small facade over one or more structured logging
// backends. Both binaries call Init once at startup; packages log through
// the level functions without holding a logger value.
package logger

// Backend is implemented by logging sinks such as the console backend.
type Backend interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

var backends []Backend

// Init sets the global backends. Logging before Init is a no-op.
func Init(bs ...Backend) {
	backends = bs
}

func dispatch(fn func(Backend, string, []any), message string, keyvals []any) {
	for _, b := range backends {
		fn(b, message, keyvals)
	}
}

// Log writes a message at the backend's default level.
func Log(message string, keyvals ...any) {
	dispatch(func(b Backend, m string, kv []any) { b.Log(m, kv...) }, message, keyvals)
}

// Debug writes a message at DEBUG level.
func Debug(message string, keyvals ...any) {
	dispatch(func(b Backend, m string, kv []any) { b.Debug(m, kv...) }, message, keyvals)
}

// Info writes a message at INFO level.
func Info(message string, keyvals ...any) {
	dispatch(func(b Backend, m string, kv []any) { b.Info(m, kv...) }, message, keyvals)
}

// Warn writes a message at WARN level.
func Warn(message string, keyvals ...any) {
	dispatch(func(b Backend, m string, kv []any) { b.Warn(m, kv...) }, message, keyvals)
}

// Error writes a message at ERROR level.
func Error(message string, keyvals ...any) {
	dispatch(func(b Backend, m string, kv []any) { b.Error(m, kv...) }, message, keyvals)
}

// Fatal writes a message at FATAL level; backends are expected to exit.
func Fatal(message string, keyvals ...any) {
	dispatch(func(b Backend, m string, kv []any) { b.Fatal(m, kv...) }, message, keyvals)
}
