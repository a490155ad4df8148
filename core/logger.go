package core

// Logger is the minimal logging contract shared by all components.
// args may carry errors or arbitrary context values for the backend to record.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
