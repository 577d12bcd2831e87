package engine

import (
	"go.uber.org/zap"
)

// Level of user visible notification.
type Level int

const (
	Success Level = iota
	Info
	Warning
	Error
	// Blocking requires user attention before anything else happens.
	Blocking
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Blocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// Notifier delivers messages to the user.
type Notifier interface {
	Notify(level Level, msg string)
}

// NotifierFunc adapts function to Notifier.
type NotifierFunc func(level Level, msg string)

func (f NotifierFunc) Notify(level Level, msg string) {
	f(level, msg)
}

// LogNotifier reports notifications to log, it is used when there is no
// interactive user.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(level Level, msg string) {
	switch level {
	case Success, Info:
		n.log.Info(msg, zap.Stringer("level", level))
	case Warning:
		n.log.Warn(msg, zap.Stringer("level", level))
	default:
		n.log.Error(msg, zap.Stringer("level", level))
	}
}
