package logging

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// Recover logs a panic with its stack. Use as `defer l.Recover("consumer")`.
func (l *Logger) Recover(where string) {
	if rec := recover(); rec != nil {
		l.handlePanic(where, rec)
	}
}

// WrapError runs fn and converts a panic into an error.
func (l *Logger) WrapError(where string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = l.handlePanic(where, rec)
		}
	}()
	return fn()
}

// SafeGo launches fn on a goroutine that cannot take the process down.
func (l *Logger) SafeGo(where string, fn func()) {
	go func() {
		defer l.Recover(where)
		fn()
	}()
}

func (l *Logger) handlePanic(where string, rec any) error {
	l.zap.Error("panic recovered",
		zap.String("where", where),
		zap.Any("panic", rec),
		zap.String("stack", string(debug.Stack())),
	)
	return fmt.Errorf("panic in %s.%s: %v", l.component, where, rec)
}
