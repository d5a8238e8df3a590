package safe

import (
	"PPresence/logger"
	"PPresence/tools/errs"

	"go.uber.org/zap"
)

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover must be deferred directly. It logs the panic and swallows it.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("[SafeGo] panic recovered", zap.String("where", name), zap.Error(errs.ErrPanic(r)))
	}
}

// Call runs f and turns a panic into an error.
func Call(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	return f()
}
