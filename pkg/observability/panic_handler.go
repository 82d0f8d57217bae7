package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
// It must be called directly in a defer statement; the panic is not re-raised.
//
//	defer observability.RecoverPanic(log, "broadcast listener")
func RecoverPanic(log logrus.FieldLogger, context string) {
	if r := recover(); r != nil {
		log.WithFields(logrus.Fields{
			"panic":   r,
			"stack":   string(debug.Stack()),
			"context": context,
		}).Error("PANIC recovered")
	}
}

// MustRecover converts a recovered panic value into an error; nil stays nil
//
//	defer func() {
//	    err = observability.MustRecover(recover())
//	}()
func MustRecover(r any) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
