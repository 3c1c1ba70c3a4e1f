package log

import (
	"context"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

var (
	base     *logrus.Logger
	baseOnce sync.Once
)

func baseLogger() *logrus.Logger {
	baseOnce.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stdout)
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
			base.SetLevel(lvl)
		}
	})
	return base
}

// GetLogger returns the request-scoped entry stored in ctx, or a plain entry
// on the process logger when none is attached.
func GetLogger(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
			return entry
		}
	}
	return logrus.NewEntry(baseLogger())
}

// WithFields attaches a derived entry to the context so downstream callers
// pick up the same fields via GetLogger.
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	entry := GetLogger(ctx).WithFields(fields)
	return context.WithValue(ctx, ctxKey{}, entry)
}
