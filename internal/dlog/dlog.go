// Package dlog carries a structured logger through a context.Context,
// adapted from internal/dcontext's logger attachment (WithLogger/GetLogger)
// down to the fields the deploy engine actually needs: a component name
// plus whatever per-call fields a caller wants to add, always backed by
// logrus.
package dlog

import (
	"context"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

var defaultLogger = logrus.NewEntry(logrus.StandardLogger())

// WithLogger attaches entry to ctx, to be retrieved later by Get.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry)
}

// Get returns the logger attached to ctx, or the package default if none
// was attached.
func Get(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return entry
	}
	return defaultLogger
}

// Component returns a logger tagged with the given component name,
// matching the field convention used throughout this repo's packages
// (relayclient, report) for per-subsystem log lines.
func Component(ctx context.Context, name string) *logrus.Entry {
	return Get(ctx).WithField("component", name)
}

// SetDefault replaces the package-level fallback logger used when no
// logger has been attached to a context.
func SetDefault(entry *logrus.Entry) {
	if entry != nil {
		defaultLogger = entry
	}
}
