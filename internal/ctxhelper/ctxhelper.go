// Package ctxhelper provides helper functions for working with the context
package ctxhelper

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

var (
	// KeyVisitor is the context key for storing the visitor ID associated with the current call
	KeyVisitor = ctxKey("visitor")
	// KeyLogger is the context key for storing the logger in the context
	KeyLogger = ctxKey("logger")
)

// internal context key
type ctxKey string

// Visitor returns the visitor ID from the current context, if available
func Visitor(ctx context.Context) string {
	if id, ok := ctx.Value(KeyVisitor).(string); ok {
		return id
	}
	return ""
}

// Logger returns the logger from the current context. If no logger is available, it panics
func Logger(ctx context.Context) *logrus.Entry {
	logger, ok := ctx.Value(KeyLogger).(*logrus.Entry)
	if ok {
		return logger
	}
	panic("No logger in context")
}

// LoggerOr returns the logger from the current context or the given fallback if there is none
func LoggerOr(ctx context.Context, fallback *logrus.Entry) *logrus.Entry {
	if logger, ok := ctx.Value(KeyLogger).(*logrus.Entry); ok {
		return logger
	}
	return fallback
}
