// Package logging builds the zap logger used for local diagnostics.
package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New returns a JSON production logger when env is "production" and a console development logger otherwise.
func New(env string) (*zap.Logger, error) {
	if strings.EqualFold(strings.TrimSpace(env), "production") {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// OrNop returns l, or a no-op logger when l is nil. Constructors use it so a nil logger is always safe.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
