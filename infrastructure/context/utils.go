// Package context provides timeout helpers shared by the ocrbase processes.
package context

import (
	"context"
	"time"
)

const (
	// DefaultShutdownTimeout bounds cleanup once a process is stopping.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultPingTimeout bounds a single dependency health probe.
	DefaultPingTimeout = 5 * time.Second
)

// Detached returns a context that keeps parent's values but not its
// cancellation, bounded by d. Use it for work that must finish after the
// request or process context has ended.
func Detached(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), d)
}

// WithShutdownTimeout is Detached with DefaultShutdownTimeout.
func WithShutdownTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return Detached(parent, DefaultShutdownTimeout)
}

// WithPingTimeout bounds a health probe without detaching it from parent.
func WithPingTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultPingTimeout)
}
