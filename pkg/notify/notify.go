// Package notify fans lifecycle events for an upload out to external
// systems: a local executable, an HTTP endpoint, a gRPC endpoint or an SQS
// queue. It plays the role the teacher's pkg/hooks family plays for tusd,
// generalized from tus's six hook types (pre-create, post-receive, ...) to
// this protocol's four HookEventKinds (created, progress, completed,
// terminated).
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/resumable-http/rufh/pkg/core"
)

// Sink receives one upload lifecycle event at a time. Implementations
// should not block the caller for long; Dispatcher already runs each sink
// invocation in its own goroutine per event.
type Sink interface {
	Notify(ctx context.Context, event core.HookEvent) error
}

// Dispatcher implements core.Notifier by fanning each event out to every
// configured Sink concurrently, matching the teacher's single-active-hook
// model generalized to "possibly several, run them all, log failures."
type Dispatcher struct {
	Sinks  []Sink
	Logger *slog.Logger

	wg sync.WaitGroup
}

func (d *Dispatcher) Notify(event core.HookEvent) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, sink := range d.Sinks {
		sink := sink
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := sink.Notify(context.Background(), event); err != nil {
				logger.Warn("notification sink failed", "kind", event.Kind, "token", event.Token.String(), "error", err)
				MetricsHookErrorsTotal.Inc()
			}
			MetricsHookInvocationsTotal.Inc()
		}()
	}
}

// Wait blocks until every in-flight notification has returned. Intended for
// use during graceful shutdown, after core.Handler.Shutdown has stopped
// producing new events.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
