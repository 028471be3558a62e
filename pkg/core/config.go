package core

import (
	"log/slog"
	"time"
)

// HookEvent describes one lifecycle transition of an upload, emitted to a
// Notifier by the Handler on creation, at the end of each producing
// request, on completion and on cancellation by DELETE. Records terminated
// by the registry's sweep, by Shutdown or by a downstream handler error
// emit no event. It is the shape pkg/notify's sinks fan out to
// file/HTTP/gRPC/SQS.
type HookEvent struct {
	Kind        HookEventKind
	Token       Token
	Offset      int64
	TotalLength int64
	HasTotalLength bool
	Interop     InteropVersion
	Time        time.Time
}

type HookEventKind string

const (
	HookEventCreated    HookEventKind = "created"
	HookEventProgress   HookEventKind = "progress"
	HookEventCompleted  HookEventKind = "completed"
	HookEventTerminated HookEventKind = "terminated"
)

// Notifier receives lifecycle events from the Handler. A nil Notifier is
// valid; Config.emit is a no-op in that case.
type Notifier interface {
	Notify(HookEvent)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(HookEvent)

func (f NotifierFunc) Notify(e HookEvent) { f(e) }

// Config collects everything the Handler needs beyond the wire protocol
// itself: size limits, the downstream application, lifecycle notification
// and the registry's sweep tuning.
type Config struct {
	// BasePath is the URL path prefix the Handler is mounted under. It is
	// used as the URL of the request synthesized for the DownstreamHandler;
	// the Handler emits no Location header.
	BasePath string

	// MaxSize makes CreateUpload reject an upload whose declared
	// Upload-Length exceeds it. The number of bytes actually received is
	// not checked against it. Zero means unlimited.
	MaxSize int64

	// NetworkTimeout bounds how long the Middleware will wait for the next
	// read or write on the underlying connection before giving up, via
	// http.ResponseController. Zero disables the deadline.
	NetworkTimeout time.Duration

	// Handler is the application's DownstreamHandler. Required.
	Handler DownstreamHandler

	// Notifier receives lifecycle events. Optional.
	Notifier Notifier

	// Logger receives structured request/lifecycle logs. Defaults to
	// slog.Default() if nil.
	Logger *slog.Logger

	// Metrics receives request and byte counters. Optional.
	Metrics *Metrics

	Registry RegistryConfig
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Registry.setDefaults()
}

func (c *Config) emit(evt HookEvent) {
	if c.Notifier != nil {
		c.Notifier.Notify(evt)
	}
}
