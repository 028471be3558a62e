package core

import (
	"context"
	"sync"
	"time"
)

// ReuseTokenPolicy controls what happens when a creating request names a
// token that the registry has already seen, per the Open Question in
// spec.md section 9.
type ReuseTokenPolicy int

const (
	// RejectReuse answers a second creation for the same token with
	// ErrTokenConflict, matching the draft's guidance that tokens are
	// client-chosen and collision is a client bug.
	RejectReuse ReuseTokenPolicy = iota
	// AllowReplace discards the previous record (terminating it first if
	// still live) and starts a fresh one, for hosts that want creation to
	// be idempotent under client retry.
	AllowReplace
)

// RegistryConfig configures sweep behavior and the record's backpressure
// bound. Zero values fall back to the defaults applied by NewRegistry.
type RegistryConfig struct {
	BufferBytes       int64
	IdleRecordTimeout time.Duration
	TransferInactivityTimeout time.Duration
	SweepInterval     time.Duration
	ReuseTokenPolicy  ReuseTokenPolicy
}

const (
	defaultBufferBytes       = 4 << 20
	defaultIdleRecordTimeout = 24 * time.Hour
	defaultInactivityTimeout = 5 * time.Minute
	defaultSweepInterval     = 30 * time.Second
)

func (c *RegistryConfig) setDefaults() {
	if c.BufferBytes <= 0 {
		c.BufferBytes = defaultBufferBytes
	}
	if c.IdleRecordTimeout <= 0 {
		c.IdleRecordTimeout = defaultIdleRecordTimeout
	}
	if c.TransferInactivityTimeout <= 0 {
		c.TransferInactivityTimeout = defaultInactivityTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
}

// Registry is the in-memory token→Record table. It has no knowledge of the
// wire protocol; it only creates, looks up, removes and sweeps records.
//
// A sync.Map is used rather than a plain map+mutex because lookups vastly
// outnumber inserts/deletes once a fleet of uploads is steady-state — the
// same tradeoff the teacher's composer-backed stores make by keeping one
// long-lived handle per upload rather than re-resolving it from disk.
type Registry struct {
	records sync.Map // string (Token.String()) -> *Record
	cfg     RegistryConfig

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewRegistry(cfg RegistryConfig) *Registry {
	cfg.setDefaults()
	reg := &Registry{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go reg.sweepLoop()
	return reg
}

// Create inserts a new record for token. It returns ErrTokenConflict if a
// record is already registered for this token, including a terminated one,
// unless the registry's reuse policy is AllowReplace, in which case the old
// record is terminated and evicted first.
func (reg *Registry) Create(token Token) (*Record, error) {
	key := token.String()

	if existing, ok := reg.records.Load(key); ok {
		if reg.cfg.ReuseTokenPolicy == AllowReplace {
			existing.(*Record).Terminate()
			reg.records.Delete(key)
		} else {
			return nil, ErrTokenConflict
		}
	}

	rec := NewRecord(token, reg.cfg.BufferBytes)
	actual, loaded := reg.records.LoadOrStore(key, rec)
	if loaded {
		return nil, ErrTokenConflict
	}
	return actual.(*Record), nil
}

// Find looks up the record for token. ok is false if no record exists.
func (reg *Registry) Find(token Token) (*Record, bool) {
	v, ok := reg.records.Load(token.String())
	if !ok {
		return nil, false
	}
	return v.(*Record), true
}

// Remove evicts a record from the table. It does not terminate the record;
// callers that want both should call Record.Terminate first.
func (reg *Registry) Remove(token Token) {
	reg.records.Delete(token.String())
}

// Shutdown terminates every live record (unblocking any producer or
// consumer currently waiting on one) and stops the sweep loop.
func (reg *Registry) Shutdown(ctx context.Context) {
	reg.stopOnce.Do(func() { close(reg.stopCh) })

	reg.records.Range(func(key, value any) bool {
		value.(*Record).Terminate()
		return true
	})

	select {
	case <-reg.doneCh:
	case <-ctx.Done():
	}
}

func (reg *Registry) sweepLoop() {
	defer close(reg.doneCh)

	ticker := time.NewTicker(reg.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-reg.stopCh:
			return
		case <-ticker.C:
			reg.sweepOnce(time.Now())
		}
	}
}

func (reg *Registry) sweepOnce(now time.Time) {
	reg.records.Range(func(key, value any) bool {
		rec := value.(*Record)

		if idle, is := rec.idleFor(now); is && idle > reg.cfg.IdleRecordTimeout {
			rec.Terminate()
			reg.records.Delete(key)
			return true
		}

		if inactive, cancel, is := rec.receivingInactiveFor(now); is && inactive > reg.cfg.TransferInactivityTimeout {
			if cancel != nil {
				cancel(ErrTransferInactive)
			}
		}

		return true
	})
}
