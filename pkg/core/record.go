package core

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// State is one of the five states of the Upload Record state machine
// described in spec section 4.3.
type State int

const (
	StateInitial State = iota
	StateReceiving
	StateIdle
	StateComplete
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateReceiving:
		return "receiving"
	case StateIdle:
		return "idle"
	case StateComplete:
		return "complete"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// DownstreamResponse is what the application handler produced for this
// upload. It is delivered to whichever transaction is attached as producer
// when the handler returns, or held on the record for the next
// offset-retrieval or append request to pick up (spec section 4.5).
type DownstreamResponse struct {
	StatusCode int
	Header     map[string][]string
	Body       []byte
	Err        error
}

// Snapshot is a point-in-time, lock-free copy of a Record's externally
// visible state, returned by Record.Snapshot for HEAD responses and
// admission decisions made outside the record's own lock.
type Snapshot struct {
	Token          Token
	Offset         int64
	TotalLength    int64
	HasTotalLength bool
	Complete       bool
	State          State
	Interop        InteropVersion
	HasInterop     bool
}

// Record is the central entity of the protocol: one per logical upload,
// identified by its Token. All fields are guarded by mu except Token, which
// is immutable after construction.
//
// Record doubles as an io.Reader (for the Downstream Adapter to pull the
// concatenated body) and as an io.Writer (for the protocol handler to admit
// bytes from whichever request currently holds the producer slot). Exactly
// one of those roles is ever blocked waiting on the other; bufSem is what
// lets a producer block without holding mu across the wait.
type Record struct {
	Token Token

	mu   sync.Mutex
	cond *sync.Cond

	state          State
	offset         int64
	totalLength    int64
	hasTotalLength bool
	interop        InteropVersion
	hasInterop     bool

	buf []byte

	bufSem *semaphore.Weighted

	producerAttached bool
	producerCancel   context.CancelCauseFunc

	createdAt    time.Time
	lastActivity time.Time

	downstreamResp *DownstreamResponse

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewRecord creates a record in StateInitial with the given backpressure
// bound, in bytes. The record's own context lives for as long as the
// upload does, independent of any single HTTP request's context — it is
// what the Downstream Adapter hands the application handler, and it is
// canceled exactly once, by Terminate.
func NewRecord(token Token, bufferBytes int64) *Record {
	ctx, cancel := context.WithCancelCause(context.Background())
	r := &Record{
		Token:        token,
		state:        StateInitial,
		bufSem:       semaphore.NewWeighted(bufferBytes),
		createdAt:    time.Now(),
		lastActivity: time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Context returns the record's own long-lived context, canceled when the
// upload is terminated.
func (r *Record) Context() context.Context {
	return r.ctx
}

func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Token:          r.Token,
		Offset:         r.offset,
		TotalLength:    r.totalLength,
		HasTotalLength: r.hasTotalLength,
		Complete:       r.state == StateComplete,
		State:          r.state,
		Interop:        r.interop,
		HasInterop:     r.hasInterop,
	}
}

// BeginProducer attempts to admit an appending (or creating) request as the
// record's producer. It enforces I1 (single producer), I5 (interop match),
// I6 (stable total length) and I7 (offset equality), returning the mapped
// protocol Error on any violation. alreadyComplete is true when the request
// is a no-op retry against an already-finished upload at the right offset.
func (r *Record) BeginProducer(offset int64, length int64, hasLength bool, interop InteropVersion, hasInterop bool, cancel context.CancelCauseFunc) (alreadyComplete bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateTerminated {
		return false, ErrUploadTerminated
	}

	if hasInterop {
		if r.hasInterop && r.interop != interop {
			return false, ErrInteropMismatch
		}
		if !r.hasInterop {
			r.interop = interop
			r.hasInterop = true
		}
	}

	if hasLength {
		if r.hasTotalLength && r.totalLength != length {
			return false, ErrLengthMismatch
		}
		if !r.hasTotalLength {
			r.totalLength = length
			r.hasTotalLength = true
		}
	}

	if r.state == StateComplete {
		if offset == r.offset {
			return true, nil
		}
		return false, ErrOffsetMismatch
	}

	if offset != r.offset {
		return false, ErrOffsetMismatch
	}

	if r.producerAttached {
		return false, ErrProducerAttached
	}

	r.producerAttached = true
	r.producerCancel = cancel
	r.state = StateReceiving
	r.lastActivity = time.Now()
	return false, nil
}

// EndProducer detaches the current producer. clean is true when the
// request's body ended normally (as opposed to a transport failure);
// incomplete mirrors the Upload-Incomplete header the producer declared (or
// true implicitly if the declared length has not yet been reached).
//
// On an unclean end, any bytes admitted but not yet drained by the consumer
// are discarded and offset is left at the already-drained count — the
// "client's truthful resumption point" invariant from spec section 4.3.
func (r *Record) EndProducer(clean bool, incomplete bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateTerminated {
		r.producerAttached = false
		r.producerCancel = nil
		return
	}

	r.producerAttached = false
	r.producerCancel = nil

	if !clean {
		if len(r.buf) > 0 {
			r.bufSem.Release(int64(len(r.buf)))
			r.buf = nil
		}
		r.state = StateIdle
		r.cond.Broadcast()
		return
	}

	// Buffered bytes were admitted cleanly and will be drained, so they count
	// toward the declared length even before the consumer has read them.
	reachedLength := r.hasTotalLength && r.offset+int64(len(r.buf)) >= r.totalLength
	if !incomplete || reachedLength {
		r.state = StateComplete
	} else {
		r.state = StateIdle
	}
	r.cond.Broadcast()
}

// Write admits producer bytes into the record's bounded buffer. It blocks
// (without holding mu) when the buffer is at its configured bound, which is
// the backpressure mechanism described in spec section 4.5: the caller
// (reading from the HTTP request body) simply stops making progress until
// the consumer drains enough of the buffer to free capacity.
//
// ctx should be the producing request's context; cancellation (including
// transfer-inactivity eviction, see Registry) unblocks the Acquire call.
func (r *Record) Write(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	if r.state != StateReceiving {
		r.mu.Unlock()
		return 0, ErrUploadTerminated
	}
	r.mu.Unlock()

	if err := r.bufSem.Acquire(ctx, int64(len(p))); err != nil {
		return 0, err
	}

	r.mu.Lock()
	if r.state != StateReceiving {
		r.mu.Unlock()
		r.bufSem.Release(int64(len(p)))
		return 0, ErrUploadTerminated
	}

	r.buf = append(r.buf, p...)
	r.lastActivity = time.Now()
	r.cond.Broadcast()
	r.mu.Unlock()

	return len(p), nil
}

// Read implements io.Reader for the Downstream Adapter. It blocks until
// bytes are available, the upload reaches StateComplete with an empty
// buffer (io.EOF), or the upload is terminated.
func (r *Record) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.buf) == 0 {
		switch r.state {
		case StateComplete:
			return 0, io.EOF
		case StateTerminated:
			return 0, ErrUploadTerminated
		}
		r.cond.Wait()
	}

	n := copy(p, r.buf)
	consumed := r.buf[:n]
	r.buf = r.buf[n:]
	if len(r.buf) == 0 {
		r.buf = nil
	}
	r.offset += int64(n)
	r.bufSem.Release(int64(len(consumed)))
	r.cond.Broadcast()
	return n, nil
}

// Terminate transitions the record to StateTerminated (spec: DELETE, or
// idle/error eviction policy). It cancels any attached producer and wakes
// any consumer blocked in Read.
func (r *Record) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateTerminated {
		return
	}

	producerCancel := r.producerCancel
	r.state = StateTerminated
	r.producerAttached = false
	r.producerCancel = nil
	if len(r.buf) > 0 {
		r.bufSem.Release(int64(len(r.buf)))
		r.buf = nil
	}
	r.cond.Broadcast()

	if producerCancel != nil {
		producerCancel(ErrUploadTerminated)
	}
	r.cancel(ErrUploadTerminated)
}

// deliverDownstreamResponse stores the application handler's response on
// the record (called exactly once, by the Downstream Adapter) and wakes any
// goroutine waiting to pick it up.
func (r *Record) deliverDownstreamResponse(resp *DownstreamResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downstreamResp = resp
	r.cond.Broadcast()

	if resp.Err != nil {
		producerCancel := r.producerCancel
		r.state = StateTerminated
		r.producerAttached = false
		r.producerCancel = nil
		if len(r.buf) > 0 {
			r.bufSem.Release(int64(len(r.buf)))
			r.buf = nil
		}
		if producerCancel != nil {
			producerCancel(ErrDownstreamRejected)
		}
		r.cancel(ErrDownstreamRejected)
	}
}

// takeDownstreamResponse returns the application handler's response if one
// has arrived since the last call, per the "held until the next
// offset-retrieval or append request" rule in spec section 4.5.
func (r *Record) takeDownstreamResponse() *DownstreamResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp := r.downstreamResp
	r.downstreamResp = nil
	return resp
}

func (r *Record) idleFor(now time.Time) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return 0, false
	}
	return now.Sub(r.lastActivity), true
}

func (r *Record) receivingInactiveFor(now time.Time) (time.Duration, context.CancelCauseFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateReceiving {
		return 0, nil, false
	}
	return now.Sub(r.lastActivity), r.producerCancel, true
}
