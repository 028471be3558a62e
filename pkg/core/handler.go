package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Handler dispatches the five resumable-upload flows (create, append,
// offset-retrieval, cancel, and create-with-draft-interop, which is just
// create with the version header validated up front) against a Registry,
// and forwards the concatenated upload body to a single DownstreamHandler
// invocation per upload.
//
// Handler is the generalization of the teacher's UnroutedHandler: where
// UnroutedHandler dispatched to a pluggable DataStore, Handler dispatches
// to a pluggable application handler and keeps upload state itself rather
// than delegating it to a store.
type Handler struct {
	cfg      Config
	registry *Registry
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Handler == nil {
		return nil, errors.New("core: Config.Handler is required")
	}
	cfg.setDefaults()
	return &Handler{
		cfg:      cfg,
		registry: NewRegistry(cfg.Registry),
	}, nil
}

// Shutdown terminates every in-flight upload and waits for the registry's
// sweep loop to stop, or for ctx to be done.
func (h *Handler) Shutdown(ctx context.Context) {
	h.registry.Shutdown(ctx)
}

// IsUploadResource reports whether r carries the headers that identify it
// as part of the resumable-upload protocol, as opposed to an unrelated
// request that merely shares the mount point. Middleware uses this to
// decide whether to intercept a request or pass it through untouched.
func (h *Handler) IsUploadResource(r *http.Request) bool {
	return r.Header.Get("Upload-Draft-Interop-Version") != "" || r.Header.Get("Upload-Token") != ""
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.cfg.Metrics.observeRequest(r.Method)

	switch r.Method {
	case http.MethodPost:
		h.CreateUpload(w, r)
	case http.MethodPatch:
		h.AppendUpload(w, r)
	case http.MethodHead:
		h.HeadUpload(w, r)
	case http.MethodDelete:
		h.CancelUpload(w, r)
	default:
		w.Header().Set("Allow", "POST, PATCH, HEAD, DELETE")
		h.sendError(w, NewError("ERR_METHOD_NOT_ALLOWED", "method not supported by this resource", http.StatusMethodNotAllowed))
	}
}

// CreateUpload implements the create-with-upload and
// create-with-draft-interop flows: POST with an Upload-Token identifying a
// brand new upload.
func (h *Handler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	hdr, err := parseRequestHeaders(r)
	if err != nil {
		h.sendError(w, err)
		return
	}
	if !hdr.hasToken {
		h.sendError(w, ErrMissingUploadToken)
		return
	}
	if hdr.interop == "" {
		h.sendError(w, ErrUnsupportedInterop)
		return
	}
	if hdr.hasOffset && hdr.offset != 0 {
		h.sendError(w, ErrOffsetMismatch)
		return
	}
	if h.cfg.MaxSize > 0 && hdr.hasLength && hdr.length > h.cfg.MaxSize {
		h.sendError(w, ErrMaxSizeExceeded)
		return
	}

	rec, err := h.registry.Create(hdr.token)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.cfg.emit(HookEvent{Kind: HookEventCreated, Token: hdr.token, Time: time.Now(), TotalLength: hdr.length, HasTotalLength: hdr.hasLength, Interop: hdr.interop})
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.UploadsCreated.Inc()
	}

	go (&adapter{handler: h.cfg.Handler, rec: rec}).run(rec.Context(), http.MethodPost, h.cfg.BasePath, r.Header.Clone())

	h.runProducer(w, r, rec, hdr, 0, true)
}

// AppendUpload implements the append flow: PATCH with an Upload-Token
// identifying an existing upload and an Upload-Offset that must equal the
// upload's current offset (invariant I7).
func (h *Handler) AppendUpload(w http.ResponseWriter, r *http.Request) {
	hdr, err := parseRequestHeaders(r)
	if err != nil {
		h.sendError(w, err)
		return
	}
	if !hdr.hasToken {
		h.sendError(w, ErrMissingUploadToken)
		return
	}
	if !hdr.hasOffset {
		h.sendError(w, ErrMalformedHeader)
		return
	}

	rec, ok := h.registry.Find(hdr.token)
	if !ok {
		h.sendError(w, ErrUploadNotFound)
		return
	}

	h.runProducer(w, r, rec, hdr, hdr.offset, false)
}

// runProducer is the shared body of CreateUpload and AppendUpload: attach
// as producer, stream the request body into the record, detach cleanly or
// uncleanly, and write whatever response is appropriate.
func (h *Handler) runProducer(w http.ResponseWriter, r *http.Request, rec *Record, hdr requestHeaders, offset int64, isCreate bool) {
	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	alreadyComplete, err := rec.BeginProducer(offset, hdr.length, hdr.hasLength, hdr.interop, hdr.interop != "", cancel)
	if err != nil {
		h.sendError(w, err)
		return
	}
	if alreadyComplete {
		h.writeProgressResponse(w, rec, isCreate)
		return
	}

	n, copyErr := io.Copy(recordWriter{ctx: ctx, rec: rec}, r.Body)

	clean := copyErr == nil || errors.Is(copyErr, io.EOF)

	// incomplete defaults to true (more bytes expected later) unless the
	// client explicitly says this was the final chunk; EndProducer also
	// independently completes the upload if the declared total length has
	// been reached, regardless of this flag.
	incomplete := true
	if hdr.hasIncomplete {
		incomplete = hdr.incomplete
	}

	rec.EndProducer(clean, incomplete)

	h.cfg.emit(HookEvent{Kind: HookEventProgress, Token: rec.Token, Offset: rec.Snapshot().Offset, Time: time.Now()})

	if !clean {
		h.cfg.Logger.Warn("producer transport failed", "token", hdr.token.String(), "bytes_admitted", n, "error", copyErr)
		h.sendError(w, mapTransportError(copyErr))
		return
	}

	if h.cfg.Metrics != nil && n > 0 {
		h.cfg.Metrics.BytesReceived.Add(float64(n))
	}

	snap := rec.Snapshot()
	if snap.State == StateComplete {
		h.cfg.emit(HookEvent{Kind: HookEventCompleted, Token: rec.Token, Offset: snap.Offset, Time: time.Now()})
		if h.cfg.Metrics != nil {
			h.cfg.Metrics.UploadsCompleted.Inc()
		}
	}

	h.writeProgressResponse(w, rec, isCreate)
}

// writeProgressResponse writes either the application handler's response
// (if one has arrived for this upload since the last time a transaction
// picked it up) or a plain protocol-status response describing the
// record's current offset.
func (h *Handler) writeProgressResponse(w http.ResponseWriter, rec *Record, isCreate bool) {
	snap := rec.Snapshot()
	protocolHeader := http.Header{}
	protocolHeader.Set("Upload-Offset", FormatOffset(snap.Offset))
	if snap.State != StateComplete {
		protocolHeader.Set("Upload-Incomplete", FormatIncomplete(true))
	} else {
		protocolHeader.Set("Upload-Incomplete", FormatIncomplete(false))
	}
	if snap.HasInterop {
		protocolHeader.Set("Upload-Draft-Interop-Version", string(snap.Interop))
	}

	if resp := rec.takeDownstreamResponse(); resp != nil && resp.Err == nil {
		resp.mergeInto(w, protocolHeader)
		return
	}

	for k, vs := range protocolHeader {
		w.Header().Del(k)
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	status := http.StatusNoContent
	if isCreate {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
}

// HeadUpload implements offset-retrieval: HEAD with an Upload-Token.
func (h *Handler) HeadUpload(w http.ResponseWriter, r *http.Request) {
	hdr, err := parseRequestHeaders(r)
	if err != nil {
		h.sendError(w, err)
		return
	}
	if !hdr.hasToken {
		h.sendError(w, ErrMissingUploadToken)
		return
	}

	rec, ok := h.registry.Find(hdr.token)
	if !ok {
		h.sendError(w, ErrUploadNotFound)
		return
	}

	snap := rec.Snapshot()
	if snap.State == StateTerminated {
		h.sendError(w, ErrUploadTerminated)
		return
	}

	w.Header().Set("Upload-Offset", FormatOffset(snap.Offset))
	w.Header().Set("Upload-Incomplete", FormatIncomplete(snap.State != StateComplete))
	if snap.HasTotalLength {
		w.Header().Set("Upload-Length", FormatLength(snap.TotalLength))
	}
	if snap.HasInterop {
		w.Header().Set("Upload-Draft-Interop-Version", string(snap.Interop))
	}

	if resp := rec.takeDownstreamResponse(); resp != nil && resp.Err == nil {
		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// CancelUpload implements the cancel flow: DELETE with an Upload-Token.
// It terminates the record unconditionally; a later request against the
// same token receives ErrUploadTerminated (410).
func (h *Handler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	hdr, err := parseRequestHeaders(r)
	if err != nil {
		h.sendError(w, err)
		return
	}
	if !hdr.hasToken {
		h.sendError(w, ErrMissingUploadToken)
		return
	}

	rec, ok := h.registry.Find(hdr.token)
	if !ok {
		h.sendError(w, ErrUploadNotFound)
		return
	}

	snap := rec.Snapshot()
	// The terminated record stays registered so later requests against the
	// token are answered 410 rather than 404.
	rec.Terminate()
	h.cfg.emit(HookEvent{Kind: HookEventTerminated, Token: hdr.token, Time: time.Now()})
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.UploadsTerminated.Inc()
	}

	if snap.HasInterop {
		w.Header().Set("Upload-Draft-Interop-Version", string(snap.Interop))
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordWriter adapts Record.Write to io.Writer so it can be the
// destination of io.Copy from a request body.
type recordWriter struct {
	ctx context.Context
	rec *Record
}

func (rw recordWriter) Write(p []byte) (int, error) {
	return rw.rec.Write(rw.ctx, p)
}

func mapTransportError(err error) error {
	if err == nil {
		return ErrUnexpectedEOF
	}
	var coreErr Error
	if errors.As(err, &coreErr) {
		return coreErr
	}
	return fmt.Errorf("%w: %v", ErrUnexpectedEOF, err)
}

func (h *Handler) sendError(w http.ResponseWriter, err error) {
	var coreErr Error
	if !errors.As(err, &coreErr) {
		coreErr = NewError("ERR_INTERNAL", err.Error(), http.StatusInternalServerError)
	}
	h.cfg.Metrics.observeError(coreErr.Code)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(coreErr.StatusCode)
	fmt.Fprintf(w, `{"code":%q,"message":%q}`, coreErr.Code, coreErr.Message)
}
