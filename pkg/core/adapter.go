package core

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
)

// DownstreamHandler is the interface the protocol core expects of an
// application. It is invoked exactly once per upload, with a single
// synthesized request whose body streams the concatenated, in-order bytes
// of every producing request the client ever sends for that upload (spec
// section 4.5/6). The core is agnostic to what the implementation does
// with it — write to disk, proxy to storage, transcode — as long as it
// honors ctx cancellation.
type DownstreamHandler interface {
	HandleUpload(ctx context.Context, req *http.Request) (*http.Response, error)
}

// DownstreamHandlerFunc adapts a function to a DownstreamHandler.
type DownstreamHandlerFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f DownstreamHandlerFunc) HandleUpload(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// WrapHTTPHandler adapts a standard net/http.Handler into a DownstreamHandler
// for applications that would rather write an ordinary handler than the
// smaller DownstreamHandler interface. The handler's response is captured
// with httptest.NewRecorder and translated back into an *http.Response;
// any code above or equal to 500 downgrades to a returned error so the
// record is terminated the same way an explicit handler error would be.
func WrapHTTPHandler(h http.Handler) DownstreamHandler {
	return DownstreamHandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		resp := rec.Result()
		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(resp.Body)
			return resp, NewError("ERR_DOWNSTREAM_HANDLER", string(body), resp.StatusCode)
		}
		return resp, nil
	})
}

// adapter drives exactly one DownstreamHandler invocation for one Record,
// reading the record's body as the handler consumes it and delivering the
// handler's eventual response back onto the record.
type adapter struct {
	handler DownstreamHandler
	rec     *Record
}

// run synthesizes the downstream request and invokes the handler in the
// caller's goroutine. CreateUpload calls it with `go`, once, immediately
// after the registry creates the record and before the creating request
// attaches as producer — mirroring the teacher's "start streaming to the store as soon
// as the first chunk arrives" behavior, generalized to "start streaming to
// the application as soon as the upload exists."
func (a *adapter) run(ctx context.Context, method, url string, header http.Header) {
	req, err := http.NewRequestWithContext(ctx, method, url, io.NopCloser(a.rec))
	if err != nil {
		a.rec.deliverDownstreamResponse(&DownstreamResponse{Err: err})
		return
	}
	req.Header = stripResumableUploadHeaders(header)

	resp, err := a.handler.HandleUpload(ctx, req)
	if err != nil {
		a.rec.deliverDownstreamResponse(&DownstreamResponse{Err: err})
		return
	}
	if resp == nil {
		a.rec.deliverDownstreamResponse(&DownstreamResponse{StatusCode: http.StatusNoContent})
		return
	}

	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
	}

	a.rec.deliverDownstreamResponse(&DownstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     map[string][]string(resp.Header),
		Body:       body,
	})
}

func stripResumableUploadHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range resumableUploadHeaderNames {
		out.Del(name)
	}
	return out
}

// mergeInto writes a DownstreamResponse onto w, prefixed by the
// resumable-upload protocol headers that describe the record's own state.
// This mirrors the teacher's HTTPResponse.MergeWith idiom: the protocol's
// own headers always win on conflict, everything else passes through from
// the application's response.
func (d *DownstreamResponse) mergeInto(w http.ResponseWriter, protocolHeader http.Header) {
	for k, vs := range d.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	for k, vs := range protocolHeader {
		w.Header().Del(k)
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	status := d.StatusCode
	if status == 0 {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
	if len(d.Body) > 0 {
		io.Copy(w, bytes.NewReader(d.Body))
	}
}
