package core

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, h DownstreamHandler) *Handler {
	t.Helper()
	handler, err := NewHandler(Config{
		Handler:  h,
		Registry: RegistryConfig{SweepInterval: time.Hour},
	})
	require.NoError(t, err)
	t.Cleanup(func() { handler.Shutdown(context.Background()) })
	return handler
}

func echoDownstream() DownstreamHandler {
	return DownstreamHandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		return &http.Response{
			StatusCode: http.StatusCreated,
			Header:     http.Header{"X-Echo-Len": {FormatLength(int64(len(body)))}},
			Body:       io.NopCloser(bytes.NewReader(body)),
		}, nil
	})
}

func TestCreateUploadThenHeadReportsOffset(t *testing.T) {
	// The record's offset only advances as the downstream adapter drains
	// bytes (see record.go), which runs on its own goroutine; wait for it
	// to finish consuming before asserting on the offset it leaves behind.
	drained := make(chan struct{})
	h := newTestHandler(t, DownstreamHandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		defer close(drained)
		_, _ = io.ReadAll(req.Body)
		return &http.Response{StatusCode: http.StatusCreated}, nil
	}))

	req := httptest.NewRequest(http.MethodPost, "/uploads", strings.NewReader("hello"))
	req.Header.Set("Upload-Token", ":dGVzdA==:")
	req.Header.Set("Upload-Draft-Interop-Version", "6")
	req.Header.Set("Upload-Length", "5")
	req.Header.Set("Upload-Incomplete", "?0")

	h.CreateUpload(httptest.NewRecorder(), req)

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("downstream handler never drained the upload body")
	}

	headReq := httptest.NewRequest(http.MethodHead, "/uploads", nil)
	headReq.Header.Set("Upload-Token", ":dGVzdA==:")
	headRR := httptest.NewRecorder()
	h.HeadUpload(headRR, headReq)

	assert.Equal(t, http.StatusNoContent, headRR.Code)
	assert.Equal(t, "5", headRR.Header().Get("Upload-Offset"))
	assert.Equal(t, "?0", headRR.Header().Get("Upload-Incomplete"))
	assert.Equal(t, "5", headRR.Header().Get("Upload-Length"))
}

func TestCreateUploadMissingTokenFails(t *testing.T) {
	h := newTestHandler(t, echoDownstream())

	req := httptest.NewRequest(http.MethodPost, "/uploads", nil)
	req.Header.Set("Upload-Draft-Interop-Version", "6")

	rr := httptest.NewRecorder()
	h.CreateUpload(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateUploadMissingInteropVersionFails(t *testing.T) {
	h := newTestHandler(t, echoDownstream())

	req := httptest.NewRequest(http.MethodPost, "/uploads", nil)
	req.Header.Set("Upload-Token", ":dGVzdA==:")

	rr := httptest.NewRecorder()
	h.CreateUpload(rr, req)

	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
}

func TestCreateUploadRejectsOversizeDeclaredLength(t *testing.T) {
	handler, err := NewHandler(Config{
		Handler:  echoDownstream(),
		MaxSize:  10,
		Registry: RegistryConfig{SweepInterval: time.Hour},
	})
	require.NoError(t, err)
	t.Cleanup(func() { handler.Shutdown(context.Background()) })

	req := httptest.NewRequest(http.MethodPost, "/uploads", nil)
	req.Header.Set("Upload-Token", ":dGVzdA==:")
	req.Header.Set("Upload-Draft-Interop-Version", "6")
	req.Header.Set("Upload-Length", "11")

	rr := httptest.NewRecorder()
	handler.CreateUpload(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestAppendUploadRequiresExistingUpload(t *testing.T) {
	h := newTestHandler(t, echoDownstream())

	req := httptest.NewRequest(http.MethodPatch, "/uploads", strings.NewReader("more"))
	req.Header.Set("Upload-Token", ":dGVzdA==:")
	req.Header.Set("Upload-Offset", "0")

	rr := httptest.NewRecorder()
	h.AppendUpload(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAppendUploadAcrossTwoChunksConcatenatesInOrder(t *testing.T) {
	// The record's offset only advances as the downstream adapter drains
	// bytes, which races with the producing request's own return (see
	// record.go). Have the downstream handler read exactly the first
	// chunk and signal before the test sends the second, so the append's
	// Upload-Offset precondition has something real to check against.
	var gotBody []byte
	firstChunkDrained := make(chan struct{})
	done := make(chan struct{})
	handler := newTestHandler(t, DownstreamHandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		defer close(done)
		first := make([]byte, len("hello-"))
		if _, err := io.ReadFull(req.Body, first); err != nil {
			return nil, err
		}
		close(firstChunkDrained)
		rest, _ := io.ReadAll(req.Body)
		gotBody = append(first, rest...)
		return &http.Response{StatusCode: http.StatusCreated}, nil
	}))

	createReq := httptest.NewRequest(http.MethodPost, "/uploads", strings.NewReader("hello-"))
	createReq.Header.Set("Upload-Token", ":dGVzdA==:")
	createReq.Header.Set("Upload-Draft-Interop-Version", "6")
	createReq.Header.Set("Upload-Incomplete", "?1")

	handler.CreateUpload(httptest.NewRecorder(), createReq)

	select {
	case <-firstChunkDrained:
	case <-time.After(time.Second):
		t.Fatal("downstream handler never drained the first chunk")
	}

	appendReq := httptest.NewRequest(http.MethodPatch, "/uploads", strings.NewReader("world"))
	appendReq.Header.Set("Upload-Token", ":dGVzdA==:")
	appendReq.Header.Set("Upload-Offset", "6")
	appendReq.Header.Set("Upload-Incomplete", "?0")

	handler.AppendUpload(httptest.NewRecorder(), appendReq)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("downstream handler was never invoked")
	}
	assert.Equal(t, "hello-world", string(gotBody))

	// Offset accounting only catches up with the consumer asynchronously
	// (see record.go); by the time the downstream handler has returned,
	// the record must report the fully-drained, in-order result.
	headReq := httptest.NewRequest(http.MethodHead, "/uploads", nil)
	headReq.Header.Set("Upload-Token", ":dGVzdA==:")
	headRR := httptest.NewRecorder()
	handler.HeadUpload(headRR, headReq)
	assert.Equal(t, "11", headRR.Header().Get("Upload-Offset"))
	assert.Equal(t, "?0", headRR.Header().Get("Upload-Incomplete"))
}

func TestAppendUploadRejectsWrongOffset(t *testing.T) {
	// Drive the record to state Complete at offset 3 before asserting a
	// mismatch, so that a deliberately-wrong offset can't be confused with
	// the "retry against an already-complete upload at the right offset"
	// no-op case (see BeginProducer).
	drained := make(chan struct{})
	handler := newTestHandler(t, DownstreamHandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		defer close(drained)
		_, _ = io.ReadAll(req.Body)
		return &http.Response{StatusCode: http.StatusCreated}, nil
	}))

	createReq := httptest.NewRequest(http.MethodPost, "/uploads", strings.NewReader("abc"))
	createReq.Header.Set("Upload-Token", ":dGVzdA==:")
	createReq.Header.Set("Upload-Draft-Interop-Version", "6")
	createReq.Header.Set("Upload-Incomplete", "?0")
	handler.CreateUpload(httptest.NewRecorder(), createReq)

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("downstream handler never drained the create body")
	}

	appendReq := httptest.NewRequest(http.MethodPatch, "/uploads", strings.NewReader("xyz"))
	appendReq.Header.Set("Upload-Token", ":dGVzdA==:")
	appendReq.Header.Set("Upload-Offset", "0")

	rr := httptest.NewRecorder()
	handler.AppendUpload(rr, appendReq)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCancelUploadThenEverythingReturnsGone(t *testing.T) {
	handler := newTestHandler(t, echoDownstream())

	createReq := httptest.NewRequest(http.MethodPost, "/uploads", nil)
	createReq.Header.Set("Upload-Token", ":dGVzdA==:")
	createReq.Header.Set("Upload-Draft-Interop-Version", "6")
	createReq.Header.Set("Upload-Incomplete", "?1")
	handler.CreateUpload(httptest.NewRecorder(), createReq)

	delReq := httptest.NewRequest(http.MethodDelete, "/uploads", nil)
	delReq.Header.Set("Upload-Token", ":dGVzdA==:")
	delRR := httptest.NewRecorder()
	handler.CancelUpload(delRR, delReq)
	assert.Equal(t, http.StatusNoContent, delRR.Code)

	headReq := httptest.NewRequest(http.MethodHead, "/uploads", nil)
	headReq.Header.Set("Upload-Token", ":dGVzdA==:")
	headRR := httptest.NewRecorder()
	handler.HeadUpload(headRR, headReq)
	assert.Equal(t, http.StatusGone, headRR.Code)
}

func TestServeHTTPRejectsUnsupportedMethod(t *testing.T) {
	handler := newTestHandler(t, echoDownstream())

	req := httptest.NewRequest(http.MethodPut, "/uploads", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Allow"))
}

// gatedBody is an http.Request body that blocks every Read until release is
// closed, then reports EOF. It lets a test hold a producer attached to a
// record for as long as needed to observe a second, concurrent request
// being rejected.
type gatedBody struct {
	release chan struct{}
}

func newGatedBody() *gatedBody { return &gatedBody{release: make(chan struct{})} }

func (g *gatedBody) Read(p []byte) (int, error) {
	<-g.release
	return 0, io.EOF
}

// TestConcurrentAppendsAtSameOffsetExactlyOneAdmits drives two PATCH
// requests at the same Upload-Offset against a live httptest.Server at the
// same time: the producer-slot exclusivity enforced by Record.BeginProducer
// (I1) must let exactly one through and reject the other with 409, never
// both succeeding and never both failing.
func TestConcurrentAppendsAtSameOffsetExactlyOneAdmits(t *testing.T) {
	handler := newTestHandler(t, echoDownstream())
	server := httptest.NewServer(http.HandlerFunc(handler.ServeHTTP))
	defer server.Close()

	createReq, err := http.NewRequest(http.MethodPost, server.URL, nil)
	require.NoError(t, err)
	createReq.Header.Set("Upload-Token", ":dGVzdA==:")
	createReq.Header.Set("Upload-Draft-Interop-Version", "6")
	createReq.Header.Set("Upload-Incomplete", "?1")
	createResp, err := http.DefaultClient.Do(createReq)
	require.NoError(t, err)
	createResp.Body.Close()
	require.Equal(t, http.StatusCreated, createResp.StatusCode)

	gates := [2]*gatedBody{newGatedBody(), newGatedBody()}
	responses := [2]*http.Response{}
	errs := [2]error{}

	patch := func(i int) {
		req, err := http.NewRequest(http.MethodPatch, server.URL, gates[i])
		if err != nil {
			errs[i] = err
			return
		}
		req.Header.Set("Upload-Token", ":dGVzdA==:")
		req.Header.Set("Upload-Offset", "0")
		responses[i], errs[i] = http.DefaultClient.Do(req)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); patch(0) }()
	go func() { defer wg.Done(); patch(1) }()

	// Give both requests time to reach the handler and call BeginProducer
	// before letting either body finish; whichever wins the producer slot
	// stays blocked in io.Copy until we release it below (see record.go:
	// the producer stays attached for the whole request, not just while
	// bytes are flowing).
	time.Sleep(150 * time.Millisecond)
	close(gates[0].release)
	close(gates[1].release)

	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	defer responses[0].Body.Close()
	defer responses[1].Body.Close()

	var conflicts, admitted int
	for _, resp := range responses {
		switch resp.StatusCode {
		case http.StatusConflict:
			conflicts++
		case http.StatusNoContent:
			admitted++
		}
	}
	assert.Equal(t, 1, conflicts, "exactly one concurrent append at the same offset must be rejected with 409")
	assert.Equal(t, 1, admitted, "exactly one concurrent append at the same offset must be admitted")
}

func TestMiddlewarePassesThroughNonUploadRequests(t *testing.T) {
	handler := newTestHandler(t, echoDownstream())

	var passedThrough bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		passedThrough = true
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/whatever", nil)
	rr := httptest.NewRecorder()
	handler.Middleware(next).ServeHTTP(rr, req)

	assert.True(t, passedThrough)
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Upload-Draft-Interop-Version"))
}
