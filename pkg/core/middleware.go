package core

import (
	"net/http"
	"strings"
	"time"
)

// interopAdvertiseHeader is advertised on every response the middleware
// touches, the way the teacher advertises Tus-Resumable/Tus-Version on
// every response regardless of whether the request turns out to be an
// upload request at all.
const interopAdvertiseHeader = "Upload-Draft-Interop-Version"

var advertisedInteropVersions = strings.Join([]string{
	string(InteropVersion3), string(InteropVersion4), string(InteropVersion5), string(InteropVersion6),
}, ", ")

// Middleware wraps next so that requests carrying resumable-upload headers
// are handled by h, and everything else passes through untouched. Mount it
// above your normal routing; h itself has no opinion about what path it is
// served from beyond Config.BasePath, which only sets the URL of the
// request it synthesizes for the downstream handler.
//
// Deadlines are set with http.ResponseController the way the teacher's
// Middleware does, so a stalled client can't pin a goroutine and a
// connection's worth of memory forever.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(interopAdvertiseHeader, advertisedInteropVersions)

		if !h.IsUploadResource(r) {
			next.ServeHTTP(w, r)
			return
		}

		if h.cfg.NetworkTimeout > 0 {
			rc := http.NewResponseController(w)
			deadline := time.Now().Add(h.cfg.NetworkTimeout)
			rc.SetReadDeadline(deadline)
			rc.SetWriteDeadline(deadline)
		}

		h.ServeHTTP(w, r)
	})
}
