// Package core implements the resumable-upload protocol state machine:
// header parsing, the in-memory upload registry, the per-upload record
// state machine, the downstream adapter and the protocol handler that ties
// them together. It has no knowledge of any particular application handler
// or transport beyond net/http.
package core

import (
	"net/http"
	"strconv"
	"strings"
)

// InteropVersion identifies which revision of the resumable-upload draft an
// upload was opened with. All requests after the first must carry the same
// value (invariant I5).
type InteropVersion string

const (
	InteropVersion3 InteropVersion = "3" // draft -01
	InteropVersion4 InteropVersion = "4" // draft -02
	InteropVersion5 InteropVersion = "5" // draft -03
	InteropVersion6 InteropVersion = "6" // draft -04, -05
)

func (v InteropVersion) valid() bool {
	switch v {
	case InteropVersion3, InteropVersion4, InteropVersion5, InteropVersion6:
		return true
	default:
		return false
	}
}

// ParseInteropVersion reads the Upload-Draft-Interop-Version header. An
// empty or unrecognized value yields ErrUnsupportedInterop so callers can
// distinguish "this isn't a resumable-upload request at all" from
// "this request botched the header."
func ParseInteropVersion(header string) (InteropVersion, error) {
	v := InteropVersion(strings.TrimSpace(header))
	if !v.valid() {
		return "", ErrUnsupportedInterop
	}
	return v, nil
}

// ParseOffset parses an Upload-Offset header value: a bare non-negative
// integer, no structured-header parameters permitted.
func ParseOffset(header string) (int64, error) {
	return parseNonNegativeInteger(header)
}

// ParseLength parses an Upload-Length header value with identical semantics
// to ParseOffset.
func ParseLength(header string) (int64, error) {
	return parseNonNegativeInteger(header)
}

func parseNonNegativeInteger(header string) (int64, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, ErrMalformedHeader
	}
	// Reject anything that isn't a bare integer item (no ";params", no
	// decimal point, no sign): only ASCII digits get through to ParseInt.
	for _, r := range header {
		if r < '0' || r > '9' {
			return 0, ErrMalformedHeader
		}
	}

	n, err := strconv.ParseInt(header, 10, 64)
	if err != nil || n < 0 {
		return 0, ErrMalformedHeader
	}
	return n, nil
}

// ParseIncomplete parses an Upload-Incomplete header value. Only the
// structured-header boolean forms ?0 and ?1 are accepted.
func ParseIncomplete(header string) (bool, error) {
	switch strings.TrimSpace(header) {
	case "?1":
		return true, nil
	case "?0":
		return false, nil
	default:
		return false, ErrMalformedHeader
	}
}

// FormatOffset renders an offset back into wire form.
func FormatOffset(offset int64) string {
	return strconv.FormatInt(offset, 10)
}

// FormatLength renders a declared length back into wire form.
func FormatLength(length int64) string {
	return strconv.FormatInt(length, 10)
}

// FormatIncomplete renders the Upload-Incomplete boolean back into wire
// form.
func FormatIncomplete(incomplete bool) string {
	if incomplete {
		return "?1"
	}
	return "?0"
}

// requestHeaders is the parsed, validated subset of an incoming request's
// resumable-upload headers. It is assembled once per request by the
// protocol handler and threaded through admission checks so that no header
// is read from the wire form more than once.
type requestHeaders struct {
	token          Token
	hasToken       bool
	offset         int64
	hasOffset      bool
	length         int64
	hasLength      bool
	incomplete     bool
	hasIncomplete  bool
	interop        InteropVersion
}

func parseRequestHeaders(r *http.Request) (requestHeaders, error) {
	var h requestHeaders

	if raw := r.Header.Get("Upload-Token"); raw != "" {
		tok, err := ParseToken(raw)
		if err != nil {
			return h, err
		}
		h.token = tok
		h.hasToken = true
	}

	if raw := r.Header.Get("Upload-Offset"); raw != "" {
		offset, err := ParseOffset(raw)
		if err != nil {
			return h, err
		}
		h.offset = offset
		h.hasOffset = true
	}

	if raw := r.Header.Get("Upload-Length"); raw != "" {
		length, err := ParseLength(raw)
		if err != nil {
			return h, err
		}
		h.length = length
		h.hasLength = true
	}

	if raw := r.Header.Get("Upload-Incomplete"); raw != "" {
		incomplete, err := ParseIncomplete(raw)
		if err != nil {
			return h, err
		}
		h.incomplete = incomplete
		h.hasIncomplete = true
	}

	if raw := r.Header.Get("Upload-Draft-Interop-Version"); raw != "" {
		v, err := ParseInteropVersion(raw)
		if err != nil {
			return h, err
		}
		h.interop = v
	}

	return h, nil
}

// resumableUploadHeaderNames lists every header the protocol owns. The
// Downstream Adapter strips these before forwarding a synthesized request to
// the application handler (spec section 4.5).
var resumableUploadHeaderNames = []string{
	"Upload-Token",
	"Upload-Offset",
	"Upload-Length",
	"Upload-Incomplete",
	"Upload-Draft-Interop-Version",
}
