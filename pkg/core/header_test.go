package core

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOffset(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    int64
		wantErr bool
	}{
		{name: "zero", header: "0", want: 0},
		{name: "positive", header: "1048576", want: 1048576},
		{name: "empty", header: "", wantErr: true},
		{name: "negative", header: "-1", wantErr: true},
		{name: "decimal", header: "1.5", wantErr: true},
		{name: "structured header param", header: "0;foo=bar", wantErr: true},
		{name: "not a number", header: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOffset(tt.header)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIncomplete(t *testing.T) {
	tests := []struct {
		header  string
		want    bool
		wantErr bool
	}{
		{header: "?1", want: true},
		{header: "?0", want: false},
		{header: "1", wantErr: true},
		{header: "true", wantErr: true},
		{header: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseIncomplete(tt.header)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseInteropVersion(t *testing.T) {
	for _, v := range []string{"3", "4", "5", "6"} {
		got, err := ParseInteropVersion(v)
		require.NoError(t, err)
		assert.Equal(t, InteropVersion(v), got)
	}

	_, err := ParseInteropVersion("99")
	assert.ErrorIs(t, err, ErrUnsupportedInterop)

	_, err = ParseInteropVersion("")
	assert.ErrorIs(t, err, ErrUnsupportedInterop)
}

func TestFormatRoundTrip(t *testing.T) {
	assert.Equal(t, "42", FormatOffset(42))
	assert.Equal(t, "?1", FormatIncomplete(true))
	assert.Equal(t, "?0", FormatIncomplete(false))
}

func TestParseRequestHeadersCollectsEverything(t *testing.T) {
	req := httptest.NewRequest(http.MethodPatch, "/uploads", nil)
	req.Header.Set("Upload-Token", ":dGVzdA==:")
	req.Header.Set("Upload-Offset", "10")
	req.Header.Set("Upload-Length", "20")
	req.Header.Set("Upload-Incomplete", "?1")
	req.Header.Set("Upload-Draft-Interop-Version", "6")

	h, err := parseRequestHeaders(req)
	require.NoError(t, err)

	assert.True(t, h.hasToken)
	assert.Equal(t, int64(10), h.offset)
	assert.Equal(t, int64(20), h.length)
	assert.True(t, h.incomplete)
	assert.Equal(t, InteropVersion6, h.interop)
}

func TestParseRequestHeadersRejectsMalformedOffset(t *testing.T) {
	req := httptest.NewRequest(http.MethodPatch, "/uploads", nil)
	req.Header.Set("Upload-Offset", "not-a-number")

	_, err := parseRequestHeaders(req)
	assert.ErrorIs(t, err, ErrMalformedHeader)
}
