package demoapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleUploadWritesBodyAndInfo(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	req := httptest.NewRequest(http.MethodPost, "/uploads", strings.NewReader("hello world"))
	req.Header.Set("X-Filename", "greeting.txt")
	req.Header.Set("Content-Type", "text/plain")

	resp, err := store.HandleUpload(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	id := resp.Header.Get("X-Rufh-Storage-Id")
	require.NotEmpty(t, id)

	body, err := os.ReadFile(filepath.Join(dir, id))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))

	infoData, err := os.ReadFile(filepath.Join(dir, id+".info"))
	require.NoError(t, err)

	var info Info
	require.NoError(t, json.Unmarshal(infoData, &info))
	assert.Equal(t, id, info.ID)
	assert.Equal(t, int64(len("hello world")), info.Size)
	assert.Equal(t, "greeting.txt", info.Filename)
	assert.Equal(t, "text/plain", info.ContentType)
}

func TestHandleUploadCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "does", "not", "exist")
	store := New(dir)

	req := httptest.NewRequest(http.MethodPost, "/uploads", strings.NewReader("x"))
	resp, err := store.HandleUpload(context.Background(), req)
	require.NoError(t, err)

	id := resp.Header.Get("X-Rufh-Storage-Id")
	_, err = os.Stat(filepath.Join(dir, id))
	assert.NoError(t, err)
}
