// Package demoapp is a reference application handler: it satisfies
// core.DownstreamHandler by persisting a completed upload's bytes and a
// small JSON info file to a local directory, in the same on-disk shape the
// teacher's pkg/filestore.FileStore used when it was the middleware's own
// storage backend. Here it plays a different role: it is no longer part of
// the protocol core at all, just the simplest possible thing sitting on
// the other side of the Downstream Adapter.
package demoapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

var (
	defaultFilePerm      = os.FileMode(0664)
	defaultDirectoryPerm = os.FileMode(0754)
)

// Info is the JSON sidecar written next to each stored upload.
type Info struct {
	ID          string            `json:"id"`
	Size        int64             `json:"size"`
	Filename    string            `json:"filename,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	StoredAt    time.Time         `json:"stored_at"`
	Header      map[string]string `json:"header,omitempty"`
}

// Store is a demo application handler. Path is the directory uploads are
// written to; it is created on first use if necessary.
type Store struct {
	Path string
}

func New(path string) *Store {
	return &Store{Path: path}
}

// HandleUpload implements core.DownstreamHandler. It is invoked exactly
// once per upload by the Downstream Adapter, with req.Body streaming the
// concatenated, in-order body of every request the client ever sent for
// this upload.
func (s *Store) HandleUpload(ctx context.Context, req *http.Request) (*http.Response, error) {
	id := uuid.NewString()
	binPath := filepath.Join(s.Path, id)
	infoPath := filepath.Join(s.Path, id+".info")

	n, err := s.writeBody(binPath, req.Body)
	if err != nil {
		return nil, fmt.Errorf("demoapp: write body: %w", err)
	}

	info := Info{
		ID:          id,
		Size:        n,
		Filename:    req.Header.Get("X-Filename"),
		ContentType: req.Header.Get("Content-Type"),
		StoredAt:    time.Now().UTC(),
	}

	if err := s.writeInfo(infoPath, info); err != nil {
		return nil, fmt.Errorf("demoapp: write info: %w", err)
	}

	body, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("demoapp: marshal info: %w", err)
	}

	return &http.Response{
		StatusCode: http.StatusCreated,
		Header: http.Header{
			"Content-Type":      {"application/json; charset=utf-8"},
			"X-Rufh-Storage-Id": {id},
		},
		Body: io.NopCloser(bytes.NewReader(body)),
	}, nil
}

func (s *Store) writeBody(path string, src io.Reader) (int64, error) {
	file, err := createFile(path)
	if err != nil {
		return 0, err
	}
	// Not deferring Close so a close error on a fully-written file isn't
	// silently dropped.
	n, err := io.Copy(file, src)
	if err != nil {
		file.Close()
		return n, err
	}
	return n, file.Close()
}

func (s *Store) writeInfo(path string, info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	f, err := createFile(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// createFile creates path for writing, creating its parent directory first
// if necessary.
func createFile(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, defaultFilePerm)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(filepath.Dir(path), defaultDirectoryPerm); mkErr != nil {
				return nil, fmt.Errorf("failed to create directory for %s: %w", path, mkErr)
			}
			return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, defaultFilePerm)
		}
		return nil, err
	}
	return file, nil
}
