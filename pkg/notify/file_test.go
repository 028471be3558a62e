package notify

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumable-http/rufh/pkg/core"
)

func TestFileSinkRunsExecutableNamedAfterEventKind(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hook scripts are POSIX shell scripts")
	}

	dir := t.TempDir()
	marker := filepath.Join(dir, "invoked")
	script := filepath.Join(dir, string(core.HookEventCreated))
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat > "+marker+"\n"), 0o755))

	sink := &FileSink{Directory: dir}
	err := sink.Notify(context.Background(), core.HookEvent{Kind: core.HookEventCreated, Token: testToken(t)})
	require.NoError(t, err)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Kind":"created"`)
}

func TestFileSinkMissingExecutableReturnsError(t *testing.T) {
	sink := &FileSink{Directory: t.TempDir()}
	err := sink.Notify(context.Background(), core.HookEvent{Kind: core.HookEventTerminated})
	assert.Error(t, err)
}
