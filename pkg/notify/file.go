package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/resumable-http/rufh/pkg/core"
)

// FileSink runs a local executable once per event, named after the event
// kind and placed in Directory, with the JSON-encoded event piped to its
// stdin. This is a direct generalization of the teacher's
// pkg/hooks/file.FileHook, which does exactly this for tus's hook names
// (pre-create, post-receive, post-finish, post-terminate, post-receive).
type FileSink struct {
	Directory string
}

func (f *FileSink) Notify(ctx context.Context, event core.HookEvent) error {
	path := filepath.Join(f.Directory, string(event.Kind))

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	cmd := exec.CommandContext(ctx, path)
	cmd.Stdin = bytes.NewReader(payload)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("notify: file hook %s: %w (output: %s)", path, err, output)
	}
	return nil
}
