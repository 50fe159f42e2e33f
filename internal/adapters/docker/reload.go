package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
)

// DefaultReloadCommand makes nginx re-read its configuration.
var DefaultReloadCommand = []string{"nginx", "-s", "reload"}

// ExecReloader implements ports.Reloader by running a reload command inside
// the proxy's own container.
type ExecReloader struct {
	adapter     *Adapter
	containerID string
	cmd         []string
}

func NewExecReloader(a *Adapter, containerID string, cmd []string) *ExecReloader {
	if len(cmd) == 0 {
		cmd = DefaultReloadCommand
	}
	return &ExecReloader{adapter: a, containerID: containerID, cmd: cmd}
}

func (r *ExecReloader) Reload(ctx context.Context) (string, error) {
	code, err := r.adapter.Exec(ctx, r.containerID, r.cmd)
	if err != nil {
		return "", err
	}
	command := strings.Join(r.cmd, " ")
	if code != 0 {
		return "", domain.ReloadError("reload "+r.containerID, fmt.Errorf("%q exited with code %d", command, code))
	}
	return fmt.Sprintf("%q exited with code 0", command), nil
}
