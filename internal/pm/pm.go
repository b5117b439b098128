// Package pm shells out to the host package manager. It is deliberately
// thin: the orchestrator only ever asks for an install in a working root.
package pm

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/charmbracelet/log"
)

// Runner executes package-manager commands.
type Runner interface {
	Install(ctx context.Context, manager, dir string) error
}

// knownManagers guards against arbitrary command execution through the
// config file.
var knownManagers = map[string]struct{}{
	"npm":  {},
	"yarn": {},
	"pnpm": {},
	"bun":  {},
}

// ExecRunner runs the real package-manager binary.
type ExecRunner struct {
	logger *log.Logger
	stdout io.Writer
	stderr io.Writer
}

// NewExecRunner builds a runner; output writers may be nil to discard.
func NewExecRunner(logger *log.Logger, stdout, stderr io.Writer) *ExecRunner {
	if logger == nil {
		logger = log.Default()
	}
	return &ExecRunner{logger: logger, stdout: stdout, stderr: stderr}
}

// Install runs "<manager> install" in dir.
func (r *ExecRunner) Install(ctx context.Context, manager, dir string) error {
	if _, ok := knownManagers[manager]; !ok {
		return fmt.Errorf("pm: unknown package manager %q", manager)
	}
	r.logger.Info("installing dependencies", "manager", manager, "dir", dir)
	cmd := exec.CommandContext(ctx, manager, "install")
	cmd.Dir = dir
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pm: %s install in %s: %w", manager, dir, err)
	}
	return nil
}
