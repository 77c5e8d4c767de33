package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"coderunner/internal/execution/backend"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultName           = "local"
	defaultShell          = "/bin/sh"
	defaultTimeout        = 30 * time.Second
	defaultWaitDelay      = time.Second
	defaultMaxOutputBytes = 1 << 20

	// Exit status a shell reports for a child killed by SIGKILL. Treated as
	// out of memory; any other external SIGKILL is reported the same way.
	killedExitCode = 137
)

// Config controls the local sandbox.
type Config struct {
	Name    string        `yaml:"name"`
	Shell   string        `yaml:"shell"`
	WorkDir string        `yaml:"workDir"`
	Timeout time.Duration `yaml:"timeout"`
	// WaitDelay bounds how long pipes are drained after the process exits.
	WaitDelay      time.Duration `yaml:"waitDelay"`
	MaxOutputBytes int           `yaml:"maxOutputBytes"`
}

// Backend runs code in a local subprocess built from a per-language template.
type Backend struct {
	cfg       Config
	templates map[string]Template
}

func New(cfg Config, templates []Template) *Backend {
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.Shell == "" {
		cfg.Shell = defaultShell
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	byID := make(map[string]Template, len(templates))
	for _, tpl := range templates {
		tpl.ID = backend.NormalizeID(tpl.ID)
		byID[tpl.ID] = tpl
	}
	return &Backend{cfg: cfg, templates: byID}
}

func (b *Backend) Name() string {
	return b.cfg.Name
}

// Languages lists the configured templates.
func (b *Backend) Languages(ctx context.Context) ([]backend.Offer, error) {
	offers := make([]backend.Offer, 0, len(b.templates))
	for _, tpl := range b.templates {
		offers = append(offers, backend.Offer{ID: tpl.ID, Name: tpl.Name, Extension: tpl.Extension})
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].ID < offers[j].ID })
	return offers, nil
}

// Execute writes the code to a private file, runs the expanded template and
// removes the file again on every path.
func (b *Backend) Execute(ctx context.Context, attempt backend.Attempt) backend.Result {
	tpl, ok := b.templates[backend.NormalizeID(attempt.Language)]
	if !ok {
		return backend.Classify(appErr.Newf(appErr.TemplateNotFound, "No command template for %s.", attempt.Language))
	}

	path, err := b.writeCode(tpl, attempt.Code)
	if err != nil {
		logger.Error(ctx, "write code file failed", zap.Error(err))
		return backend.Classify(err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn(ctx, "remove code file failed", zap.String("path", path), zap.Error(err))
		}
	}()

	return b.run(ctx, tpl.Expand(path, attempt), attempt.Stdin)
}

func (b *Backend) writeCode(tpl Template, code []byte) (string, error) {
	name := fmt.Sprintf(".code_%s.%s", uuid.NewString(), tpl.Extension)
	path := filepath.Join(b.cfg.WorkDir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.SandboxSetupFailed, "create code file failed")
	}
	if _, err := f.Write(code); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", appErr.Wrapf(err, appErr.SandboxSetupFailed, "write code file failed")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", appErr.Wrapf(err, appErr.SandboxSetupFailed, "close code file failed")
	}
	return path, nil
}

func (b *Backend) run(ctx context.Context, command, stdin string) backend.Result {
	cmd := exec.Command(b.cfg.Shell, "-c", command)
	cmd.Dir = b.cfg.WorkDir
	cmd.Stdin = strings.NewReader(stdin)
	stdout := &cappedBuffer{max: b.cfg.MaxOutputBytes}
	stderr := &cappedBuffer{max: b.cfg.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = b.cfg.WaitDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		logger.Warn(ctx, "start local process failed", zap.String("shell", b.cfg.Shell), zap.Error(err))
		return backend.Classify(appErr.Wrapf(err, appErr.SpawnFailed, "Failed to start %s: %v", b.cfg.Shell, err))
	}

	var timedOut, canceled atomic.Bool
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(b.cfg.Timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			canceled.Store(true)
			killProcessGroup(cmd)
		case <-timer.C:
			timedOut.Store(true)
			killProcessGroup(cmd)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	switch {
	case timedOut.Load():
		return backend.Result{
			Status: backend.StatusTimeout,
			Info:   fmt.Sprintf("Execution timed out after %ds.", int(b.cfg.Timeout/time.Second)),
		}
	case canceled.Load():
		return backend.Classify(ctx.Err())
	}

	res := backend.Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
		Status: backend.StatusFailed,
	}
	state := cmd.ProcessState
	switch {
	case state == nil:
		logger.Warn(ctx, "local process wait failed", zap.Error(waitErr))
		res.Info = appErr.SpawnFailed.Message()
	case state.Success():
		// A successful exit with pipes held open by a stray child still counts.
		res.Status = backend.StatusSuccess
	case killedBySIGKILL(state) || state.ExitCode() == killedExitCode:
		res.Status = backend.StatusOutOfMemory
	}
	return res
}

// cappedBuffer keeps the first max bytes and silently drops the rest.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte {
	if c.buf.Len() == 0 {
		return nil
	}
	return c.buf.Bytes()
}
