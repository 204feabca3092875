package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/termpilot/termpilot/internal/common/config"
	"github.com/termpilot/termpilot/internal/common/logger"
)

// ErrBinaryNotFound indicates the agent binary could not be resolved on
// the (augmented) PATH. Spawn failures are reported, never fatal.
var ErrBinaryNotFound = fmt.Errorf("agent binary not found")

const defaultBufferBytes = 256 * 1024

// SpawnRequest describes a single agent process to start.
type SpawnRequest struct {
	SessionID  string
	WorkingDir string

	// ResumeID, when set, appends the resume flag so the agent reattaches
	// to a previously persisted external session.
	ResumeID string

	// Env holds extra environment variables merged over the inherited set.
	Env map[string]string

	// OnExit is invoked once after the process is reaped.
	OnExit ExitObserver
}

// Spawner starts agent processes on ptys. It is stateless; callers own the
// returned Process.
type Spawner struct {
	cfg config.AgentConfig
	log *logger.Logger
}

// NewSpawner creates a Spawner for the given agent configuration.
func NewSpawner(cfg config.AgentConfig, log *logger.Logger) *Spawner {
	return &Spawner{cfg: cfg, log: log}
}

// Spawn resolves the agent binary, starts it attached to a pty sized per
// configuration, and begins draining output. The context only bounds the
// spawn itself; a started process outlives it.
func (s *Spawner) Spawn(ctx context.Context, req SpawnRequest) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	searchPath := s.buildPath()
	binary, err := resolveBinary(s.cfg.Command, searchPath)
	if err != nil {
		return nil, err
	}

	args := append([]string{}, s.cfg.Args...)
	if req.ResumeID != "" {
		args = append(args, s.cfg.ResumeFlag, req.ResumeID)
	}

	cmd := exec.Command(binary, args...)
	cmd.Dir = req.WorkingDir
	cmd.Env = buildEnv(searchPath, req.Env)

	cols, rows := s.cfg.Cols, s.cfg.Rows
	ptmx, err := startPTYWithSize(cmd, cols, rows)
	if err != nil {
		return nil, fmt.Errorf("starting agent pty: %w", err)
	}

	pid := cmd.Process.Pid
	proc := &Process{
		sessionID: req.SessionID,
		pty:       ptmx,
		buffer:    newRingBuffer(defaultBufferBytes),
		screen:    NewScreen(cols, rows),
		log:       s.log,
		pid:       pid,
		pgid:      processGroupID(pid),
		done:      make(chan struct{}),
		onExit:    req.OnExit,
	}

	go proc.readLoop()
	go proc.waitLoop(func() (int, string, error) { return waitProcess(cmd) })

	s.log.WithSessionID(req.SessionID).Info("agent process started",
		zap.String("binary", binary),
		zap.Int("pid", proc.pid),
		zap.Int("pgid", proc.pgid),
		zap.Bool("resume", req.ResumeID != ""))

	return proc, nil
}

// buildPath prepends configured extra directories to the inherited PATH so
// agent binaries installed by user-level package managers resolve even when
// the service runs outside a login shell.
func (s *Spawner) buildPath() string {
	path := os.Getenv("PATH")
	if len(s.cfg.ExtraPathDirs) == 0 {
		return path
	}
	parts := append([]string{}, s.cfg.ExtraPathDirs...)
	if path != "" {
		parts = append(parts, path)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// resolveBinary locates the agent binary. Commands containing a path
// separator are checked directly; bare names are searched on searchPath.
func resolveBinary(command, searchPath string) (string, error) {
	if strings.ContainsRune(command, os.PathSeparator) {
		if info, err := os.Stat(command); err == nil && !info.IsDir() {
			return command, nil
		}
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, command)
	}
	for _, dir := range filepath.SplitList(searchPath) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, command)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	// Fall back to the standard lookup for platform executable rules
	// (mode bits on Unix, PATHEXT on Windows).
	if found, err := exec.LookPath(command); err == nil {
		return found, nil
	}
	return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, command)
}

// buildEnv merges the inherited environment with terminal hints and any
// request-scoped overrides. Interactive agents render prompts only when a
// capable terminal is advertised.
func buildEnv(searchPath string, extra map[string]string) []string {
	overrides := map[string]string{
		"PATH":        searchPath,
		"TERM":        "xterm-256color",
		"COLORTERM":   "truecolor",
		"FORCE_COLOR": "1",
	}
	for k, v := range extra {
		overrides[k] = v
	}

	env := os.Environ()
	out := make([]string, 0, len(env)+len(overrides))
	for _, kv := range env {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if _, replaced := overrides[key]; replaced {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}
