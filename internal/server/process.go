package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/mcbridge-project/mcbridge/internal/protocol"
	"github.com/mcbridge-project/mcbridge/internal/util"
)

// ProcessManager supervises the game server process. It owns the process
// stdin for console commands and streams stdout/stderr lines to a callback.
type ProcessManager struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	proc   *process.Process
	pid    int
	stdin  io.WriteCloser
	done   chan struct{}
	logger zerolog.Logger

	running   bool
	startedAt time.Time
	exitCode  int
	exitErr   error

	executable  string
	args        []string
	workDir     string
	stopTimeout time.Duration
}

// ProcessConfig holds configuration for launching the game server.
type ProcessConfig struct {
	Executable  string
	Args        []string
	WorkDir     string
	StopTimeout time.Duration
}

// NewProcessManager creates a new process manager for the game server.
func NewProcessManager(cfg ProcessConfig) *ProcessManager {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	return &ProcessManager{
		executable:  cfg.Executable,
		args:        cfg.Args,
		workDir:     cfg.WorkDir,
		stopTimeout: cfg.StopTimeout,
		exitCode:    -1,
		logger:      util.ComponentLogger("process"),
	}
}

// Start launches the process. Each output line is passed to onLine from a
// single goroutine. The process is not tied to ctx; use Stop or Kill.
func (pm *ProcessManager) Start(_ context.Context, onLine func(string)) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.running {
		return fmt.Errorf("process already running (pid: %d)", pm.pid)
	}

	pm.logger.Info().
		Str("executable", pm.executable).
		Strs("args", pm.args).
		Str("workdir", pm.workDir).
		Msg("starting game server process")

	cmd := exec.Command(pm.executable, pm.args...)
	cmd.Dir = pm.workDir
	setPlatformProcessAttrs(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin: %w", err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	pm.cmd = cmd
	pm.stdin = stdin
	pm.pid = cmd.Process.Pid
	pm.running = true
	pm.startedAt = time.Now()
	pm.exitCode = -1
	pm.exitErr = nil
	pm.done = make(chan struct{})

	if p, err := process.NewProcess(int32(pm.pid)); err == nil {
		pm.proc = p
	}

	pm.logger.Info().Int("pid", pm.pid).Msg("game server process started")

	go pm.monitor(cmd, out, onLine, pm.done)
	return nil
}

// monitor streams output until EOF, then reaps the process.
func (pm *ProcessManager) monitor(cmd *exec.Cmd, out io.Reader, onLine func(string), done chan struct{}) {
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}

	err := cmd.Wait()

	pm.mu.Lock()
	pm.running = false
	pm.exitErr = err
	if cmd.ProcessState != nil {
		pm.exitCode = cmd.ProcessState.ExitCode()
	}
	pm.proc = nil
	pid := pm.pid
	exitCode := pm.exitCode
	pm.mu.Unlock()
	close(done)

	pm.logger.Info().
		Int("pid", pid).
		Int("exit_code", exitCode).
		Msg("game server process exited")
}

// WriteLine sends one console line to the process.
func (pm *ProcessManager) WriteLine(line string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if !pm.running || pm.stdin == nil {
		return fmt.Errorf("process not running")
	}
	if _, err := io.WriteString(pm.stdin, strings.TrimRight(line, "\r\n")+"\n"); err != nil {
		return fmt.Errorf("failed to write to console: %w", err)
	}
	return nil
}

// Stop asks the server to save and exit with the "stop" command, and kills
// it if it has not exited within the stop timeout.
func (pm *ProcessManager) Stop() error {
	pm.mu.Lock()
	running := pm.running
	done := pm.done
	pid := pm.pid
	pm.mu.Unlock()

	if !running {
		return nil
	}

	pm.logger.Info().Int("pid", pid).Msg("stopping game server process")

	if err := pm.WriteLine("stop"); err != nil {
		pm.logger.Warn().Err(err).Msg("graceful shutdown failed, force killing")
		return pm.Kill()
	}

	select {
	case <-done:
		pm.logger.Info().Msg("process stopped gracefully")
		return nil
	case <-time.After(pm.stopTimeout):
		pm.logger.Warn().Dur("timeout", pm.stopTimeout).Msg("process didn't stop in time, force killing")
		return pm.Kill()
	}
}

// Kill immediately terminates the process.
func (pm *ProcessManager) Kill() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if !pm.running || pm.cmd == nil || pm.cmd.Process == nil {
		return nil
	}

	pm.logger.Warn().Int("pid", pm.pid).Msg("force killing game server process")
	return pm.cmd.Process.Kill()
}

// Done is closed when the current process exits. Nil before Start.
func (pm *ProcessManager) Done() <-chan struct{} {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.done
}

// IsRunning returns whether the process is currently running.
func (pm *ProcessManager) IsRunning() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.running
}

// PID returns the process id, or 0 when nothing is attached.
func (pm *ProcessManager) PID() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if !pm.running {
		return 0
	}
	return pm.pid
}

// Uptime returns how long the process has been running.
func (pm *ProcessManager) Uptime() time.Duration {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if !pm.running {
		return 0
	}
	return time.Since(pm.startedAt)
}

// ExitCode returns the exit code of the process (-1 if still running).
func (pm *ProcessManager) ExitCode() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.exitCode
}

// Attach adopts an already running server process by pid, for occupation
// reports when the bridge follows a log file instead of launching the server.
func (pm *ProcessManager) Attach(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("process %d not found: %w", pid, err)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.running {
		return fmt.Errorf("process already running (pid: %d)", pm.pid)
	}
	pm.proc = p
	pm.pid = int(pid)
	pm.running = true
	pm.startedAt = time.Now()
	if created, err := p.CreateTime(); err == nil {
		pm.startedAt = time.UnixMilli(created)
	}
	pm.logger.Info().Int("pid", pm.pid).Msg("attached to running game server")
	return nil
}

// CheckAttached drops an adopted process that has exited.
func (pm *ProcessManager) CheckAttached() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.cmd != nil || pm.proc == nil {
		return
	}
	if ok, err := pm.proc.IsRunning(); err != nil || !ok {
		pm.logger.Info().Int("pid", pm.pid).Msg("attached game server exited")
		pm.proc = nil
		pm.running = false
	}
}

// Occupation reports the process CPU percentage and resident memory in MB.
// ok is false when no process is attached or it cannot be sampled.
func (pm *ProcessManager) Occupation() (protocol.Occupation, bool) {
	pm.mu.Lock()
	proc := pm.proc
	pm.mu.Unlock()

	if proc == nil {
		return protocol.Occupation{}, false
	}

	cpu, err := proc.CPUPercent()
	if err != nil {
		pm.logger.Debug().Err(err).Msg("failed to sample cpu")
		return protocol.Occupation{}, false
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		pm.logger.Debug().Err(err).Msg("failed to sample memory")
		return protocol.Occupation{}, false
	}

	return protocol.Occupation{
		CPU: cpu,
		RAM: float64(mem.RSS) / (1024 * 1024),
	}, true
}

// FindServerProcess looks for a java process whose working directory is
// workDir.
func FindServerProcess(workDir string) (int32, error) {
	want, err := filepath.Abs(workDir)
	if err != nil {
		return 0, err
	}

	procs, err := process.Processes()
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}

	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !strings.Contains(strings.ToLower(name), "java") {
			continue
		}
		cwd, err := p.Cwd()
		if err != nil {
			continue
		}
		if filepath.Clean(cwd) == want {
			return p.Pid, nil
		}
	}
	return 0, fmt.Errorf("no java process running in %s", want)
}
