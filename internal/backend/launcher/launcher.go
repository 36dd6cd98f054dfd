// Package launcher spawns and manages an ocserve subprocess: the server
// backend (§4.D.1) variant of a worker, as opposed to the agent backend
// which talks to an existing OCServer session with no subprocess at all.
package launcher

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kandev/nodeforge/internal/common/logger"
	"go.uber.org/zap"
)

// listeningLineRE matches ocserve's stdout readiness line, e.g.
// "opencode server listening on http://127.0.0.1:54231".
var listeningLineRE = regexp.MustCompile(`(?i)opencode server listening.*?\son\s+(https?://[^\s]+)`)

// Launcher manages an ocserve subprocess.
type Launcher struct {
	binaryPath   string
	host         string
	port         int
	extraEnv     map[string]string
	readyTimeout time.Duration
	logger       *logger.Logger

	cmd     *exec.Cmd
	exited  chan struct{}
	readyCh chan int // delivers the bound port once the listening line is seen
	mu      sync.Mutex

	outputMu sync.Mutex
	output   []string

	// For clean shutdown
	stopping bool
}

// Config holds configuration for the launcher.
type Config struct {
	BinaryPath   string            // Path to ocserve binary (auto-detected if empty)
	Host         string            // Host to bind to (default: 127.0.0.1)
	Port         int               // Port to request; 0 requests a dynamic bind
	ExtraEnv     map[string]string // Merged into the subprocess environment (BRIDGE_URL, BRIDGE_TOKEN, etc.)
	ReadyTimeout time.Duration     // Default 30s
}

// New creates a new Launcher.
func New(cfg Config, log *logger.Logger) *Launcher {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = findOcserveBinary()
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}

	return &Launcher{
		binaryPath:   cfg.BinaryPath,
		host:         cfg.Host,
		port:         cfg.Port,
		extraEnv:     cfg.ExtraEnv,
		readyTimeout: cfg.ReadyTimeout,
		logger:       log.WithFields(zap.String("component", "ocserve-launcher")),
		exited:       make(chan struct{}),
		readyCh:      make(chan int, 1),
	}
}

// Port returns the actual port ocserve is running on. This may differ
// from the configured port if 0 (dynamic bind) was requested.
func (l *Launcher) Port() int {
	return l.port
}

// PID returns the ocserve process id, or 0 if it has not been started.
func (l *Launcher) PID() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd == nil || l.cmd.Process == nil {
		return 0
	}
	return l.cmd.Process.Pid
}

// findOcserveBinary attempts to locate the ocserve binary.
func findOcserveBinary() string {
	// 1. Check same directory as current executable
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "ocserve")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	// 2. Check PATH
	if path, err := exec.LookPath("ocserve"); err == nil {
		return path
	}

	// 3. Check common development locations
	candidates := []string{
		"./bin/ocserve",
		"./ocserve",
		"../ocserve",
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			if abs, err := filepath.Abs(candidate); err == nil {
				return abs
			}
			return candidate
		}
	}

	return "ocserve" // Fall back to PATH lookup at runtime
}

// Start spawns the ocserve subprocess and waits for its stdout readiness
// line. If the configured port is 0, the actual bound port (parsed from
// that line) is recorded in l.port for Port() to return afterward.
func (l *Launcher) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil {
		return fmt.Errorf("ocserve already running")
	}

	if l.port != 0 {
		if err := l.ensurePortAvailable(); err != nil {
			return fmt.Errorf("port %d not available: %w", l.port, err)
		}
	}

	l.logger.Info("starting ocserve subprocess",
		zap.String("binary", l.binaryPath),
		zap.Int("port", l.port),
		zap.String("host", l.host))

	// Note: We use exec.Command (not CommandContext) because we want to control
	// shutdown ourselves via Stop(). CommandContext sends SIGKILL on context
	// cancellation which prevents graceful shutdown.
	l.cmd = exec.Command(l.binaryPath,
		fmt.Sprintf("--hostname=%s", l.host),
		fmt.Sprintf("--port=%d", l.port),
	)

	l.cmd.Env = append(os.Environ(), "OPENCODE_ORCHESTRATOR_WORKER=1")
	for k, v := range l.extraEnv {
		l.cmd.Env = append(l.cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// Set process attributes:
	// - Pdeathsig on Linux: kernel sends SIGTERM to child when parent dies.
	// - Setpgid: create new process group so Ctrl+C doesn't propagate directly.
	l.cmd.SysProcAttr = buildSysProcAttr()

	// Capture stdout and stderr
	stdout, err := l.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := l.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	// Start the process
	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ocserve: %w", err)
	}

	l.logger.Info("ocserve process started", zap.Int("pid", l.cmd.Process.Pid))

	// Pipe stdout/stderr to logger in background, watching stdout for the
	// readiness line.
	go l.pipeOutput("stdout", bufio.NewScanner(stdout))
	go l.pipeOutput("stderr", bufio.NewScanner(stderr))

	// Monitor process exit in background
	go l.monitorExit()

	// Wait for the readiness line to appear on stdout
	if err := l.waitForListeningLine(ctx); err != nil {
		if killErr := l.cmd.Process.Kill(); killErr != nil {
			l.logger.Warn("failed to kill ocserve process after failed readiness wait", zap.Error(killErr))
		}
		return fmt.Errorf("ocserve failed to become ready: %w: %s", err, l.collectedOutput())
	}

	l.logger.Info("ocserve is ready", zap.Int("port", l.port))
	return nil
}

// collectedOutput joins everything captured from the subprocess's stdout
// and stderr, for inclusion in a readiness-failure error.
func (l *Launcher) collectedOutput() string {
	l.outputMu.Lock()
	defer l.outputMu.Unlock()
	return strings.Join(l.output, "\n")
}

// Stop gracefully shuts down the ocserve subprocess.
func (l *Launcher) Stop(ctx context.Context) error {
	l.mu.Lock()

	if l.cmd == nil || l.cmd.Process == nil {
		l.mu.Unlock()
		return nil
	}

	// Check if already exited
	select {
	case <-l.exited:
		l.mu.Unlock()
		l.logger.Info("ocserve already stopped")
		return nil
	default:
	}

	l.stopping = true
	pid := l.cmd.Process.Pid
	l.mu.Unlock()

	l.logger.Info("stopping ocserve subprocess", zap.Int("pid", pid))

	// Send graceful stop signal (SIGTERM on Unix, interrupt on Windows)
	if err := l.gracefulStop(pid); err != nil {
		return err
	}

	// Wait for process to exit or context timeout
	select {
	case <-l.exited:
		l.logger.Info("ocserve stopped gracefully")
		return nil
	case <-ctx.Done():
		l.logger.Warn("graceful shutdown timed out, force killing")
		l.forceKill(pid)
		// Wait a bit for the kill to take effect
		select {
		case <-l.exited:
			return nil
		case <-time.After(1 * time.Second):
			return fmt.Errorf("ocserve did not exit after force kill")
		}
	}
}

// checkPortAvailable verifies the given port is not in use.
// It checks by attempting a wildcard bind (matching what ocserve does with ":port").
func checkPortAvailable(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return ln.Close()
}

// findFreePort asks the OS for an available port by binding to :0.
func findFreePort() (int, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port, nil
}

// ensurePortAvailable checks if the configured port is free. If not, it
// immediately falls back to an OS-assigned free port.
func (l *Launcher) ensurePortAvailable() error {
	if err := checkPortAvailable(l.port); err == nil {
		return nil
	}

	originalPort := l.port

	l.logger.Info("port already in use, selecting a free port",
		zap.Int("port", l.port))
	l.diagnosePID()

	freePort, err := findFreePort()
	if err != nil {
		return fmt.Errorf("port %d is in use and failed to find alternative: %w", originalPort, err)
	}
	l.logger.Info("using alternative port",
		zap.Int("original_port", originalPort),
		zap.Int("new_port", freePort))
	l.port = freePort
	return nil
}

// waitForListeningLine blocks until ocserve prints its stdout readiness
// line, the process exits early, the context is canceled, or
// readyTimeout elapses.
func (l *Launcher) waitForListeningLine(ctx context.Context) error {
	timer := time.NewTimer(l.readyTimeout)
	defer timer.Stop()

	select {
	case port := <-l.readyCh:
		l.port = port
		return nil
	case <-l.exited:
		return fmt.Errorf("ocserve exited unexpectedly during startup (check logs above for bind errors)")
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %s waiting for ocserve readiness line", l.readyTimeout)
	}
}

// pipeOutput reads from a scanner, logs each line, records it for
// readiness-failure diagnostics, and watches stdout for the listening
// line.
func (l *Launcher) pipeOutput(name string, scanner *bufio.Scanner) {
	for scanner.Scan() {
		line := scanner.Text()

		l.outputMu.Lock()
		l.output = append(l.output, line)
		l.outputMu.Unlock()

		if name == "stderr" {
			l.logger.Warn(line, zap.String("stream", name))
		} else {
			l.logger.Debug(line, zap.String("stream", name))
		}

		if name == "stdout" {
			if port, ok := parseListeningPort(line); ok {
				select {
				case l.readyCh <- port:
				default:
				}
			}
		}
	}
}

// parseListeningPort extracts the bound port from ocserve's readiness
// line, e.g. "opencode server listening ... on http://127.0.0.1:54231".
func parseListeningPort(line string) (int, bool) {
	match := listeningLineRE.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	idx := strings.LastIndex(match[1], ":")
	if idx == -1 {
		return 0, false
	}
	portStr := strings.TrimRight(match[1][idx+1:], "/")
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return 0, false
	}
	return port, true
}

// monitorExit waits for the process to exit and signals via the exited channel.
func (l *Launcher) monitorExit() {
	err := l.cmd.Wait()
	// Close exited before taking l.mu: Start holds l.mu while it waits on
	// exited during startup.
	close(l.exited)

	l.mu.Lock()
	stopping := l.stopping
	l.mu.Unlock()

	if err != nil && !stopping {
		l.logger.Error("ocserve exited unexpectedly",
			zap.Error(err),
			zap.Int("pid", l.cmd.Process.Pid),
			zap.Int("exit_code", l.cmd.ProcessState.ExitCode()))
	} else if !stopping {
		l.logger.Info("ocserve exited",
			zap.Int("pid", l.cmd.Process.Pid),
			zap.Int("exit_code", l.cmd.ProcessState.ExitCode()))
	}
}
