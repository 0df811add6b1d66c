package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"rerankctl/internal/config"
)

// ProcessError reports a lifecycle failure: spawn failure, signal-send
// failure, or a process that died right after spawn. The log file path is
// included so the caller can diagnose the engine's own output.
type ProcessError struct {
	Op      string
	PID     int
	LogFile string
	Err     error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("supervisor: %s", e.Op)
	if e.PID > 0 {
		msg += fmt.Sprintf(" (pid %d)", e.PID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.LogFile != "" {
		msg += "; see " + e.LogFile
	}
	return msg
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Supervisor owns the lifecycle of one reranker service instance. Commands
// are synchronous and single-shot; state lives on disk (pid file) and in
// the OS (process table, port listeners), never in memory between calls.
type Supervisor struct {
	cfg    config.ServiceConfig
	finder ListenerFinder
	log    zerolog.Logger

	// command builds the service process; replaced in tests.
	command func(cfg config.ServiceConfig) *exec.Cmd

	startGrace   time.Duration
	stopWait     time.Duration
	stopPoll     time.Duration
	restartPause time.Duration
}

// Option adjusts a Supervisor.
type Option func(*Supervisor)

// WithFinder replaces the port-listener lookup backend.
func WithFinder(f ListenerFinder) Option { return func(s *Supervisor) { s.finder = f } }

// WithLogger installs a structured logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Supervisor) { s.log = l } }

// WithCommand replaces the service command builder.
func WithCommand(fn func(cfg config.ServiceConfig) *exec.Cmd) Option {
	return func(s *Supervisor) { s.command = fn }
}

// withTimings shortens the fixed lifecycle intervals; test hook.
func withTimings(startGrace, stopWait, stopPoll, restartPause time.Duration) Option {
	return func(s *Supervisor) {
		s.startGrace = startGrace
		s.stopWait = stopWait
		s.stopPoll = stopPoll
		s.restartPause = restartPause
	}
}

func New(cfg config.ServiceConfig, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:          cfg,
		finder:       DefaultFinder(),
		log:          zerolog.Nop(),
		command:      vllmCommand,
		startGrace:   time.Second,
		stopWait:     5 * time.Second,
		stopPoll:     200 * time.Millisecond,
		restartPause: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// vllmCommand builds the engine launch command from the resolved config.
func vllmCommand(cfg config.ServiceConfig) *exec.Cmd {
	args := []string{
		"serve", cfg.ModelPath,
		"--task", "score",
		"--served-model-name", cfg.ServedModelName,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(cfg.Port),
		"--tensor-parallel-size", strconv.Itoa(cfg.TensorParallelSize),
		"--dtype", cfg.DType,
		"--max-num-batched-tokens", strconv.Itoa(cfg.MaxNumBatchedTokens),
		"--max-num-seqs", strconv.Itoa(cfg.MaxNumSeqs),
		"--gpu-memory-utilization", strconv.FormatFloat(cfg.GPUMemoryUtilization, 'f', -1, 64),
		"--max-model-len", strconv.Itoa(cfg.MaxModelLen),
	}
	cmd := exec.Command("vllm", args...)
	cmd.Env = append(os.Environ(), "CUDA_VISIBLE_DEVICES="+cfg.VisibleDevices)
	return cmd
}

// Discover resolves the current occupant: the pid file wins if its process
// is alive, else the port listener table is consulted. A zero PID in the
// returned record means not running. A stale pid file is recovered from
// locally and never surfaced as an error.
func (s *Supervisor) Discover() (Record, error) {
	rec := recordFor(s.cfg)
	if pid := readPIDFile(rec.PIDFile); pid > 0 && processAlive(pid) {
		rec.PID = pid
		return rec, nil
	}
	pid, err := s.finder.FindListener(s.cfg.Port)
	if err == nil {
		s.log.Debug().Int("pid", pid).Int("port", s.cfg.Port).Msg("occupant found via port listener")
		rec.PID = pid
		return rec, nil
	}
	if errors.Is(err, ErrNoListener) {
		return rec, nil
	}
	return rec, err
}

// Start ensures the service is running. If an occupant already exists the
// call is an idempotent success reporting the existing pid; otherwise it
// spawns the engine detached, redirects its combined output to the log
// file, records the pid, and verifies the process survives a short grace
// interval. A process that dies inside the grace window is a fatal
// ProcessError pointing at the log file; there is no automatic retry.
func (s *Supervisor) Start(ctx context.Context) (Record, error) {
	rec := recordFor(s.cfg)
	if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		return rec, &ProcessError{Op: "start", Err: err}
	}
	err := withLock(rec.PIDFile, func() error {
		r, err := s.Discover()
		if err != nil {
			return &ProcessError{Op: "start", Err: err}
		}
		if r.PID > 0 {
			s.log.Info().Int("pid", r.PID).Str("log", r.LogFile).Msg("service already running")
			rec = r
			return nil
		}
		pid, err := s.spawn(ctx, rec)
		if err != nil {
			return err
		}
		rec.PID = pid
		return nil
	})
	return rec, err
}

func (s *Supervisor) spawn(ctx context.Context, rec Record) (int, error) {
	logf, err := os.OpenFile(rec.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, &ProcessError{Op: "start", LogFile: rec.LogFile, Err: err}
	}
	defer logf.Close()

	cmd := s.command(s.cfg)
	cmd.Stdout = logf
	cmd.Stderr = logf
	// Own session so the process outlives this invocation and signals can
	// target the whole group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, &ProcessError{Op: "start", LogFile: rec.LogFile, Err: fmt.Errorf("spawn: %w", err)}
	}
	pid := cmd.Process.Pid
	if err := writePIDFile(rec.PIDFile, pid); err != nil {
		return 0, &ProcessError{Op: "start", PID: pid, LogFile: rec.LogFile, Err: err}
	}
	s.log.Info().Int("pid", pid).Str("log", rec.LogFile).Msg("service spawned")

	// Reap and surface an exit inside the grace window.
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()
	select {
	case werr := <-waitErr:
		removePIDFile(rec.PIDFile)
		if werr == nil {
			werr = fmt.Errorf("exited cleanly before becoming ready")
		}
		return 0, &ProcessError{Op: "start", PID: pid, LogFile: rec.LogFile,
			Err: fmt.Errorf("process died during startup: %w", werr)}
	case <-ctx.Done():
		return 0, &ProcessError{Op: "start", PID: pid, LogFile: rec.LogFile, Err: ctx.Err()}
	case <-time.After(s.startGrace):
	}
	return pid, nil
}

// Stop terminates the current occupant: graceful signal to the process
// group, bounded liveness polling, then SIGKILL escalation. As a final
// reconciliation it re-runs port discovery and force-kills any distinct
// residual listener (the tracked pid may have been a wrapper, not the
// actual listener). The pid file is removed unconditionally. Stopping an
// already-stopped service is a success.
func (s *Supervisor) Stop(ctx context.Context) error {
	rec := recordFor(s.cfg)
	defer removePIDFile(rec.PIDFile)

	r, err := s.Discover()
	if err != nil {
		// Unknown occupancy: nothing we can signal. Proceed to pid file
		// cleanup but tell the caller discovery was blind.
		s.log.Warn().Err(err).Msg("stop: occupant discovery unavailable")
		return nil
	}
	if r.PID > 0 {
		if err := s.terminate(r.PID); err != nil {
			return err
		}
	}

	// Reconcile against the actual listener once more.
	if lpid, lerr := s.finder.FindListener(s.cfg.Port); lerr == nil && lpid > 0 && lpid != r.PID {
		s.log.Warn().Int("pid", lpid).Int("port", s.cfg.Port).Msg("residual listener after stop, killing")
		if err := newJobHandle(lpid).ForceStop(); err != nil {
			return &ProcessError{Op: "stop", PID: lpid, Err: err}
		}
		waitDead(lpid, s.stopWait, s.stopPoll)
	}
	return nil
}

func (s *Supervisor) terminate(pid int) error {
	j := newJobHandle(pid)
	dead, err := j.GracefulStop(s.stopWait, s.stopPoll)
	if err != nil {
		return &ProcessError{Op: "stop", PID: pid, Err: fmt.Errorf("signal: %w", err)}
	}
	if dead {
		s.log.Info().Int("pid", pid).Msg("service stopped")
		return nil
	}
	s.log.Warn().Int("pid", pid).Dur("waited", s.stopWait).Msg("graceful stop timed out, escalating")
	if err := j.ForceStop(); err != nil {
		return &ProcessError{Op: "stop", PID: pid, Err: fmt.Errorf("kill: %w", err)}
	}
	if !waitDead(pid, s.stopWait, s.stopPoll) {
		return &ProcessError{Op: "stop", PID: pid, Err: fmt.Errorf("still alive after SIGKILL")}
	}
	s.log.Info().Int("pid", pid).Msg("service killed")
	return nil
}

// Restart stops then starts. A stop failure is logged but does not
// suppress the start attempt.
func (s *Supervisor) Restart(ctx context.Context) (Record, error) {
	if err := s.Stop(ctx); err != nil {
		s.log.Warn().Err(err).Msg("restart: stop failed, starting anyway")
	}
	time.Sleep(s.restartPause)
	return s.Start(ctx)
}

// Status reports the occupant without side effects.
func (s *Supervisor) Status() (Record, bool, error) {
	rec, err := s.Discover()
	return rec, rec.PID > 0, err
}
