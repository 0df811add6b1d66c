package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"rerankctl/internal/config"
)

// Record is the supervisor's view of one service instance, computed fresh
// from the config and the pid file on every operation. The pid file is the
// only durable state; it may be stale (process died, file remains) or
// absent (file missing, process found via the port listener).
type Record struct {
	// PID of the occupant, 0 when not running.
	PID int
	// On-disk pid file path derived from served name + port.
	PIDFile string
	// Log file the service's combined output is redirected to.
	LogFile string
}

func recordFor(cfg config.ServiceConfig) Record {
	return Record{PIDFile: cfg.PIDFile(), LogFile: cfg.LogFile()}
}

// readPIDFile returns the recorded pid, or 0 when the file is absent or
// holds garbage. A malformed pid file is treated like a stale one.
func readPIDFile(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func writePIDFile(path string, pid int) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0o644)
}

func removePIDFile(path string) {
	_ = os.Remove(path)
}

// withLock runs fn while holding an advisory flock on path+".lock",
// closing the check-then-spawn race between concurrent invocations.
func withLock(path string, fn func() error) error {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	defer func() { _ = unix.Flock(int(f.Fd()), unix.LOCK_UN) }()
	return fn()
}
