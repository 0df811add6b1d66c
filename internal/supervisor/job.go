package supervisor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// JobHandle wraps signaling for one occupant. Signals target the whole
// process group when the group id is resolvable, else the single process;
// callers never branch on that distinction.
type JobHandle struct {
	pid  int
	pgid int
}

func newJobHandle(pid int) JobHandle {
	j := JobHandle{pid: pid}
	if pgid, err := unix.Getpgid(pid); err == nil {
		j.pgid = pgid
	}
	return j
}

func (j JobHandle) target() int {
	if j.pgid > 0 {
		return -j.pgid
	}
	return j.pid
}

func (j JobHandle) signal(sig unix.Signal) error {
	err := unix.Kill(j.target(), sig)
	if errors.Is(err, unix.ESRCH) {
		// already gone
		return nil
	}
	return err
}

// GracefulStop sends SIGTERM and polls for liveness until timeout. It
// returns whether the process is confirmed dead; a signal-send failure is
// returned as an error and never swallowed.
func (j JobHandle) GracefulStop(timeout, poll time.Duration) (bool, error) {
	if err := j.signal(unix.SIGTERM); err != nil {
		return false, err
	}
	return waitDead(j.pid, timeout, poll), nil
}

// ForceStop sends SIGKILL to the same target GracefulStop signaled.
func (j JobHandle) ForceStop() error {
	return j.signal(unix.SIGKILL)
}

// processAlive probes pid with signal 0. EPERM still means alive, just
// owned by someone else.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

func waitDead(pid int, timeout, poll time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !processAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(poll)
	}
}
