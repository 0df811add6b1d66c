package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrNoListener means the port is definitively free.
var ErrNoListener = errors.New("no listener on port")

// ErrUnknown means the lookup backend could not answer; callers must not
// treat this as "not running".
var ErrUnknown = errors.New("listener lookup unavailable")

// ListenerFinder resolves which process, if any, is bound to a TCP port.
// When several processes match, implementations return the lowest pid;
// which of them is the "real" listener is inherently ambiguous (a wrapper
// and its worker can share the socket), so the tie-break is documented
// behavior rather than an error.
type ListenerFinder interface {
	FindListener(port int) (int, error)
}

// ProcNetFinder walks /proc/net/tcp* for listening sockets on the port,
// then scans /proc/*/fd to map socket inodes to pids.
type ProcNetFinder struct {
	// Root defaults to /proc.
	Root string
}

func (f ProcNetFinder) root() string {
	if f.Root != "" {
		return f.Root
	}
	return "/proc"
}

func (f ProcNetFinder) FindListener(port int) (int, error) {
	inodes := map[uint64]bool{}
	found := false
	for _, name := range []string{"net/tcp", "net/tcp6"} {
		ins, err := listenInodes(filepath.Join(f.root(), name), port)
		if err != nil {
			continue
		}
		found = true
		for _, in := range ins {
			inodes[in] = true
		}
	}
	if !found {
		return 0, fmt.Errorf("%w: cannot read %s/net/tcp", ErrUnknown, f.root())
	}
	if len(inodes) == 0 {
		return 0, ErrNoListener
	}
	pids, err := pidsForInodes(f.root(), inodes)
	if err != nil {
		return 0, err
	}
	if len(pids) == 0 {
		// socket exists but its owner is not visible to us
		return 0, fmt.Errorf("%w: listener on port %d has no readable owner", ErrUnknown, port)
	}
	sort.Ints(pids)
	return pids[0], nil
}

const tcpListen = 0x0A

// listenInodes parses one /proc/net/tcp-format table and returns the
// socket inodes listening on port.
func listenInodes(path string, port int) ([]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []uint64
	sc := bufio.NewScanner(f)
	sc.Scan() // header
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 10 {
			continue
		}
		state, err := strconv.ParseUint(fields[3], 16, 8)
		if err != nil || state != tcpListen {
			continue
		}
		// local_address is hexip:hexport
		_, portHex, ok := strings.Cut(fields[1], ":")
		if !ok {
			continue
		}
		p, err := strconv.ParseUint(portHex, 16, 32)
		if err != nil || int(p) != port {
			continue
		}
		inode, err := strconv.ParseUint(fields[9], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, inode)
	}
	return out, sc.Err()
}

// pidsForInodes scans /proc/[pid]/fd symlinks for socket:[inode] targets.
func pidsForInodes(root string, inodes map[uint64]bool) ([]int, error) {
	dirs, err := filepath.Glob(filepath.Join(root, "[0-9]*"))
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, d := range dirs {
		pid, err := strconv.Atoi(filepath.Base(d))
		if err != nil {
			continue
		}
		fds, err := os.ReadDir(filepath.Join(d, "fd"))
		if err != nil {
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(d, "fd", fd.Name()))
			if err != nil {
				continue
			}
			inodeStr, ok := strings.CutPrefix(link, "socket:[")
			if !ok {
				continue
			}
			inode, err := strconv.ParseUint(strings.TrimSuffix(inodeStr, "]"), 10, 64)
			if err != nil {
				continue
			}
			if inodes[inode] {
				pids = append(pids, pid)
				break
			}
		}
	}
	return pids, nil
}

// LsofFinder shells out to lsof, covering hosts where /proc is not
// available or not readable.
type LsofFinder struct{}

func (LsofFinder) FindListener(port int) (int, error) {
	out, err := exec.Command("lsof", "-t", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN").Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(strings.TrimSpace(string(out))) == 0 {
			// lsof exits 1 when nothing matches
			return 0, ErrNoListener
		}
		return 0, fmt.Errorf("%w: lsof: %v", ErrUnknown, err)
	}
	var pids []int
	for _, line := range strings.Fields(string(out)) {
		if pid, err := strconv.Atoi(line); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	if len(pids) == 0 {
		return 0, ErrNoListener
	}
	sort.Ints(pids)
	return pids[0], nil
}

// ChainFinder tries each finder in order and returns the first definitive
// answer. Only when every backend is unavailable does it report unknown.
type ChainFinder []ListenerFinder

func (c ChainFinder) FindListener(port int) (int, error) {
	var last error = ErrUnknown
	for _, f := range c {
		pid, err := f.FindListener(port)
		if err == nil || errors.Is(err, ErrNoListener) {
			return pid, err
		}
		last = err
	}
	return 0, last
}

// DefaultFinder prefers /proc and falls back to lsof.
func DefaultFinder() ListenerFinder {
	return ChainFinder{ProcNetFinder{}, LsofFinder{}}
}
