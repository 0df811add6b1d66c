package supervisor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestProcNetFinderFindsOwnListener(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	pid, err := ProcNetFinder{}.FindListener(port)
	if err != nil {
		t.Fatalf("find listener: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("expected own pid %d, got %d", os.Getpid(), pid)
	}
}

func TestProcNetFinderFreePort(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = ProcNetFinder{}.FindListener(port)
	if !errors.Is(err, ErrNoListener) {
		t.Fatalf("expected ErrNoListener, got %v", err)
	}
}

// fakeProc builds a /proc lookalike: one tcp table entry listening on port
// with the given inode, and fd symlinks mapping pids to inodes.
func fakeProc(t *testing.T, port int, inode uint64, pids []int) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "net"), 0o755); err != nil {
		t.Fatal(err)
	}
	tcp := "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode\n" +
		fmt.Sprintf("   0: 0100007F:%04X 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 %d 1 0000000000000000 100 0 0 10 0\n", port, inode)
	if err := os.WriteFile(filepath.Join(root, "net", "tcp"), []byte(tcp), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, pid := range pids {
		fdDir := filepath.Join(root, fmt.Sprint(pid), "fd")
		if err := os.MkdirAll(fdDir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.Symlink(fmt.Sprintf("socket:[%d]", inode), filepath.Join(fdDir, "4")); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestProcNetFinderLowestPIDWins(t *testing.T) {
	root := fakeProc(t, 11438, 999, []int{4321, 1234})
	pid, err := ProcNetFinder{Root: root}.FindListener(11438)
	if err != nil {
		t.Fatalf("find listener: %v", err)
	}
	if pid != 1234 {
		t.Fatalf("expected lowest pid 1234, got %d", pid)
	}
}

func TestProcNetFinderUnreadableOwnerIsUnknown(t *testing.T) {
	root := fakeProc(t, 11438, 999, nil)
	_, err := ProcNetFinder{Root: root}.FindListener(11438)
	if !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown for ownerless socket, got %v", err)
	}
}

func TestProcNetFinderMissingTablesIsUnknown(t *testing.T) {
	_, err := ProcNetFinder{Root: t.TempDir()}.FindListener(11438)
	if !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}

func TestChainFinderSkipsUnknownBackends(t *testing.T) {
	c := ChainFinder{
		fakeFinder{err: ErrUnknown},
		fakeFinder{pid: 77},
	}
	pid, err := c.FindListener(1)
	if err != nil || pid != 77 {
		t.Fatalf("expected pid 77, got %d err=%v", pid, err)
	}

	c = ChainFinder{
		fakeFinder{err: ErrUnknown},
		fakeFinder{err: ErrNoListener},
	}
	if _, err := c.FindListener(1); !errors.Is(err, ErrNoListener) {
		t.Fatalf("expected definitive ErrNoListener, got %v", err)
	}

	c = ChainFinder{fakeFinder{err: ErrUnknown}}
	if _, err := c.FindListener(1); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}
