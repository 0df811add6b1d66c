package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/nxadm/tail"
)

// DefaultTailLines is how much history Tail replays before following.
const DefaultTailLines = 200

// Tail writes the last lastN lines of the service log to w, then follows
// the file forever, writing lines as the service appends them. It blocks
// until ctx is cancelled and never restarts on its own. The log file is
// created if absent so tailing before the first start works.
func (s *Supervisor) Tail(ctx context.Context, w io.Writer, lastN int) error {
	if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		return err
	}
	path := s.cfg.LogFile()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return err
	}
	off, err := lastLinesOffset(f, lastN)
	f.Close()
	if err != nil {
		return err
	}

	t, err := tail.TailFile(path, tail.Config{
		Location:  &tail.SeekInfo{Offset: off, Whence: io.SeekStart},
		Follow:    true,
		ReOpen:    false,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return err
	}
	defer t.Cleanup()
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	for line := range t.Lines {
		if line.Err != nil {
			return line.Err
		}
		fmt.Fprintln(w, line.Text)
	}
	return ctx.Err()
}

// lastLinesOffset returns the byte offset where the last n lines of f
// begin, scanning backwards in chunks. A trailing newline does not count
// as an extra line.
func lastLinesOffset(f *os.File, n int) (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := st.Size()
	if n <= 0 {
		return size, nil
	}

	const chunk = 32 * 1024
	buf := make([]byte, chunk)
	count := 0
	pos := size
	first := true
	for pos > 0 {
		rd := int64(chunk)
		if rd > pos {
			rd = pos
		}
		pos -= rd
		if _, err := f.ReadAt(buf[:rd], pos); err != nil && err != io.EOF {
			return 0, err
		}
		for i := rd - 1; i >= 0; i-- {
			at := pos + i
			if buf[i] != '\n' {
				first = false
				continue
			}
			// a trailing newline does not start a new line
			if first && at == size-1 {
				first = false
				continue
			}
			first = false
			count++
			if count >= n {
				return at + 1, nil
			}
		}
	}
	return 0, nil
}
