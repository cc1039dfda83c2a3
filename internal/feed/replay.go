package feed

import (
	"bufio"
	"context"
	"io"
	"time"
)

// Replay copies the lines of src to w, pausing interval between lines.
// It stops at the end of src, on a write error or when ctx is done, and
// returns the number of lines written.
func Replay(ctx context.Context, w io.Writer, src io.Reader, interval time.Duration) (int, error) {
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	s := bufio.NewScanner(src)
	s.Buffer(make([]byte, 0, 4096), 1<<20)
	n := 0
	for s.Scan() {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return n, ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := io.WriteString(w, s.Text()+"\r\n"); err != nil {
			return n, err
		}
		n++
	}
	return n, s.Err()
}
