package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcbridge-project/mcbridge/internal/util"
)

// Tailer follows a log file the way tail -F does: it starts at the end,
// reopens the file when it is rotated or truncated, and waits for it to
// appear if it does not exist yet.
type Tailer struct {
	path     string
	interval time.Duration
	logger   zerolog.Logger
}

// NewTailer creates a Tailer polling path every interval.
func NewTailer(path string, interval time.Duration) *Tailer {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Tailer{
		path:     path,
		interval: interval,
		logger:   util.ComponentLogger("tailer").With().Str("path", path).Logger(),
	}
}

// Run passes every complete new line to onLine until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context, onLine func(string)) error {
	var (
		f       *os.File
		reader  *bufio.Reader
		offset  int64
		partial strings.Builder
		first   = true
	)
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if f == nil {
			opened, err := os.Open(t.path)
			if err == nil {
				f = opened
				offset = 0
				if first {
					// skip history on the initial open only
					if end, err := f.Seek(0, io.SeekEnd); err == nil {
						offset = end
					}
				}
				reader = bufio.NewReader(f)
				partial.Reset()
				t.logger.Info().Int64("offset", offset).Msg("following log file")
			} else if !errors.Is(err, os.ErrNotExist) {
				t.logger.Warn().Err(err).Msg("cannot open log file")
			}
			first = false
		}

		if f != nil {
			for {
				chunk, err := reader.ReadString('\n')
				offset += int64(len(chunk))
				partial.WriteString(chunk)
				if err != nil {
					break
				}
				onLine(strings.TrimRight(partial.String(), "\r\n"))
				partial.Reset()
			}

			if t.rotated(f, offset) {
				t.logger.Info().Msg("log file rotated, reopening")
				f.Close()
				f = nil
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// rotated reports whether path now names a different or shorter file than f.
func (t *Tailer) rotated(f *os.File, offset int64) bool {
	cur, err := os.Stat(t.path)
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	open, err := f.Stat()
	if err != nil {
		return true
	}
	return !os.SameFile(cur, open) || cur.Size() < offset
}
