package ledger

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const lockPollInterval = 10 * time.Millisecond

// FileLedger stores records in a single file, one CSV line per record.
// Appends are serialised in-process by a mutex and across processes by
// flock(2).
type FileLedger struct {
	path    string
	timeout time.Duration
	mu      sync.Mutex
	now     func() time.Time
}

func NewFileLedger(path string, timeout time.Duration) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger dir: %w", err)
	}
	return &FileLedger{path: path, timeout: timeout, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (l *FileLedger) Path() string { return l.path }

func (l *FileLedger) Append(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	line, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open append: %w", err)
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Str("path", l.path).Msg("close ledger after append")
		}
	}(f)

	if err := lockFile(ctx, f, unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock append: %w", err)
	}
	defer unlockFile(f)

	// One write per record keeps lines whole under O_APPEND.
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write append: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync append: %w", err)
	}
	return nil
}

func (l *FileLedger) Scan(ctx context.Context, filter string) (ScanResult, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ScanResult{Missing: true}, nil
	}
	if err != nil {
		return ScanResult{}, fmt.Errorf("open read: %w", err)
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Str("path", l.path).Msg("close ledger after scan")
		}
	}(f)

	if err := lockFile(ctx, f, unix.LOCK_SH); err != nil {
		return ScanResult{}, fmt.Errorf("lock read: %w", err)
	}
	defer unlockFile(f)

	needle := strings.ToLower(filter)
	var res ScanResult
	sc := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	sc.Buffer(buf, 10*1024*1024)
	for n := 1; sc.Scan(); n++ {
		if err := ctx.Err(); err != nil {
			return ScanResult{}, err
		}
		line := sc.Text()
		if line == "" {
			continue
		}
		// Each line is decoded on its own so a broken one costs only itself.
		row, err := csv.NewReader(strings.NewReader(line)).Read()
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				err = pe.Err
			}
			res.Malformed = append(res.Malformed, &DecodeError{Line: n, Err: err})
			continue
		}
		rec, err := DecodeRecord(row)
		if err != nil {
			res.Malformed = append(res.Malformed, &DecodeError{Line: n, Err: err})
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(rec.EventTitle), needle) {
			continue
		}
		res.Records = append(res.Records, rec)
	}
	if err := sc.Err(); err != nil {
		return ScanResult{}, fmt.Errorf("scan: %w", err)
	}
	return res, nil
}

func (l *FileLedger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}

// lockFile polls a non-blocking flock until it succeeds or ctx is done.
func lockFile(ctx context.Context, f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func unlockFile(f *os.File) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		log.Warn().Err(err).Str("path", f.Name()).Msg("unlock ledger")
	}
}
