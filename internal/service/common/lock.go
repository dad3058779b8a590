package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
	"github.com/oshokin/iso-verifier/internal/logger"
)

// lockLifetime is the fallback staleness window used when the lock holder
// cannot be identified by PID.
const lockLifetime = 30 * time.Second

// errStageLocked is returned when another invocation of the stage holds the lock.
var errStageLocked = errors.New("stage is already running")

// StageLock is an advisory per-stage lock file in the working directory.
// The file records the holder PID; a lock whose process is gone (or whose
// file is over-age when the PID is unreadable) is considered stale and broken.
type StageLock struct {
	// path is the on-disk location of the lock file.
	path string
}

// NewStageLock creates the lock guarding one stage in the provided directory.
func NewStageLock(dir string, step pipeline.Step) *StageLock {
	return &StageLock{
		path: filepath.Join(dir, fmt.Sprintf("%s.lock", step)),
	}
}

// Acquire takes the stage lock, breaking a stale one if needed.
func (l *StageLock) Acquire(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := fmt.Fprintf(file, "%d\n", os.Getpid())
			if cerr := file.Close(); werr == nil && cerr != nil {
				werr = cerr
			}

			if werr != nil {
				_ = os.Remove(l.path)

				return fmt.Errorf("write stage lock: %w", werr)
			}

			return nil
		}

		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create stage lock: %w", err)
		}

		if !l.isStale(ctx) {
			return fmt.Errorf("%s: %w", l.path, errStageLocked)
		}

		logger.WarnKV(ctx, "Breaking stale stage lock", "path", l.path)

		if err = os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale stage lock: %w", err)
		}
	}

	return fmt.Errorf("%s: %w", l.path, errStageLocked)
}

// Release drops the lock. Safe to call when the lock is already gone.
func (l *StageLock) Release(ctx context.Context) {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove stage lock", "path", l.path, "error", err)
	}
}

// isStale reports whether the current lock file belongs to a dead holder.
func (l *StageLock) isStale(ctx context.Context) bool {
	contents, err := os.ReadFile(l.path)
	if err != nil {
		// Racing removal by the holder counts as stale; the retry will re-create it.
		return errors.Is(err, os.ErrNotExist)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		info, statErr := os.Stat(l.path)
		if statErr != nil {
			return true
		}

		return time.Since(info.ModTime()) > lockLifetime
	}

	alive, err := isProcessAlive(pid)
	if err != nil {
		logger.WarnKV(ctx, "Unable to probe lock holder, assuming it is alive",
			"pid", pid, "error", err)

		return false
	}

	return !alive
}

// isProcessAlive checks the process table for the provided PID.
func isProcessAlive(pid int) (bool, error) {
	processList, err := ps.Processes()
	if err != nil {
		return false, err
	}

	for _, process := range processList {
		if process.Pid() == pid {
			return true, nil
		}
	}

	return false, nil
}
