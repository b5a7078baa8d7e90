// Package procutil tracks the daemon process through a pid file.
package procutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned when the pid file names a live process.
var ErrAlreadyRunning = errors.New("procutil: process already running")

// ReadPIDFile returns the pid recorded in path. A missing, malformed or stale
// file yields 0 and is removed.
func ReadPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || !IsProcessAlive(pid) {
		os.Remove(path)
		return 0
	}
	return pid
}

// AcquirePIDFile records the current process in path and returns a release
// func that removes it. It fails with ErrAlreadyRunning when another live
// process holds the file.
func AcquirePIDFile(path string) (func(), error) {
	if pid := ReadPIDFile(path); pid != 0 && pid != os.Getpid() {
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("procutil: create pid directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("procutil: write pid file: %w", err)
	}
	return func() {
		if ReadPIDFile(path) == os.Getpid() {
			os.Remove(path)
		}
	}, nil
}
