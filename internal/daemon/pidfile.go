package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrAlreadyRunning = errors.New("sqlgate daemon already running")

// PIDFile guards a single daemon per socket. Stale files left by a dead
// process are replaced.
type PIDFile struct {
	path string
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Acquire writes the current pid, failing with ErrAlreadyRunning when the
// recorded process is still alive.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("failed to create pid dir: %w", err)
	}

	pid, err := p.Read()
	if err == nil && pid != 0 && pid != os.Getpid() && processExists(pid) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	return p.write(os.Getpid())
}

func (p *PIDFile) write(pid int) error {
	if info, err := os.Lstat(p.path); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("refusing to use pid file %s: is a symlink", p.path)
		}
		if err := os.Remove(p.path); err != nil {
			return fmt.Errorf("failed to remove stale pid file: %w", err)
		}
	}

	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create pid file: %w", err)
	}
	defer f.Close()

	_, err = f.WriteString(strconv.Itoa(pid))
	return err
}

// Read returns 0 when no pid file exists.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(content)
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", p.path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s: %d", p.path, pid)
	}
	return pid, nil
}

func (p *PIDFile) Running() bool {
	pid, err := p.Read()
	if err != nil || pid == 0 {
		return false
	}
	return processExists(pid)
}

// Release removes the file only if it still holds our pid.
func (p *PIDFile) Release() error {
	pid, err := p.Read()
	if err != nil || pid != os.Getpid() {
		return err
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (p *PIDFile) Path() string {
	return p.path
}
