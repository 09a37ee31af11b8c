package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	lockDirName   = ".job.lock"
	lockOwnerFile = "owner.json"
)

// ErrLocked is returned when another run holds the workspace.
var ErrLocked = errors.New("workspace is locked")

type Lock struct {
	lockDir string
}

type lockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// Lock takes the workspace lock. A lock left by a dead process on this host
// is reclaimed.
func (w *Workspace) Lock() (Lock, error) {
	lockDir := filepath.Join(w.dir, lockDirName)
	for attempt := 0; attempt < 2; attempt++ {
		err := os.Mkdir(lockDir, 0o755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return Lock{}, fmt.Errorf("acquire lock for %s: %w", w.dir, err)
		}

		ownerPath := filepath.Join(lockDir, lockOwnerFile)
		var owner lockOwner
		readErr := ReadJSON(ownerPath, &owner)
		if readErr == nil && attempt == 0 && isStale(owner) {
			_ = os.Remove(ownerPath)
			_ = os.Remove(lockDir)
			continue
		}
		if readErr == nil && owner.PID > 0 {
			return Lock{}, fmt.Errorf("%w: %s (pid=%d created_at=%s host=%s)",
				ErrLocked, w.dir, owner.PID, owner.CreatedAt, owner.Hostname)
		}
		return Lock{}, fmt.Errorf("%w: %s", ErrLocked, w.dir)
	}

	owner := lockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(filepath.Join(lockDir, lockOwnerFile), owner); err != nil {
		_ = os.Remove(lockDir)
		return Lock{}, fmt.Errorf("write lock owner for %s: %w", w.dir, err)
	}
	return Lock{lockDir: lockDir}, nil
}

func (l Lock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, lockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.lockDir, err)
	}
	return nil
}

func isStale(owner lockOwner) bool {
	if owner.PID <= 0 || owner.Hostname != hostnameOrUnknown() {
		return false
	}
	if owner.PID == os.Getpid() {
		return false
	}
	p, err := os.FindProcess(owner.PID)
	if err != nil {
		return true
	}
	return p.Signal(syscall.Signal(0)) != nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
