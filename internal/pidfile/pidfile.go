// Package pidfile writes and removes the ccrouter server's PID file, so an
// operator (or an init system) can find the running process without
// parsing `ps` output.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Pidfile is a PID file at a fixed path.
type Pidfile struct {
	path string
}

// New returns a Pidfile for path. Nothing touches disk until Write.
func New(path string) *Pidfile {
	return &Pidfile{path: path}
}

// Write creates the containing directory if needed and writes the current
// process's PID to the file, overwriting any existing content.
func (p *Pidfile) Write() error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating pidfile directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("writing pidfile: %w", err)
	}
	return nil
}

// Read returns the PID recorded in the file.
func (p *Pidfile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("reading pidfile: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in pidfile: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file. A missing file is not an error.
func (p *Pidfile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pidfile: %w", err)
	}
	return nil
}

// Path returns the configured file path.
func (p *Pidfile) Path() string {
	return p.path
}
