package command

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Whitelist is a snapshot of the script filenames permitted for execution.
// It only changes on an explicit Refresh.
type Whitelist struct {
	dir   string
	mu    sync.RWMutex
	names map[string]struct{}
}

// Snapshot lists the regular files in dir.
func Snapshot(dir string) (*Whitelist, error) {
	w := &Whitelist{dir: dir}
	if err := w.Refresh(); err != nil {
		return nil, err
	}
	return w, nil
}

// Refresh re-scans the script directory and replaces the snapshot.
func (w *Whitelist) Refresh() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scan script dir %s: %w", w.dir, err)
	}

	names := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		// Stat follows symlinks so linked scripts are listed too.
		info, err := os.Stat(filepath.Join(w.dir, entry.Name()))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		names[entry.Name()] = struct{}{}
	}

	w.mu.Lock()
	w.names = names
	w.mu.Unlock()
	return nil
}

// Resolve returns the directory-qualified path for an exact filename match.
func (w *Whitelist) Resolve(name string) (string, bool) {
	if name == "" || strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return "", false
	}

	w.mu.RLock()
	_, ok := w.names[name]
	w.mu.RUnlock()
	if !ok {
		return "", false
	}
	return filepath.Join(w.dir, name), true
}

// Names returns the snapshot in sorted order.
func (w *Whitelist) Names() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, 0, len(w.names))
	for name := range w.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (w *Whitelist) Dir() string {
	return w.dir
}
