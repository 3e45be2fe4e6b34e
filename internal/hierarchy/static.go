package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Tree is the on-disk shape of a static hierarchy file:
//
//	applications:
//	  platform: [payments, search]
//	  payments: [payments-api, payments-worker]
type Tree struct {
	Applications map[string][]string `yaml:"applications"`
}

// Static serves descendants from a YAML tree held in memory
type Static struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	children map[string][]string
}

// LoadStatic reads the tree at path
func LoadStatic(path string, logger *slog.Logger) (*Static, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tree, err := readTree(path)
	if err != nil {
		return nil, err
	}

	return &Static{path: path, logger: logger, children: tree.Applications}, nil
}

// NewStatic serves a fixed tree
func NewStatic(children map[string][]string) *Static {
	return &Static{logger: slog.Default(), children: children}
}

func readTree(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hierarchy file: %w", err)
	}

	var tree Tree
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse hierarchy file: %w", err)
	}
	if tree.Applications == nil {
		tree.Applications = make(map[string][]string)
	}
	return &tree, nil
}

// DescendantApplicationIDs walks the tree breadth first. Cycles are cut at
// the first revisit; the result is sorted and excludes the root.
func (s *Static) DescendantApplicationIDs(ctx context.Context, applicationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{applicationID: true}
	queue := []string{applicationID}
	var out []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, child := range s.children[current] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}

	sort.Strings(out)
	return out, nil
}

// Reload re-reads the tree file. On error the previous tree stays active.
func (s *Static) Reload() error {
	tree, err := readTree(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.children = tree.Applications
	s.mu.Unlock()
	return nil
}

// Watch reloads the tree each time the file changes. The parent directory is
// watched so saves that rename a temporary file over the tree are seen as
// well as in-place writes. It runs until ctx is cancelled.
func (s *Static) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("static hierarchy has no backing file")
	}

	target := filepath.Clean(s.path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	s.logger.Info("Watching hierarchy file", "path", s.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// Remove and Rename leave nothing to read; the Create that
			// follows an atomic save triggers the reload.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if err := s.Reload(); err != nil {
				s.logger.Error("Hierarchy reload failed, keeping previous tree", "path", s.path, "error", err)
				continue
			}
			s.logger.Info("Hierarchy reloaded", "path", s.path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("Hierarchy watcher error", "error", err)
		}
	}
}
