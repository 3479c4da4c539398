// Package watch feeds CaptureService from a set of watched directories:
// any created or modified file under a watched root, matching a configured
// extension, is read and captured with source="file-watch".
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/subcog/subcog/internal/authctx"
	"github.com/subcog/subcog/internal/capture"
	"github.com/subcog/subcog/internal/models"
)

const defaultDebounce = 400 * time.Millisecond

// maxWatchedFileBytes bounds how much of a changed file is read into a
// single capture; larger files are truncated rather than skipped.
const maxWatchedFileBytes = 200_000

// Service watches a set of root directories and calls CaptureService.Capture
// for every file event that survives debouncing and extension filtering.
type Service struct {
	dirs       []string
	extensions []string
	recursive  bool
	debounce   time.Duration

	capture *capture.Service
	scope   models.Namespace
	domain  models.Domain

	fs *fsnotify.Watcher

	mu          sync.Mutex
	roots       []string
	rootPaths   map[string][]string
	pending     map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a logger for debug-level watch events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithDebounce overrides the default 400ms write-settling window.
func WithDebounce(d time.Duration) Option {
	return func(s *Service) { s.debounce = d }
}

// New constructs a watch Service. dirs are the initial roots; extensions
// filters which files trigger a capture (empty means every file).
// Every captured memory is tagged with scope/domain and Source="file-watch".
func New(dirs, extensions []string, recursive bool, svc *capture.Service, scope models.Namespace, domain models.Domain, opts ...Option) *Service {
	s := &Service{
		dirs:       dirs,
		extensions: extensions,
		recursive:  recursive,
		debounce:   defaultDebounce,
		capture:    svc,
		scope:      scope,
		domain:     domain,
		rootPaths:  make(map[string][]string),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins watching and runs until ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.fs = w
	s.started = true
	for _, root := range s.dirs {
		if err := s.addRootLocked(root); err != nil {
			_ = s.fs.Close()
			s.fs = nil
			s.started = false
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()
	go s.loop(ctx)
	return nil
}

func (s *Service) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.done:
			return
		case ev, ok := <-s.fs.Events:
			if !ok {
				return
			}
			s.onEvent(ev)
		case err, ok := <-s.fs.Errors:
			if !ok {
				return
			}
			if err != nil && s.logger != nil {
				s.logger.Debug("watch error", zap.Error(err))
			}
		}
	}
}

func (s *Service) onEvent(ev fsnotify.Event) {
	path := ev.Name
	if !s.underRoot(path) {
		return
	}
	switch ev.Op {
	case fsnotify.Create, fsnotify.Write:
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			s.onNewDirectory(path)
			return
		}
		if matchExtension(path, s.extensions) {
			s.scheduleCapture(path)
		}
	case fsnotify.Remove:
		s.cancelPending(path)
	}
}

func (s *Service) onNewDirectory(dir string) {
	s.mu.Lock()
	recursive := s.recursive
	w := s.fs
	s.mu.Unlock()
	if w == nil {
		return
	}
	if recursive {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				_ = w.Add(path)
			}
			return nil
		})
	} else {
		_ = w.Add(dir)
	}
	s.syncDirectory(dir)
}

func (s *Service) scheduleCapture(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[path]; ok {
		t.Stop()
	}
	s.pending[path] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.pending, path)
		s.mu.Unlock()
		s.captureFile(path)
	})
}

func (s *Service) cancelPending(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[path]; ok {
		t.Stop()
		delete(s.pending, path)
	}
}

// captureFile reads path and runs it through CaptureService, tagging the
// result with its originating project/branch metadata where derivable.
func (s *Service) captureFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("watch: read failed", zap.String("path", path), zap.Error(err))
		}
		return
	}
	if len(data) > maxWatchedFileBytes {
		data = data[:maxWatchedFileBytes]
	}
	if strings.TrimSpace(string(data)) == "" {
		return
	}

	req := capture.Request{
		Content:   string(data),
		Namespace: s.scope,
		Domain:    s.domain,
		Source:    "file-watch",
		File:      path,
	}
	result, err := s.capture.Capture(context.Background(), authctx.Local(), req)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("watch: capture failed", zap.String("path", path), zap.Error(err))
		}
		return
	}
	if s.logger != nil {
		s.logger.Debug("watch: captured", zap.String("path", path), zap.String("memory_id", result.MemoryID), zap.Bool("skipped", result.Skipped))
	}
}

func (s *Service) underRoot(path string) bool {
	s.mu.Lock()
	roots := append([]string(nil), s.roots...)
	s.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		rc := filepath.Clean(root)
		if rc == clean || isWithin(rc, clean) {
			return true
		}
	}
	return false
}

func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (s *Service) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(root, 0755); mkErr != nil {
				return mkErr
			}
		} else {
			return err
		}
	}
	var added []string
	if s.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if err := s.fs.Add(path); err != nil {
				return err
			}
			added = append(added, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := s.fs.Add(root); err != nil {
			return err
		}
		added = append(added, root)
	}
	s.rootPaths[root] = added
	s.roots = append(s.roots, root)
	return nil
}

func (s *Service) syncDirectory(root string) {
	s.mu.Lock()
	exts := append([]string(nil), s.extensions...)
	s.mu.Unlock()
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if matchExtension(path, exts) {
			s.captureFile(path)
		}
		return nil
	})
}

// AddDirectory starts watching an additional root; when syncExisting is
// true every matching file already present is captured immediately.
func (s *Service) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.fs == nil {
		s.mu.Unlock()
		return nil
	}
	for _, r := range s.roots {
		if filepath.Clean(r) == filepath.Clean(abs) {
			s.mu.Unlock()
			return nil
		}
	}
	err = s.addRootLocked(abs)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if syncExisting {
		go s.syncDirectory(abs)
	}
	return nil
}

// RemoveDirectory stops watching root. Already-captured memories are
// untouched.
func (s *Service) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fs == nil {
		return nil
	}
	idx := -1
	for i, r := range s.roots {
		if filepath.Clean(r) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, p := range s.rootPaths[abs] {
		_ = s.fs.Remove(p)
	}
	delete(s.rootPaths, abs)
	s.roots = append(s.roots[:idx], s.roots[idx+1:]...)
	return nil
}

// Directories returns a snapshot of the currently watched roots.
func (s *Service) Directories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.roots...)
}

// SyncExistingFiles captures every matching file already present under
// each watched root; call once after Start to pick up pre-existing state.
func (s *Service) SyncExistingFiles() {
	s.mu.Lock()
	roots := append([]string(nil), s.roots...)
	s.mu.Unlock()
	for _, root := range roots {
		s.syncDirectory(root)
	}
}

// Stop halts the watcher and releases its fsnotify handle.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started || s.fs == nil {
		s.mu.Unlock()
		return
	}
	for path, t := range s.pending {
		t.Stop()
		delete(s.pending, path)
	}
	_ = s.fs.Close()
	s.fs = nil
	s.started = false
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.done) })
}
