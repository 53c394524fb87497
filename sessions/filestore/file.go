// Package filestore persists the session as a JSON document on disk so that
// successive CLI invocations share one login.
//
// The decoded session is cached in memory. An fsnotify watcher on the parent
// directory drops the cache whenever the file is written, renamed or removed
// by anyone, so a logout performed by another process is observed without
// re-reading the file on every request. When the watcher can't be started the
// store reads the file on every Get.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/remitadmin-go/sessions"
)

// Option customizes a Store.
type Option func(*Store)

// WithLogger overrides the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithoutWatch disables the fsnotify watcher; every Get reads the file.
func WithoutWatch() Option {
	return func(s *Store) { s.watch = false }
}

// Store implements sessions.Store on top of a single file.
type Store struct {
	path  string
	log   *slog.Logger
	watch bool

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex

	cacheMu sync.RWMutex
	cached  *sessions.Session
	valid   bool
	// gen is bumped by every invalidation and write; a read started under
	// an older generation is not cached.
	gen uint64

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// New opens (without creating) the session file at path. The parent
// directory is created with 0700 permissions if missing.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("filestore: path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("filestore: resolve path: %w", err)
	}
	s := &Store{path: abs, log: slog.Default(), watch: true, done: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	if s.watch {
		s.startWatcher()
	}
	return s, nil
}

// Path returns the absolute path of the session file.
func (s *Store) Path() string { return s.path }

// Close stops the watcher.
func (s *Store) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Store) startWatcher() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Debug("filestore.watch.unavailable", slog.String("err", err.Error()))
		return
	}
	// Watch the directory: atomic replace via rename drops a watch placed on
	// the file itself.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		s.log.Debug("filestore.watch.add.fail", slog.String("err", err.Error()))
		_ = w.Close()
		return
	}
	s.watcher = w
	s.wg.Add(1)
	go s.runWatcher(w)
}

func (s *Store) runWatcher(w *fsnotify.Watcher) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.invalidate()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Debug("filestore.watch.error", slog.String("err", err.Error()))
			s.invalidate()
		}
	}
}

func (s *Store) invalidate() {
	s.cacheMu.Lock()
	s.gen++
	s.valid = false
	s.cached = nil
	s.cacheMu.Unlock()
}

// remember caches a session read from disk, unless the cache moved on since
// generation gen was observed.
func (s *Store) remember(sess *sessions.Session, gen uint64) {
	if s.watcher == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.gen != gen {
		return
	}
	s.cached = sess.Clone()
	s.valid = true
}

// wrote caches what this process just wrote and starts a new generation.
func (s *Store) wrote(sess *sessions.Session) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gen++
	if s.watcher == nil {
		return
	}
	s.cached = sess.Clone()
	s.valid = true
}

func (s *Store) Get(ctx context.Context) (*sessions.Session, error) {
	s.cacheMu.RLock()
	if s.valid {
		cp := s.cached.Clone()
		s.cacheMu.RUnlock()
		return cp, nil
	}
	gen := s.gen
	s.cacheMu.RUnlock()

	sess, err := s.read()
	if err != nil {
		return nil, err
	}
	s.remember(sess, gen)
	return sess, nil
}

func (s *Store) Set(ctx context.Context, sess *sessions.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(sess); err != nil {
		return err
	}
	s.wrote(sess)
	return nil
}

func (s *Store) SetAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.read()
	if err != nil {
		return err
	}
	if sess == nil {
		return sessions.ErrNoSession
	}
	sess.AccessToken = token
	if err := s.write(sess); err != nil {
		return err
	}
	s.wrote(sess)
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore: remove: %w", err)
	}
	s.wrote(nil)
	return nil
}

func (s *Store) read() (*sessions.Session, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read: %w", err)
	}
	var sess sessions.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", s.path, err)
	}
	return &sess, nil
}

// write replaces the file atomically: temp file in the same directory, then
// rename over the target.
func (s *Store) write(sess *sessions.Session) error {
	b, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: chmod: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("filestore: rename: %w", err)
	}
	return nil
}

var _ sessions.Store = (*Store)(nil)
