package storage

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// LocalEvent is a filesystem change the Watcher observed, translated into
// the shape the reconciler's local-event handlers expect.
type LocalEvent struct {
	Path  string
	IsDir bool
	Kind  LocalEventKind
}

// LocalEventKind enumerates the filesystem changes a Watcher reports.
type LocalEventKind int

const (
	LocalCreate LocalEventKind = iota
	LocalModify
	LocalDelete
)

// LocalEventHandler receives translated filesystem events. Reconciler
// implements this.
type LocalEventHandler interface {
	OnLocalEvent(LocalEvent)
}

// Watcher monitors a workspace directory tree with fsnotify, respecting
// gitignore-style rules, and forwards create/modify/delete events to a
// LocalEventHandler.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   LocalEventHandler
	log       *slog.Logger
	stopCh    chan struct{}
	ignore    []string
	root      string
}

// New creates a Watcher that reports events to handler.
func New(handler LocalEventHandler, log *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		log:       log,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start begins watching root for changes, recursively.
func (w *Watcher) Start(root string) error {
	w.root = root
	w.loadIgnoreRules()

	go w.loop()

	return filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if w.shouldIgnore(path, true) {
				return filepath.SkipDir
			}
			return w.fsWatcher.Add(path)
		}
		return nil
	})
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) loadIgnoreRules() {
	w.ignore = []string{".git/", ".carya/", ".obsidian/", "node_modules/"}

	f, err := os.Open(filepath.Join(w.root, ".gitignore"))
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			w.ignore = append(w.ignore, line)
		}
	}
}

func (w *Watcher) shouldIgnore(path string, isDir bool) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, rule := range w.ignore {
		if w.matches(rel, rule, isDir) {
			return true
		}
	}
	return false
}

func (w *Watcher) matches(path, rule string, isDir bool) bool {
	if strings.HasSuffix(rule, "/") {
		if !isDir {
			return false
		}
		rule = strings.TrimSuffix(rule, "/")
	}
	if ok, _ := filepath.Match(rule, path); ok {
		return true
	}
	return slices.Contains(strings.Split(path, "/"), rule)
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Remove != 0 {
		w.fsWatcher.Remove(ev.Name)
		rel, err := filepath.Rel(w.root, ev.Name)
		if err != nil {
			return
		}
		w.handler.OnLocalEvent(LocalEvent{Path: filepath.ToSlash(rel), Kind: LocalDelete})
		return
	}

	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	fi, err := os.Stat(ev.Name)
	if err != nil {
		return
	}

	if fi.IsDir() {
		if ev.Op&fsnotify.Create != 0 && !w.shouldIgnore(ev.Name, true) {
			w.fsWatcher.Add(ev.Name)
			rel, err := filepath.Rel(w.root, ev.Name)
			if err == nil {
				w.handler.OnLocalEvent(LocalEvent{Path: filepath.ToSlash(rel), IsDir: true, Kind: LocalCreate})
			}
		}
		return
	}

	if w.shouldIgnore(ev.Name, false) || !w.shouldTrack(ev.Name) {
		return
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	kind := LocalModify
	if ev.Op&fsnotify.Create != 0 {
		kind = LocalCreate
	}
	w.handler.OnLocalEvent(LocalEvent{Path: filepath.ToSlash(rel), Kind: kind})
}

func (w *Watcher) shouldTrack(path string) bool {
	base := filepath.Base(path)
	if strings.Contains(base, ".tmp") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swo") ||
		strings.HasPrefix(base, ".#") {
		return false
	}
	return true
}
