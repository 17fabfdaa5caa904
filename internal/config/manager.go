package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Jedidiah5/past-time/pkg/logx"
)

// Manager watches the settings file and publishes validated reloads to
// subscribers. A broken edit is logged and skipped; the last good
// settings stay in effect.
type Manager struct {
	path string
	log  logx.Logger

	mu  sync.RWMutex
	cur Settings

	subsMu sync.Mutex
	subs   []chan Settings
}

func NewManager(path string, initial Settings, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{path: path, cur: initial, log: log}
}

func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

func (m *Manager) Subscribe(buffer int) chan Settings {
	ch := make(chan Settings, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) publish(s Settings) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		// If a subscriber is behind, drop its stale update; only the
		// latest settings matter.
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Watch blocks until ctx is done, reloading on file change events.
// Reloads are debounced so editors that write in several steps trigger
// one parse, not five.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	// Watch the directory, not the file: editors that replace the file
	// (rename + create) would otherwise silently detach the watch.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		return err
	}

	file := filepath.Base(m.path)

	var timerMu sync.Mutex
	var timer *time.Timer
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() { m.reload() })
	}

	m.log.Info("watching settings file", logx.String("path", m.path))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("settings watcher error", logx.Err(err))
		}
	}
}

func (m *Manager) reload() {
	s, err := Load(m.path)
	if err != nil {
		m.log.Warn("settings reload failed; keeping previous settings",
			logx.String("path", m.path), logx.Err(err))
		return
	}
	m.mu.Lock()
	unchanged := s == m.cur
	m.cur = s
	m.mu.Unlock()
	if unchanged {
		m.log.Debug("settings unchanged; skipping publish")
		return
	}
	m.log.Info("settings reloaded", logx.String("path", m.path))
	m.publish(s)
}
