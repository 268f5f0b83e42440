// Package config loads synapse's startup manifest (which services to
// install, their properties and declared priority) from YAML and,
// optionally, watches it for edits, pushing a ManifestChangedEvent back
// onto a DependencyManager's queue the same way the teacher's CertWatcher
// reloads certificates on write (internal/teleport/watcher.go) but
// generalized from a fixed cert/key/CA triple to one arbitrary manifest
// path (SPEC_FULL.md §3 "Configuration").
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"synapse/internal/event"
	"synapse/internal/service"
	"synapse/pkg/ids"
	"synapse/pkg/logging"
)

// ServiceSpec is one entry in a Manifest: the static description of a
// service to install at startup.
type ServiceSpec struct {
	Name       string              `yaml:"name"`
	Type       string              `yaml:"type"`
	Priority   uint64              `yaml:"priority"`
	Properties service.Properties  `yaml:"properties"`
	Provides   []string            `yaml:"provides"`
	Requires   []RequirementSpec   `yaml:"requires"`
}

// RequirementSpec declares one dependency edge a manifest-defined service
// needs. Load only parses it; InterfaceHash resolves the interface name on
// each call, and manifest.Installer does not declare these edges on the
// services it installs.
type RequirementSpec struct {
	Interface     string `yaml:"interface"`
	AllowMultiple bool   `yaml:"allow_multiple"`
}

// Manifest is the root of synapse's startup configuration document.
type Manifest struct {
	Services []ServiceSpec `yaml:"services"`
}

// Load reads, templates, and parses a manifest from path. The raw bytes are
// first run through text/template with the sprig function library plus an
// .Env map of the process's environment, so one manifest file can vary
// properties per deployment (e.g. `{{ env "REDIS_ADDR" | default "localhost:6379" }}`)
// the same way the teacher's Helm charts template values before the YAML
// parse, one layer further down the stack.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	rendered, err := renderManifestTemplate(filepath.Base(path), raw)
	if err != nil {
		return nil, fmt.Errorf("config: template %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(rendered, &m); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &m, nil
}

// renderManifestTemplate executes raw as a Go template with sprig's
// function set and an .Env lookup map. A manifest with no template actions
// passes through unchanged.
func renderManifestTemplate(name string, raw []byte) ([]byte, error) {
	tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(string(raw))
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{"Env": env}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// InterfaceHash resolves this requirement's declared interface name to its
// stable hash.
func (r RequirementSpec) InterfaceHash() ids.InterfaceHash {
	return ids.HashInterfaceName(r.Interface)
}

// DefaultDebounce matches the source watcher's debounce window, reused
// here so rapid successive manifest writes collapse into one reload.
const DefaultDebounce = 500 * time.Millisecond

// PushFunc is whatever accepts the ManifestChangedEvent once a reload is
// due; depmanager.Manager.PushEvent satisfies it.
type PushFunc func(event.Event)

// Watcher observes a manifest file for changes and pushes a
// ManifestChangedEvent at PriorityInternal once changes settle, falling
// back to polling if fsnotify cannot watch the path (grounded on
// internal/teleport/watcher.go's fsnotify-with-polling-fallback shape).
type Watcher struct {
	path     string
	push     PushFunc
	origin   ids.ServiceID
	debounce time.Duration

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	fsWatcher *fsnotify.Watcher

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher constructs a Watcher for path. Events are pushed as if
// originating from origin.
func NewWatcher(path string, origin ids.ServiceID, push PushFunc) *Watcher {
	return &Watcher{path: path, origin: origin, push: push, debounce: DefaultDebounce}
}

// Start begins watching. It is a no-op if already running.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.stopCh = make(chan struct{})
	w.running = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warnf("config: fsnotify unavailable, falling back to polling: %v", err)
		go w.pollForChanges()
		return nil
	}
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		logging.Warnf("config: failed to watch %s, falling back to polling: %v", dir, err)
		watcher.Close()
		go w.pollForChanges()
		return nil
	}
	w.fsWatcher = watcher
	events, errs := watcher.Events, watcher.Errors
	go w.processEvents(events, errs)
	return nil
}

func (w *Watcher) processEvents(events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-w.stopCh:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if filepath.Base(e.Name) != filepath.Base(w.path) {
				continue
			}
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-errs:
			if !ok {
				return
			}
			logging.Warnf("config: fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) pollForChanges() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	var lastMod time.Time
	if info, err := os.Stat(w.path); err == nil {
		lastMod = info.ModTime()
	}
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				w.scheduleReload()
			}
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, func() {
		w.push(event.NewManifestChangedEvent(w.origin, w.path))
	})
}

// Stop halts the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
		w.fsWatcher = nil
	}
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
