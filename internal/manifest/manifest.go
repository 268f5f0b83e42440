// Package manifest bridges the static YAML manifest loaded by
// internal/config to the runtime's service registry, the same
// diff-and-reconcile pattern internal/reconciler/manager.go applies to
// Kubernetes/filesystem resources: on (re)load, compare the manifest's
// named services against what's currently installed and create or stop
// whatever changed.
package manifest

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"synapse/internal/config"
	"synapse/internal/coroutine"
	"synapse/internal/event"
	"synapse/internal/service"
	"synapse/pkg/ids"
	"synapse/pkg/logging"
	"synapse/runtime"
)

// Factory constructs the AdvancedService for one manifest-declared service
// instance. props is the ServiceSpec's Properties, cloned per instance.
type Factory func(props service.Properties) (service.AdvancedService, error)

// Registry maps a ServiceSpec's Type field to the Factory that builds it.
// User code populates this before starting the Installer, the same way a
// teacher ServiceClass definition is registered before use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates typeName with factory. A later call for the same
// typeName overwrites the previous registration.
func (r *Registry) Register(typeName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = factory
}

func (r *Registry) lookup(typeName string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typeName]
	return f, ok
}

// installed tracks the service IDs the Installer itself created, keyed by
// the manifest name, so a later reconcile can tell "mine, and still
// wanted" apart from "mine, no longer wanted" apart from "not mine".
type installed struct {
	id   ids.ServiceID
	spec config.ServiceSpec
}

// Installer owns the manifest-to-service lifecycle: it loads the manifest
// once via LoadAndInstall and again every time the watcher reports a
// change (see WatchAndReconcile), reconciling the difference.
type Installer struct {
	rt       *runtime.Runtime
	registry *Registry
	origin   ids.ServiceID
	logger   logging.Logger

	mu      sync.Mutex
	current map[string]installed
}

// NewInstaller builds an Installer. origin is the ServiceID attributed to
// events the Installer itself pushes (its own manifest-owner identity).
func NewInstaller(rt *runtime.Runtime, registry *Registry, origin ids.ServiceID, logger logging.Logger) *Installer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Installer{rt: rt, registry: registry, origin: origin, logger: logger, current: make(map[string]installed)}
}

// LoadAndInstall loads the manifest at path and installs every service it
// declares, returning an error only if loading the manifest itself fails;
// individual service construction failures are logged and skipped so one
// bad entry doesn't block the rest.
func (in *Installer) LoadAndInstall(ctx context.Context, path string) error {
	m, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("manifest: load %s: %w", path, err)
	}
	in.reconcile(ctx, m)
	return nil
}

// WatchAndReconcile registers a handler that reloads and reconciles the
// manifest at path whenever a ManifestChangedEvent arrives for it.
func (in *Installer) WatchAndReconcile(path string) {
	runtime.RegisterEventHandler(in.rt, in.origin, nil, func(ctx context.Context, e *event.ManifestChangedEvent) coroutine.Behaviour {
		if e.Path != path {
			return coroutine.Continue
		}
		if err := in.LoadAndInstall(ctx, path); err != nil {
			in.logger.Error("manifest", 0, "WatchAndReconcile", "reconcile %s: %v", path, err)
		}
		return coroutine.Continue
	})
}

func (in *Installer) reconcile(ctx context.Context, m *config.Manifest) {
	in.mu.Lock()
	defer in.mu.Unlock()

	wanted := make(map[string]config.ServiceSpec, len(m.Services))
	for _, spec := range m.Services {
		wanted[spec.Name] = spec
	}

	// Stop anything we installed that's no longer in the manifest.
	for name, inst := range in.current {
		if _, ok := wanted[name]; !ok {
			in.rt.PushEvent(event.NewStopServiceEvent(in.origin, inst.id, event.PriorityDependency))
			delete(in.current, name)
		}
	}

	// Create anything new; leave unchanged entries alone (no restart on
	// identical redeclaration, mirroring the source's "idempotent install").
	// An entry whose declaration changed under the same name is stopped and
	// installed afresh.
	for name, spec := range wanted {
		if inst, ok := in.current[name]; ok {
			if reflect.DeepEqual(inst.spec, spec) {
				continue
			}
			in.rt.PushEvent(event.NewStopServiceEvent(in.origin, inst.id, event.PriorityDependency))
			delete(in.current, name)
		}
		id, err := in.install(ctx, spec)
		if err != nil {
			in.logger.Error("manifest", 0, "reconcile", "install %s: %v", name, err)
			continue
		}
		in.current[name] = installed{id: id, spec: spec}
	}
}

func (in *Installer) install(ctx context.Context, spec config.ServiceSpec) (ids.ServiceID, error) {
	factory, ok := in.registry.lookup(spec.Type)
	if !ok {
		return 0, fmt.Errorf("no factory registered for type %q", spec.Type)
	}
	props := spec.Properties.Clone()
	impl, err := factory(props)
	if err != nil {
		return 0, fmt.Errorf("construct %s: %w", spec.Type, err)
	}
	provides := make([]ids.InterfaceHash, len(spec.Provides))
	for i, name := range spec.Provides {
		provides[i] = ids.HashInterfaceName(name)
	}
	id := in.rt.CreateServiceManager(impl, spec.Name, provides, props, spec.Priority)
	return id, nil
}

// Services returns the manifest-installed service IDs keyed by name, a
// snapshot safe to range over.
func (in *Installer) Services() map[string]ids.ServiceID {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make(map[string]ids.ServiceID, len(in.current))
	for name, inst := range in.current {
		out[name] = inst.id
	}
	return out
}
