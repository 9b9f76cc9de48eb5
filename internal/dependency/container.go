// Package dependency wires core helixbridge services using go.uber.org/dig.
package dependency

import (
	"log/slog"

	"go.uber.org/dig"

	"github.com/helixbridge/helixbridge/internal/builtin"
	"github.com/helixbridge/helixbridge/internal/bus"
	"github.com/helixbridge/helixbridge/internal/config"
	"github.com/helixbridge/helixbridge/internal/executor"
	"github.com/helixbridge/helixbridge/internal/registry"
	"github.com/helixbridge/helixbridge/internal/selector"
	"github.com/helixbridge/helixbridge/internal/server"
)

// Container holds the resolved core service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	store    *config.FileStore
	events   *bus.EventBus
	registry *registry.Registry
	builtins *builtin.Adapter
	manager  *server.Manager
	selector *selector.Selector
	tracker  *executor.Tracker
	router   *executor.Router
}

func (c *Container) Store() *config.FileStore     { return c.store }
func (c *Container) Events() *bus.EventBus        { return c.events }
func (c *Container) Registry() *registry.Registry { return c.registry }
func (c *Container) Builtins() *builtin.Adapter   { return c.builtins }
func (c *Container) Servers() *server.Manager     { return c.manager }
func (c *Container) Selector() *selector.Selector { return c.selector }
func (c *Container) Tracker() *executor.Tracker   { return c.tracker }
func (c *Container) Router() *executor.Router     { return c.router }

// Close tears down connections and background jobs.
func (c *Container) Close() {
	c.manager.Close()
	c.tracker.Stop()
}

// Workspace and RegistryRoot are named string types so dig can tell the two
// path parameters apart when injecting them.
type (
	Workspace    string
	RegistryRoot string
)

// New builds and wires all core services.
func New(workspace, registryRoot string) (*Container, error) {
	d := dig.New()

	if err := d.Provide(func() Workspace { return Workspace(workspace) }); err != nil {
		return nil, err
	}
	if err := d.Provide(func() RegistryRoot { return RegistryRoot(registryRoot) }); err != nil {
		return nil, err
	}
	if err := d.Provide(newStore); err != nil {
		return nil, err
	}
	if err := d.Provide(newEventBus); err != nil {
		return nil, err
	}
	if err := d.Provide(newRegistry); err != nil {
		return nil, err
	}
	if err := d.Provide(newBuiltins); err != nil {
		return nil, err
	}
	if err := d.Provide(newServerManager); err != nil {
		return nil, err
	}
	if err := d.Provide(newSelector); err != nil {
		return nil, err
	}
	if err := d.Provide(newTracker); err != nil {
		return nil, err
	}
	if err := d.Provide(newRouter); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(
		store *config.FileStore,
		events *bus.EventBus,
		reg *registry.Registry,
		builtins *builtin.Adapter,
		manager *server.Manager,
		sel *selector.Selector,
		tracker *executor.Tracker,
		router *executor.Router,
	) {
		result = &Container{
			store:    store,
			events:   events,
			registry: reg,
			builtins: builtins,
			manager:  manager,
			selector: sel,
			tracker:  tracker,
			router:   router,
		}
	})
	return result, err
}

func newStore(w Workspace) *config.FileStore {
	return config.NewFileStore(string(w))
}

func newEventBus() *bus.EventBus {
	return bus.NewEventBus()
}

// newRegistry loads the tool specification tree. A missing or unreadable
// manifest leaves the registry empty rather than failing start-up; remote
// discovery and built-ins still work without it.
func newRegistry(root RegistryRoot) *registry.Registry {
	r := registry.New(string(root))
	if err := r.Initialize(); err != nil {
		slog.Warn("registry unavailable, starting empty", "root", string(root), "err", err)
	}
	return r
}

func newBuiltins() *builtin.Adapter {
	return builtin.NewAdapter()
}

func newServerManager(store *config.FileStore, events *bus.EventBus) *server.Manager {
	return server.NewManager(store, events)
}

func newSelector(reg *registry.Registry, builtins *builtin.Adapter) *selector.Selector {
	return selector.New(reg, builtins)
}

func newTracker() *executor.Tracker {
	t := executor.NewTracker()
	t.StartJanitor()
	return t
}

func newRouter(manager *server.Manager, builtins *builtin.Adapter, tracker *executor.Tracker, reg *registry.Registry) *executor.Router {
	return executor.NewRouter(manager, builtins, tracker, reg)
}
