package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/vk/perceptgo/internal/config"
	"github.com/vk/perceptgo/internal/ctxlog"
)

// Standard categories used by the orchestrator. Plugins may register
// additional categories; the orchestrator only ever looks types up through
// descriptors it finds in configuration.
const (
	CategoryDataset     = "dataset"
	CategoryTransform   = "transform"
	CategoryBackbone    = "backbone"
	CategoryHead        = "head"
	CategoryLoss        = "loss"
	CategoryOptimizer   = "optimizer"
	CategoryScheduler   = "scheduler"
	CategoryMetric      = "metric"
	CategoryInitializer = "initializer"
)

// Factory holds the compiled Go parts of one registered type.
type Factory struct {
	// NewArgs returns a pointer to a fresh, cfg-tagged args struct with
	// defaults preset. Nil means the type takes no arguments.
	NewArgs func() any
	// Build instantiates the live object from decoded args.
	Build func(ctx context.Context, args any) (any, error)
}

// Module is the interface all plugin packages implement to be registered.
type Module interface {
	Register(r *Registry) error
}

// Registry holds the factory table for a single application instance.
type Registry struct {
	factories map[string]map[string]*Factory
	sealed    bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{factories: make(map[string]map[string]*Factory)}
}

// Register adds a factory under (category, typeName). It fails with
// *DuplicateRegistrationError on key reuse and refuses writes after Seal.
func (r *Registry) Register(category, typeName string, f *Factory) error {
	if r.sealed {
		return fmt.Errorf("registry: sealed, cannot register %s/%s", category, typeName)
	}
	if f == nil || f.Build == nil {
		return fmt.Errorf("registry: nil factory for %s/%s", category, typeName)
	}
	byType, ok := r.factories[category]
	if !ok {
		byType = make(map[string]*Factory)
		r.factories[category] = byType
	}
	if _, exists := byType[typeName]; exists {
		return &DuplicateRegistrationError{Category: category, Type: typeName}
	}
	byType[typeName] = f
	return nil
}

// MustRegister is Register for init-time wiring, where a duplicate is a
// programmer error.
func (r *Registry) MustRegister(category, typeName string, f *Factory) {
	if err := r.Register(category, typeName, f); err != nil {
		panic(err)
	}
}

// Seal freezes the registry. All registration happens before workers start;
// after Seal the table is read-only and lock-free reads are safe.
func (r *Registry) Seal() {
	r.sealed = true
}

// Types lists the registered type names of a category, sorted.
func (r *Registry) Types(category string) []string {
	byType := r.factories[category]
	out := make([]string, 0, len(byType))
	for name := range byType {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build instantiates the object a descriptor names: it looks up the factory,
// decodes the descriptor's args into the factory's args struct, and calls
// the factory. Unknown types are *UnknownTypeError; malformed args are
// *config.ConfigError.
func (r *Registry) Build(ctx context.Context, desc Descriptor) (any, error) {
	factory, ok := r.factories[desc.Category][desc.Type]
	if !ok {
		return nil, &UnknownTypeError{Category: desc.Category, Type: desc.Type, Known: r.Types(desc.Category)}
	}

	var args any
	if factory.NewArgs != nil {
		args = factory.NewArgs()
		declared := desc.Args
		if declared == nil {
			declared = config.Node{}
		}
		if err := config.Decode(declared, args); err != nil {
			return nil, fmt.Errorf("building %s/%s: %w", desc.Category, desc.Type, err)
		}
	}

	ctxlog.FromContext(ctx).Debug("Building module.", "category", desc.Category, "type", desc.Type)
	obj, err := factory.Build(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("building %s/%s: %w", desc.Category, desc.Type, err)
	}
	return obj, nil
}

// Validate performs a startup sanity pass over every registered factory:
// args constructors must produce pointers to structs. This surfaces wiring
// mistakes before any worker starts.
func (r *Registry) Validate() error {
	for category, byType := range r.factories {
		for typeName, f := range byType {
			if f.NewArgs == nil {
				continue
			}
			args := f.NewArgs()
			rv := reflect.ValueOf(args)
			if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
				return fmt.Errorf("registry: %s/%s: NewArgs must return a pointer to struct, got %T", category, typeName, args)
			}
		}
	}
	return nil
}
