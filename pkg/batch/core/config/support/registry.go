package support

import (
	"sort"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	jsl "github.com/tigerroll/chunkbatch/pkg/batch/core/config/jsl"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// ComponentRegistry resolves JSL component references to built components.
type ComponentRegistry struct {
	config   *config.Config
	builders map[string]jsl.ComponentBuilder
}

// ComponentRegistryParams collects the registrations of the "components" group.
type ComponentRegistryParams struct {
	fx.In
	Config        *config.Config
	Registrations []jsl.ComponentRegistration `group:"components"`
}

// NewComponentRegistry creates a registry holding every registration of p.
func NewComponentRegistry(p ComponentRegistryParams) (*ComponentRegistry, error) {
	r := &ComponentRegistry{config: p.Config, builders: make(map[string]jsl.ComponentBuilder)}
	for _, reg := range p.Registrations {
		if err := r.Register(reg.Ref, reg.Builder); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds builder under ref. A ref can be registered once.
func (r *ComponentRegistry) Register(ref string, builder jsl.ComponentBuilder) error {
	if ref == "" || builder == nil {
		return exception.NewBatchError(exception.KindConfiguration, module, "component registration requires a ref and a builder", nil)
	}
	if _, exists := r.builders[ref]; exists {
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "component '%s' is already registered", ref)
	}
	r.builders[ref] = builder
	return nil
}

// Has reports whether ref is registered.
func (r *ComponentRegistry) Has(ref string) bool {
	_, ok := r.builders[ref]
	return ok
}

// Refs returns the registered references in order.
func (r *ComponentRegistry) Refs() []string {
	refs := make([]string, 0, len(r.builders))
	for ref := range r.builders {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Build creates a new instance of the component ref points to.
func (r *ComponentRegistry) Build(ref jsl.ComponentRef) (interface{}, error) {
	builder, ok := r.builders[ref.Ref]
	if !ok {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "component '%s' is not registered", ref.Ref)
	}
	props := ref.Properties
	if props == nil {
		props = map[string]string{}
	}
	c, err := builder(r.config, props)
	if err != nil {
		return nil, exception.NewBatchError(exception.KindConfiguration, module, "failed to build component '"+ref.Ref+"'", err)
	}
	if c == nil {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "component '%s' built nil", ref.Ref)
	}
	return c, nil
}

// buildAs builds ref and asserts the result implements T.
func buildAs[T any](r *ComponentRegistry, ref jsl.ComponentRef, role string) (T, error) {
	var zero T
	c, err := r.Build(ref)
	if err != nil {
		return zero, err
	}
	v, ok := c.(T)
	if !ok {
		return zero, exception.NewBatchErrorf(exception.KindConfiguration, module, "component '%s' (%T) cannot serve as %s", ref.Ref, c, role)
	}
	return v, nil
}

func buildAll[T any](r *ComponentRegistry, refs []jsl.ComponentRef, role string) ([]T, error) {
	out := make([]T, 0, len(refs))
	for _, ref := range refs {
		v, err := buildAs[T](r, ref, role)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
