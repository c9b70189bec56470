package asic

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// ContainerFactory creates an empty container for a registered tag.
type ContainerFactory func() *Container

type registration struct {
	factory ContainerFactory
	engine  Engine
}

// Registry maps container type tags to the container implementation and the
// signature engine used for them.
//
// A Registry is not safe for mutation concurrently with signing. Register
// and ResetToDefaults belong in bootstrap or test setup code; tests that
// register custom tags use their own NewRegistry and reset it afterwards.
type Registry struct {
	entries map[DocumentType]registration
}

// NewRegistry returns a registry holding only the built-in formats.
func NewRegistry() *Registry {
	r := &Registry{}
	r.ResetToDefaults()
	return r
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() { defaultRegistry = NewRegistry() })
	return defaultRegistry
}

// Register binds tag to factory and engine, replacing any previous binding.
// A nil engine selects the XAdES engine.
func (r *Registry) Register(tag DocumentType, factory ContainerFactory, engine Engine) {
	if engine == nil {
		engine = XAdESEngine{}
	}
	r.entries[tag] = registration{factory: factory, engine: engine}
}

// ResetToDefaults drops every custom registration.
func (r *Registry) ResetToDefaults() {
	r.entries = make(map[DocumentType]registration, 3)
	for _, t := range []DocumentType{ASICE, ASICS, BDOC} {
		format := t
		r.entries[t] = registration{
			factory: func() *Container { return NewFormatContainer(format, format) },
			engine:  XAdESEngine{},
		}
	}
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() []DocumentType {
	tags := lo.Keys(r.entries)
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// NewContainer creates an empty container for tag.
func (r *Registry) NewContainer(tag DocumentType) (*Container, error) {
	reg, ok := r.entries[tag]
	if !ok || reg.factory == nil {
		return nil, NewSignatureError("create", fmt.Errorf("%w: unknown container type %q", ErrNotSupported, tag))
	}
	c := reg.factory()
	if c == nil {
		return nil, NewSignatureError("create", fmt.Errorf("%w: factory for %q returned no container", ErrNotSupported, tag))
	}
	c.registry = r
	return c, nil
}

func (r *Registry) engineFor(tag DocumentType) (Engine, error) {
	reg, ok := r.entries[tag]
	if !ok {
		return nil, fmt.Errorf("%w: unknown container type %q", ErrNotSupported, tag)
	}
	return reg.engine, nil
}
