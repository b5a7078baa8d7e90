package binding

// DefaultsFunc supplies the model-wide defaults at resolve time.
type DefaultsFunc func() Defaults

// Resolver returns existing bindings or synthesises and records defaults.
type Resolver struct {
	catalogs *Catalogs
	defaults DefaultsFunc
}

// NewResolver returns a resolver over catalogs. defaults may be nil.
func NewResolver(catalogs *Catalogs, defaults DefaultsFunc) *Resolver {
	return &Resolver{catalogs: catalogs, defaults: defaults}
}

// Resolve returns the binding named name for kind. An existing entry is
// returned untouched; otherwise kind defaults are synthesised, stored under
// name and returned. Entries are never removed.
func (r *Resolver) Resolve(kind Kind, name string) (Parameters, error) {
	catalog, err := r.catalogs.For(kind)
	if err != nil {
		return Parameters{}, err
	}
	if existing, ok := catalog.Get(name); ok {
		return existing, nil
	}

	var defaults Defaults
	if r.defaults != nil {
		defaults = r.defaults()
	}
	p, err := DefaultParameters(kind, name, defaults)
	if err != nil {
		return Parameters{}, err
	}
	catalog.Put(name, p)
	return p, nil
}
