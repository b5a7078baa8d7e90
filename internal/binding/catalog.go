package binding

import "sort"

// Catalog holds the named bindings of a single kind.
type Catalog struct {
	kind    Kind
	entries map[string]Parameters
}

// NewCatalog returns an empty catalog for kind.
func NewCatalog(kind Kind) *Catalog {
	return &Catalog{kind: kind, entries: make(map[string]Parameters)}
}

// Kind returns the transport kind the catalog holds.
func (c *Catalog) Kind() Kind {
	return c.kind
}

// Get returns the binding stored under name.
func (c *Catalog) Get(name string) (Parameters, bool) {
	p, ok := c.entries[name]
	return p, ok
}

// Contains reports whether name is present.
func (c *Catalog) Contains(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// Put stores p under name, replacing any previous entry. The stored copy
// always carries the catalog's kind and the given name.
func (c *Catalog) Put(name string, p Parameters) {
	p.Name = name
	p.Kind = c.kind
	c.entries[name] = p
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Names returns the entry names in lexical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClearAll drops every entry.
func (c *Catalog) ClearAll() {
	c.entries = make(map[string]Parameters)
}

// Catalogs is the full set of per-kind binding catalogs.
type Catalogs struct {
	TCP        *Catalog
	DuplexHTTP *Catalog
	SimpleHTTP *Catalog
	SecureHTTP *Catalog
}

// NewCatalogs returns one empty catalog per supported kind.
func NewCatalogs() *Catalogs {
	return &Catalogs{
		TCP:        NewCatalog(ReliableOrderedTCP),
		DuplexHTTP: NewCatalog(DuplexHTTP),
		SimpleHTTP: NewCatalog(SimpleHTTP),
		SecureHTTP: NewCatalog(SecureHTTP),
	}
}

// All returns the catalogs in Kinds order.
func (c *Catalogs) All() []*Catalog {
	return []*Catalog{c.TCP, c.DuplexHTTP, c.SimpleHTTP, c.SecureHTTP}
}

// For returns the catalog holding bindings of kind.
func (c *Catalogs) For(kind Kind) (*Catalog, error) {
	switch kind {
	case ReliableOrderedTCP:
		return c.TCP, nil
	case DuplexHTTP:
		return c.DuplexHTTP, nil
	case SimpleHTTP:
		return c.SimpleHTTP, nil
	case SecureHTTP:
		return c.SecureHTTP, nil
	default:
		return nil, &ConfigurationError{Op: "lookup catalog", Kind: kind, Err: ErrUnknownKind}
	}
}

// Len returns the total number of bindings across all catalogs.
func (c *Catalogs) Len() int {
	total := 0
	for _, cat := range c.All() {
		total += cat.Len()
	}
	return total
}

// ClearAll empties every catalog.
func (c *Catalogs) ClearAll() {
	for _, cat := range c.All() {
		cat.ClearAll()
	}
}
