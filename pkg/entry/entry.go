// Package entry implements the directory entry model: a mapping from
// attribute-type OID to a case-insensitive, possibly-deduplicating set of
// values.
//
// Entries are owned by the partition that stores them; the pipeline only
// ever sees cloned views so that an interceptor can transform an entry
// in-flight without mutating the partition's copy.
package entry

import "strings"

// Attribute holds one attribute type's complete value set.
type Attribute struct {
	// Type is the attribute's canonical name or OID, as resolved by the
	// schema manager.
	Type string

	// Values holds the attribute's values in insertion order. Whether
	// duplicate values (under the attribute's equality matching rule) are
	// permitted is a schema-level concern the caller enforces before
	// calling Add; the Attribute itself does not re-derive the matching
	// rule.
	Values []string
}

// Clone returns a deep copy of a.
func (a Attribute) Clone() Attribute {
	v := make([]string, len(a.Values))
	copy(v, a.Values)
	return Attribute{Type: a.Type, Values: v}
}

// Contains reports whether a holds value, comparing under eq (the
// attribute's matching-rule equality function; callers pass a
// case-sensitive or case-insensitive comparator as the attribute's syntax
// requires).
func (a Attribute) Contains(value string, eq func(string, string) bool) bool {
	for _, v := range a.Values {
		if eq(v, value) {
			return true
		}
	}
	return false
}

// Entry is a mapping from attribute type to attribute, keyed
// case-insensitively on the type's canonical name.
type Entry struct {
	// DN is the entry's normalized distinguished name.
	DN string

	// attrs is keyed by lower-cased canonical attribute type.
	attrs map[string]Attribute
	// order preserves attribute insertion order for deterministic output
	// (LDIF dumps, search result encoding).
	order []string
}

// New creates an empty entry for dn.
func New(dn string) *Entry {
	return &Entry{DN: dn, attrs: make(map[string]Attribute)}
}

// Get returns the attribute named typ (case-insensitive) and whether it is
// present.
func (e *Entry) Get(typ string) (Attribute, bool) {
	a, ok := e.attrs[key(typ)]
	return a, ok
}

// Has reports whether typ is present on the entry.
func (e *Entry) Has(typ string) bool {
	_, ok := e.attrs[key(typ)]
	return ok
}

// Set replaces (or creates) the attribute named typ with values; the
// attribute's type keeps the spelling passed to this call.
func (e *Entry) Set(typ string, values ...string) {
	k := key(typ)
	if _, exists := e.attrs[k]; !exists {
		e.order = append(e.order, k)
	}
	e.attrs[k] = Attribute{Type: typ, Values: append([]string(nil), values...)}
}

// Add appends values to the named attribute, creating it if absent.
func (e *Entry) Add(typ string, values ...string) {
	k := key(typ)
	a, exists := e.attrs[k]
	if !exists {
		e.order = append(e.order, k)
		a = Attribute{Type: typ}
	}
	a.Values = append(a.Values, values...)
	e.attrs[k] = a
}

// Remove deletes the named attribute entirely.
func (e *Entry) Remove(typ string) {
	k := key(typ)
	if _, exists := e.attrs[k]; !exists {
		return
	}
	delete(e.attrs, k)
	for i, o := range e.order {
		if o == k {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// RemoveValues deletes the listed values from the named attribute under eq;
// if no values remain, the attribute itself is removed.
func (e *Entry) RemoveValues(typ string, eq func(string, string) bool, values ...string) {
	k := key(typ)
	a, exists := e.attrs[k]
	if !exists {
		return
	}
	kept := a.Values[:0:0]
	for _, v := range a.Values {
		drop := false
		for _, rm := range values {
			if eq(v, rm) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		e.Remove(typ)
		return
	}
	a.Values = kept
	e.attrs[k] = a
}

// Attributes returns the entry's attributes in insertion order.
func (e *Entry) Attributes() []Attribute {
	out := make([]Attribute, 0, len(e.order))
	for _, k := range e.order {
		out = append(out, e.attrs[k])
	}
	return out
}

// ObjectClasses returns the values of the objectClass attribute, which
// every valid entry carries per spec.
func (e *Entry) ObjectClasses() []string {
	a, ok := e.Get("objectClass")
	if !ok {
		return nil
	}
	return a.Values
}

// HasObjectClass reports whether oc is present on the objectClass
// attribute, case-insensitively.
func (e *Entry) HasObjectClass(oc string) bool {
	for _, v := range e.ObjectClasses() {
		if strings.EqualFold(v, oc) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of e, including a fresh attribute map and
// independent value slices, so pipeline stages may mutate the clone freely.
func (e *Entry) Clone() *Entry {
	c := &Entry{
		DN:    e.DN,
		attrs: make(map[string]Attribute, len(e.attrs)),
		order: append([]string(nil), e.order...),
	}
	for k, a := range e.attrs {
		c.attrs[k] = a.Clone()
	}
	return c
}

func key(typ string) string { return strings.ToLower(typ) }
