package partition

import (
	"strings"

	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/opctx"
	"dirsrv/pkg/schema"
)

// ApplyMods mutates e in place according to the modification list, using
// s's matching rules for duplicate detection and value removal. Shared by
// every backend so modify semantics cannot drift between them.
func ApplyMods(e *entry.Entry, mods []opctx.Modification, s *schema.Schema) {
	for _, m := range mods {
		eq := func(a, b string) bool { return s.Equal(m.Type, a, b) }
		switch m.Op {
		case opctx.ModAdd:
			for _, v := range m.Values {
				if a, ok := e.Get(m.Type); ok && a.Contains(v, eq) {
					continue
				}
				e.Add(m.Type, v)
			}
		case opctx.ModDelete:
			if len(m.Values) == 0 {
				e.Remove(m.Type)
				continue
			}
			e.RemoveValues(m.Type, eq, m.Values...)
		case opctx.ModReplace:
			if len(m.Values) == 0 {
				e.Remove(m.Type)
				continue
			}
			e.Set(m.Type, m.Values...)
		}
	}
}

// Project returns a clone of e restricted to the requested attribute list;
// an empty list or "*" means all attributes.
func Project(e *entry.Entry, attrs []string) *entry.Entry {
	c := e.Clone()
	if len(attrs) == 0 {
		return c
	}
	keep := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		if a == "*" {
			return c
		}
		keep[strings.ToLower(a)] = true
	}
	for _, a := range e.Attributes() {
		if !keep[strings.ToLower(a.Type)] {
			c.Remove(a.Type)
		}
	}
	return c
}

// ParentOf returns the normalized parent DN of a normalized DN key, or ""
// for a single-RDN key.
func ParentOf(normDN string) (string, error) {
	d, err := dn.ParseNormalized(normDN)
	if err != nil {
		return "", err
	}
	parent, ok := d.Parent()
	if !ok {
		return "", nil
	}
	return parent.Normalized(), nil
}
