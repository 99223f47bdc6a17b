// Package dn implements LDAP distinguished names: parsing, per-attribute
// normalization, equality, and ancestor tests.
//
// A DN is an ordered sequence of RDNs (relative distinguished names), each
// an unordered set of type=value assertions. Every DN keeps both its
// user-provided form (original casing/spacing, for display) and its
// normalized form (canonical bytes, for comparison). Two DNs are equal iff
// their normalized forms are byte-equal. The empty DN denotes the root DSE.
package dn

import (
	"strings"

	"dirsrv/pkg/dirserrors"
)

// AttributeValueNormalizer normalizes a single attribute value according to
// the matching rule registered for that attribute type. The schema package
// supplies the concrete implementation; dn depends only on this function
// shape to stay free of a schema import cycle.
type AttributeValueNormalizer func(attrType, value string) string

// AttributeTypeNormalizer resolves an attribute type's canonical name or
// OID, so that "CN" and "commonName" normalize to the same component.
type AttributeTypeNormalizer func(attrType string) string

// RDNComponent is a single type=value assertion within an RDN.
type RDNComponent struct {
	Type      string // user-provided attribute type name/OID
	Value     string // user-provided value
	NormType  string // canonical attribute type
	NormValue string // normalized value
}

// RDN is an unordered set of components (multi-valued RDNs such as
// "cn=x+ou=y" are supported but rare).
type RDN struct {
	Components []RDNComponent
}

// String renders the RDN in its user-provided form.
func (r RDN) String() string {
	parts := make([]string, len(r.Components))
	for i, c := range r.Components {
		parts[i] = c.Type + "=" + escapeValue(c.Value)
	}
	return strings.Join(parts, "+")
}

// normalized renders the RDN's canonical byte form: components sorted by
// normalized type so that "ou=x+cn=y" and "cn=y+ou=x" normalize identically.
func (r RDN) normalized() string {
	comps := make([]string, len(r.Components))
	for i, c := range r.Components {
		comps[i] = c.NormType + "=" + c.NormValue
	}
	// Insertion sort is fine; RDNs rarely carry more than one or two
	// components.
	for i := 1; i < len(comps); i++ {
		for j := i; j > 0 && comps[j-1] > comps[j]; j-- {
			comps[j-1], comps[j] = comps[j], comps[j-1]
		}
	}
	return strings.Join(comps, "+")
}

// Normalized returns the RDN's canonical byte form, components sorted by
// normalized type. Only meaningful on RDNs produced by Parse/Normalize.
func (r RDN) Normalized() string { return r.normalized() }

// DN is an ordered sequence of RDNs, most-specific first (the conventional
// LDAP left-to-right reading order: "cn=alice,ou=people,dc=example,dc=com").
type DN struct {
	rdns       []RDN
	normalized string // cached, joined with "," between normalized RDNs
}

// Empty reports whether dn is the root DSE (zero RDNs).
func (d DN) Empty() bool { return len(d.rdns) == 0 }

// RDNs returns the ordered RDN sequence, most-specific first.
func (d DN) RDNs() []RDN { return d.rdns }

// String renders the DN in its user-provided form.
func (d DN) String() string {
	parts := make([]string, len(d.rdns))
	for i, r := range d.rdns {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// Normalized returns the canonical byte form used for equality and storage
// keys. Idempotent: Normalize(Normalize(d)) == Normalize(d) because it is
// computed once at Parse/Normalize time and cached.
func (d DN) Normalized() string { return d.normalized }

// Equal reports whether two DNs have byte-equal normalized forms.
func (d DN) Equal(o DN) bool { return d.normalized == o.normalized }

// Len returns the number of RDNs (the DN's depth).
func (d DN) Len() int { return len(d.rdns) }

// IsAncestorOf reports whether d is a proper ancestor of o: o's normalized
// RDN suffix, read right-to-left, starts with d's normalized RDNs in the
// same order, and o is strictly deeper than d.
func (d DN) IsAncestorOf(o DN) bool {
	if d.Len() >= o.Len() {
		return false
	}
	return hasSuffix(o.rdns, d.rdns)
}

// IsAncestorOfOrEqual reports whether d equals o or is a proper ancestor.
func (d DN) IsAncestorOfOrEqual(o DN) bool {
	return d.Equal(o) || d.IsAncestorOf(o)
}

// Parent returns d's immediate parent DN and true, or the zero DN and false
// if d is already the root DSE.
func (d DN) Parent() (DN, bool) {
	if len(d.rdns) == 0 {
		return DN{}, false
	}
	return fromRDNs(d.rdns[1:]), true
}

// RDN returns d's leading (most-specific) RDN.
func (d DN) RDN() RDN {
	if len(d.rdns) == 0 {
		return RDN{}
	}
	return d.rdns[0]
}

// Leading returns a DN made of d's first n RDNs (the most-specific ones),
// used when translating a DN into a referral target's namespace.
func (d DN) Leading(n int) DN {
	if n > len(d.rdns) {
		n = len(d.rdns)
	}
	return fromRDNs(d.rdns[:n])
}

// Join concatenates leading's RDNs in front of base's, producing the DN
// "leading,base". Both inputs must already be normalized.
func Join(leading, base DN) DN {
	rdns := make([]RDN, 0, len(leading.rdns)+len(base.rdns))
	rdns = append(rdns, leading.rdns...)
	rdns = append(rdns, base.rdns...)
	return fromRDNs(rdns)
}

// hasSuffix reports whether sub's normalized form (right-to-left) is a
// proper or improper suffix of full, RDN by RDN.
func hasSuffix(full, sub []RDN) bool {
	if len(sub) > len(full) {
		return false
	}
	offset := len(full) - len(sub)
	for i := range sub {
		if full[offset+i].normalized() != sub[i].normalized() {
			return false
		}
	}
	return true
}

func fromRDNs(rdns []RDN) DN {
	parts := make([]string, len(rdns))
	for i, r := range rdns {
		parts[i] = r.normalized()
	}
	return DN{rdns: rdns, normalized: strings.Join(parts, ",")}
}

// Parse splits s into RDNs and normalizes each component using normType and
// normValue. Every DN that enters the pipeline past the schema stage must
// be normalized, so Parse always normalizes; callers that only need
// syntactic validation (naming-violation checks before schema lookup)
// should use ParseRaw.
func Parse(s string, normType AttributeTypeNormalizer, normValue AttributeValueNormalizer) (DN, error) {
	raw, err := ParseRaw(s)
	if err != nil {
		return DN{}, err
	}
	return raw.Normalize(normType, normValue)
}

// ParseRaw parses s into RDN components without normalizing, checking only
// syntax: each RDN is one or more "type=value" assertions joined by "+",
// RDNs are joined by ",", and "\" escapes the next character (including "+"
// "," and "="). This matches RFC 4514's DN string representation, trimmed
// to the subset the core cares about (no UTF-8 multi-byte escape decoding
// beyond passthrough, since entries are compared via normalization, not via
// the user-provided string).
func ParseRaw(s string) (DN, error) {
	if s == "" {
		return DN{}, nil
	}
	rdnStrs, err := splitUnescaped(s, ',')
	if err != nil {
		return DN{}, err
	}
	rdns := make([]RDN, len(rdnStrs))
	for i, rs := range rdnStrs {
		r, err := parseRDN(rs)
		if err != nil {
			return DN{}, err
		}
		rdns[i] = r
	}
	return DN{rdns: rdns}, nil
}

func parseRDN(s string) (RDN, error) {
	compStrs, err := splitUnescaped(s, '+')
	if err != nil {
		return RDN{}, err
	}
	comps := make([]RDNComponent, 0, len(compStrs))
	for _, cs := range compStrs {
		eq := indexUnescaped(cs, '=')
		if eq < 0 {
			return RDN{}, dirserrors.Newf(dirserrors.NamingViolation, "malformed RDN component %q: missing '='", cs)
		}
		typ := strings.TrimSpace(cs[:eq])
		val := unescapeValue(strings.TrimSpace(cs[eq+1:]))
		if typ == "" {
			return RDN{}, dirserrors.Newf(dirserrors.NamingViolation, "malformed RDN component %q: empty type", cs)
		}
		comps = append(comps, RDNComponent{Type: typ, Value: val})
	}
	if len(comps) == 0 {
		return RDN{}, dirserrors.New(dirserrors.NamingViolation, "empty RDN")
	}
	return RDN{Components: comps}, nil
}

// ParseNormalized parses s, which must already be in normalized form (the
// output of Normalized()), marking each component's canonical fields equal
// to the parsed fields. Partitions and the referral set use this to turn a
// stored normalized-DN key back into a DN without a schema round-trip.
func ParseNormalized(s string) (DN, error) {
	raw, err := ParseRaw(s)
	if err != nil {
		return DN{}, err
	}
	rdns := make([]RDN, len(raw.rdns))
	for i, r := range raw.rdns {
		comps := make([]RDNComponent, len(r.Components))
		for j, c := range r.Components {
			comps[j] = RDNComponent{Type: c.Type, Value: c.Value, NormType: c.Type, NormValue: c.Value}
		}
		rdns[i] = RDN{Components: comps}
	}
	return fromRDNs(rdns), nil
}

// Normalize resolves each component's canonical type and value. It is
// exported on the raw RDN-parsed DN so callers can parse once and normalize
// against different schema snapshots (useful during schema bootstrap).
func (d DN) Normalize(normType AttributeTypeNormalizer, normValue AttributeValueNormalizer) (DN, error) {
	rdns := make([]RDN, len(d.rdns))
	for i, r := range d.rdns {
		comps := make([]RDNComponent, len(r.Components))
		for j, c := range r.Components {
			nt := normType(c.Type)
			if nt == "" {
				return DN{}, dirserrors.Newf(dirserrors.NamingViolation, "unknown attribute type %q", c.Type)
			}
			comps[j] = RDNComponent{
				Type:      c.Type,
				Value:     c.Value,
				NormType:  nt,
				NormValue: normValue(nt, c.Value),
			}
		}
		rdns[i] = RDN{Components: comps}
	}
	return fromRDNs(rdns), nil
}

func splitUnescaped(s string, sep byte) ([]string, error) {
	var parts []string
	start := 0
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if escaped {
		return nil, dirserrors.New(dirserrors.NamingViolation, "trailing escape character")
	}
	parts = append(parts, s[start:])
	return parts, nil
}

func indexUnescaped(s string, b byte) int {
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == b:
			return i
		}
	}
	return -1
}

func unescapeValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func escapeValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ',', '+', '=', '\\', '"', '<', '>', ';':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
