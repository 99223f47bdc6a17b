// Package schema implements the subschema subentry: attribute type,
// object class, matching rule, and syntax definitions, and the lookups the
// rest of the pipeline needs to validate and normalize entries.
package schema

import (
	"strings"

	"dirsrv/pkg/dirserrors"
)

// Syntax describes an LDAP attribute syntax, identified by OID.
type Syntax struct {
	OID  string
	Desc string
}

// MatchingRule names a comparison algorithm and the syntax it applies to.
type MatchingRule struct {
	OID    string
	Name   string
	Syntax string // OID of the syntax this rule compares
}

// AttributeType is one attributeTypes definition from RFC 4512 section 4.1.2.
type AttributeType struct {
	OID                string
	Names              []string // first name is canonical
	Desc               string
	Sup                string // parent attribute type name, inherited fields fall back to it
	Equality           string // matching rule name
	Ordering           string
	Substr             string
	Syntax             string // OID
	SingleValue        bool
	Collective         bool
	NoUserModification bool
	Usage              string // "userApplications" (default), "directoryOperation", "distributedOperation", "dSAOperation"
	Obsolete           bool
}

// Name returns the attribute type's canonical (first-listed) name, or its
// OID if it has no name.
func (at AttributeType) Name() string {
	if len(at.Names) > 0 {
		return at.Names[0]
	}
	return at.OID
}

// ClassKind is an object class's structural role.
type ClassKind int

const (
	Structural ClassKind = iota
	Abstract
	Auxiliary
)

// ObjectClass is one objectClasses definition from RFC 4512 section 4.1.1.
type ObjectClass struct {
	OID      string
	Names    []string
	Desc     string
	Sup      []string // parent object classes, multiple for auxiliary composition
	Kind     ClassKind
	Must     []string // required attribute type names
	May      []string // optional attribute type names
	Obsolete bool
}

// Name returns the object class's canonical name, or its OID if unnamed.
func (oc ObjectClass) Name() string {
	if len(oc.Names) > 0 {
		return oc.Names[0]
	}
	return oc.OID
}

// Schema is a mutable subschema subentry: the set of attribute type, object
// class, matching rule, and syntax definitions a directory instance
// enforces. A Schema is built once at startup from the default RFC
// definitions plus any site-specific extensions, then treated as read-only
// by the pipeline; callers needing a different definition set build a new
// Schema rather than mutating a shared one under load.
type Schema struct {
	attrTypes     map[string]AttributeType // keyed by lower-cased name or OID
	objectClasses map[string]ObjectClass
	matchingRules map[string]MatchingRule
	syntaxes      map[string]Syntax
}

// New returns a Schema preloaded with the RFC 4512/4519/2798/2307 default
// definitions.
func New() *Schema {
	s := &Schema{
		attrTypes:     make(map[string]AttributeType),
		objectClasses: make(map[string]ObjectClass),
		matchingRules: make(map[string]MatchingRule),
		syntaxes:      make(map[string]Syntax),
	}
	for _, def := range defaultSyntaxes {
		syn, err := parseSyntax(def)
		if err == nil {
			s.AddSyntax(syn)
		}
	}
	for _, def := range defaultMatchingRules {
		mr, err := parseMatchingRule(def)
		if err == nil {
			s.AddMatchingRule(mr)
		}
	}
	for _, def := range defaultAttributeTypes {
		at, err := parseAttributeType(def)
		if err == nil {
			s.AddAttributeType(at)
		}
	}
	for _, def := range defaultObjectClasses {
		oc, err := parseObjectClass(def)
		if err == nil {
			s.AddObjectClass(oc)
		}
	}
	return s
}

func indexKeys(oid string, names []string) []string {
	keys := make([]string, 0, len(names)+1)
	if oid != "" {
		keys = append(keys, strings.ToLower(oid))
	}
	for _, n := range names {
		keys = append(keys, strings.ToLower(n))
	}
	return keys
}

// AddSyntax registers syn under its OID.
func (s *Schema) AddSyntax(syn Syntax) { s.syntaxes[syn.OID] = syn }

// AddMatchingRule registers mr under its name and OID.
func (s *Schema) AddMatchingRule(mr MatchingRule) {
	for _, k := range indexKeys(mr.OID, []string{mr.Name}) {
		s.matchingRules[k] = mr
	}
}

// AddAttributeType registers at under every name and its OID.
func (s *Schema) AddAttributeType(at AttributeType) {
	for _, k := range indexKeys(at.OID, at.Names) {
		s.attrTypes[k] = at
	}
}

// AddObjectClass registers oc under every name and its OID.
func (s *Schema) AddObjectClass(oc ObjectClass) {
	for _, k := range indexKeys(oc.OID, oc.Names) {
		s.objectClasses[k] = oc
	}
}

// AttributeType looks up an attribute type by name or OID, case-insensitive.
func (s *Schema) AttributeType(nameOrOID string) (AttributeType, bool) {
	at, ok := s.attrTypes[strings.ToLower(nameOrOID)]
	return at, ok
}

// ObjectClass looks up an object class by name or OID, case-insensitive.
func (s *Schema) ObjectClass(nameOrOID string) (ObjectClass, bool) {
	oc, ok := s.objectClasses[strings.ToLower(nameOrOID)]
	return oc, ok
}

// MatchingRule looks up a matching rule by name or OID, case-insensitive.
func (s *Schema) MatchingRule(nameOrOID string) (MatchingRule, bool) {
	mr, ok := s.matchingRules[strings.ToLower(nameOrOID)]
	return mr, ok
}

// resolvedEquality walks the SUP chain to find the first EQUALITY matching
// rule name, since subtypes without their own EQUALITY clause inherit the
// supertype's.
func (s *Schema) resolvedEquality(at AttributeType, depth int) string {
	if at.Equality != "" || at.Sup == "" || depth > 16 {
		return at.Equality
	}
	parent, ok := s.AttributeType(at.Sup)
	if !ok {
		return ""
	}
	return s.resolvedEquality(parent, depth+1)
}

// CanonicalName returns the attribute type's canonical registered name, or
// "" if nameOrOID is not a known attribute type. It satisfies
// dn.AttributeTypeNormalizer.
func (s *Schema) CanonicalName(nameOrOID string) string {
	at, ok := s.AttributeType(nameOrOID)
	if !ok {
		return ""
	}
	return at.Name()
}

// NormalizeValue normalizes value according to attrType's equality matching
// rule. It satisfies dn.AttributeValueNormalizer and is also used by the
// comparison and search filter stages outside of DN handling.
func (s *Schema) NormalizeValue(attrType, value string) string {
	at, ok := s.AttributeType(attrType)
	if !ok {
		return strings.TrimSpace(value)
	}
	eq := s.resolvedEquality(at, 0)
	switch strings.ToLower(eq) {
	case "caseignorematch", "caseignoreia5match", "objectidentifiermatch", "distinguishednamematch":
		return strings.ToLower(strings.Join(strings.Fields(value), " "))
	case "numericstringmatch":
		return strings.Join(strings.Fields(value), "")
	case "caseexactmatch", "caseexactia5match":
		return strings.Join(strings.Fields(value), " ")
	default:
		return strings.TrimSpace(value)
	}
}

// Equal reports whether a and b are equal under attrType's matching rule.
func (s *Schema) Equal(attrType, a, b string) bool {
	return s.NormalizeValue(attrType, a) == s.NormalizeValue(attrType, b)
}

// RequiredAndPermitted walks ocNames' SUP chains and returns the union of
// MUST and MAY attribute type names across the whole hierarchy, per RFC
// 4512's object class inheritance rule.
func (s *Schema) RequiredAndPermitted(ocNames []string) (must, may []string, err error) {
	mustSet := map[string]bool{}
	maySet := map[string]bool{}
	visited := map[string]bool{}

	var walk func(name string) error
	walk = func(name string) error {
		key := strings.ToLower(name)
		if visited[key] {
			return nil
		}
		visited[key] = true
		oc, ok := s.ObjectClass(name)
		if !ok {
			return dirserrors.Newf(dirserrors.InvalidAttributeSyntax, "unknown object class %q", name)
		}
		for _, m := range oc.Must {
			mustSet[strings.ToLower(m)] = true
		}
		for _, m := range oc.May {
			maySet[strings.ToLower(m)] = true
		}
		for _, sup := range oc.Sup {
			if err := walk(sup); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range ocNames {
		if err := walk(name); err != nil {
			return nil, nil, err
		}
	}
	for k := range mustSet {
		must = append(must, k)
	}
	for k := range maySet {
		may = append(may, k)
	}
	return must, may, nil
}

// ValidateEntryClasses reports whether the object class set is structurally
// sane: every named class is known and at least one is STRUCTURAL. SUP
// references of the classes are not checked.
func (s *Schema) ValidateEntryClasses(ocNames []string) error {
	hasStructural := false
	for _, name := range ocNames {
		oc, ok := s.ObjectClass(name)
		if !ok {
			return dirserrors.Newf(dirserrors.InvalidAttributeSyntax, "unknown object class %q", name)
		}
		if oc.Kind == Structural {
			hasStructural = true
		}
	}
	if !hasStructural {
		return dirserrors.New(dirserrors.NamingViolation, "entry has no structural object class")
	}
	return nil
}
