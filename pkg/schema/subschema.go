package schema

import (
	"sort"
	"strings"

	"dirsrv/pkg/entry"
)

// SubschemaDN is the normalized DN of the synthesized subschema subentry.
const SubschemaDN = "cn=subschema"

// SubschemaSubentry renders the loaded definitions as a read-only entry in
// RFC 4512 description syntax, the standard way clients discover what a
// server enforces.
func (s *Schema) SubschemaSubentry() *entry.Entry {
	e := entry.New(SubschemaDN)
	e.Set("objectClass", "top", "subschema", "extensibleObject")
	e.Set("cn", "subschema")

	for _, def := range s.renderSyntaxes() {
		e.Add("ldapSyntaxes", def)
	}
	for _, def := range s.renderMatchingRules() {
		e.Add("matchingRules", def)
	}
	for _, def := range s.renderAttributeTypes() {
		e.Add("attributeTypes", def)
	}
	for _, def := range s.renderObjectClasses() {
		e.Add("objectClasses", def)
	}
	return e
}

func (s *Schema) renderSyntaxes() []string {
	var out []string
	for _, syn := range s.syntaxes {
		var b strings.Builder
		b.WriteString("( " + syn.OID)
		if syn.Desc != "" {
			b.WriteString(" DESC '" + syn.Desc + "'")
		}
		b.WriteString(" )")
		out = append(out, b.String())
	}
	sort.Strings(out)
	return out
}

func (s *Schema) renderMatchingRules() []string {
	seen := map[string]bool{}
	var out []string
	for _, mr := range s.matchingRules {
		if seen[mr.OID] {
			continue
		}
		seen[mr.OID] = true
		out = append(out, "( "+mr.OID+" NAME '"+mr.Name+"' SYNTAX "+mr.Syntax+" )")
	}
	sort.Strings(out)
	return out
}

func (s *Schema) renderAttributeTypes() []string {
	seen := map[string]bool{}
	var out []string
	for _, at := range s.attrTypes {
		if seen[at.OID] {
			continue
		}
		seen[at.OID] = true

		var b strings.Builder
		b.WriteString("( " + at.OID)
		b.WriteString(renderNames(at.Names))
		if at.Sup != "" {
			b.WriteString(" SUP " + at.Sup)
		}
		if at.Equality != "" {
			b.WriteString(" EQUALITY " + at.Equality)
		}
		if at.Ordering != "" {
			b.WriteString(" ORDERING " + at.Ordering)
		}
		if at.Substr != "" {
			b.WriteString(" SUBSTR " + at.Substr)
		}
		if at.Syntax != "" {
			b.WriteString(" SYNTAX " + at.Syntax)
		}
		if at.SingleValue {
			b.WriteString(" SINGLE-VALUE")
		}
		if at.NoUserModification {
			b.WriteString(" NO-USER-MODIFICATION")
		}
		if at.Usage != "" && at.Usage != "userApplications" {
			b.WriteString(" USAGE " + at.Usage)
		}
		b.WriteString(" )")
		out = append(out, b.String())
	}
	sort.Strings(out)
	return out
}

func (s *Schema) renderObjectClasses() []string {
	seen := map[string]bool{}
	var out []string
	for _, oc := range s.objectClasses {
		if seen[oc.OID] {
			continue
		}
		seen[oc.OID] = true

		var b strings.Builder
		b.WriteString("( " + oc.OID)
		b.WriteString(renderNames(oc.Names))
		if len(oc.Sup) > 0 {
			b.WriteString(" SUP " + renderOIDList(oc.Sup))
		}
		switch oc.Kind {
		case Abstract:
			b.WriteString(" ABSTRACT")
		case Auxiliary:
			b.WriteString(" AUXILIARY")
		default:
			b.WriteString(" STRUCTURAL")
		}
		if len(oc.Must) > 0 {
			b.WriteString(" MUST " + renderOIDList(oc.Must))
		}
		if len(oc.May) > 0 {
			b.WriteString(" MAY " + renderOIDList(oc.May))
		}
		b.WriteString(" )")
		out = append(out, b.String())
	}
	sort.Strings(out)
	return out
}

func renderNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return " NAME '" + names[0] + "'"
	default:
		quoted := make([]string, len(names))
		for i, n := range names {
			quoted[i] = "'" + n + "'"
		}
		return " NAME ( " + strings.Join(quoted, " ") + " )"
	}
}

func renderOIDList(oids []string) string {
	if len(oids) == 1 {
		return oids[0]
	}
	return "( " + strings.Join(oids, " $ ") + " )"
}
