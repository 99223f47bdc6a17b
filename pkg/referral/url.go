package referral

import (
	"net/url"
	"strings"

	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/dn"
)

// URL is a validated LDAP URL from a referral entry's ref attribute. Only
// the DN component is honored by the core; a ref value carrying a scope
// other than base, a filter, an attribute list, or extensions is rejected
// on ingest.
type URL struct {
	Scheme string // "ldap" or "ldaps"
	Host   string // host or host:port
	DN     string // the URL's base DN, percent-decoded, original casing
}

// ParseURL parses and validates one ref attribute value. Invariants per
// RFC 3296: scheme ldap or ldaps, non-empty DN, scope absent or
// base-object, no filter, no attribute list, no extensions.
func ParseURL(s string) (URL, error) {
	var u URL
	rest := s
	switch {
	case strings.HasPrefix(rest, "ldap://"):
		u.Scheme = "ldap"
		rest = rest[len("ldap://"):]
	case strings.HasPrefix(rest, "ldaps://"):
		u.Scheme = "ldaps"
		rest = rest[len("ldaps://"):]
	default:
		return URL{}, dirserrors.Newf(dirserrors.Other, "ref value %q: unsupported scheme", s)
	}

	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return URL{}, dirserrors.Newf(dirserrors.Other, "ref value %q: missing DN component", s)
	}
	u.Host = rest[:slash]
	if u.Host == "" {
		return URL{}, dirserrors.Newf(dirserrors.Other, "ref value %q: empty host", s)
	}

	// RFC 4516 layout after the authority: dn[?attrs[?scope[?filter[?extensions]]]]
	sections := strings.Split(rest[slash+1:], "?")
	dnPart, err := url.PathUnescape(sections[0])
	if err != nil {
		return URL{}, dirserrors.Newf(dirserrors.Other, "ref value %q: bad percent-encoding in DN", s)
	}
	if dnPart == "" {
		return URL{}, dirserrors.Newf(dirserrors.Other, "ref value %q: empty DN", s)
	}
	if _, err := dn.ParseRaw(dnPart); err != nil {
		return URL{}, dirserrors.Newf(dirserrors.Other, "ref value %q: malformed DN", s)
	}
	u.DN = dnPart

	if len(sections) > 1 && sections[1] != "" {
		return URL{}, dirserrors.Newf(dirserrors.Other, "ref value %q: attribute list not permitted", s)
	}
	if len(sections) > 2 && sections[2] != "" && !strings.EqualFold(sections[2], "base") {
		return URL{}, dirserrors.Newf(dirserrors.Other, "ref value %q: scope must be base-object", s)
	}
	if len(sections) > 3 && sections[3] != "" {
		return URL{}, dirserrors.Newf(dirserrors.Other, "ref value %q: filter not permitted", s)
	}
	if len(sections) > 4 && sections[4] != "" {
		return URL{}, dirserrors.Newf(dirserrors.Other, "ref value %q: extensions not permitted", s)
	}
	return u, nil
}

// String renders the URL with the DN component unescaped, the conventional
// human-readable form referral results carry.
func (u URL) String() string {
	return u.Scheme + "://" + u.Host + "/" + u.DN
}

// Rewrite translates target into u's namespace: target's leading RDNs below
// ancestor are prepended to u's base DN, so an operation on
// "cn=X,<ancestor>" is redirected to "<u.Scheme>://<u.Host>/cn=X,<u.DN>".
func (u URL) Rewrite(target, ancestor dn.DN) string {
	extra := target.Leading(target.Len() - ancestor.Len())
	if extra.Empty() {
		return u.String()
	}
	return u.Scheme + "://" + u.Host + "/" + extra.String() + "," + u.DN
}

// RewriteAll applies Rewrite across a referral's URL set, preserving order.
func RewriteAll(urls []URL, target, ancestor dn.DN) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = u.Rewrite(target, ancestor)
	}
	return out
}

// Strings renders a URL set without rewriting, used when the target is the
// referral entry itself.
func Strings(urls []URL) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = u.String()
	}
	return out
}
