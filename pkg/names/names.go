// Package names defines qualified names, catch-clause name tests and the
// prefix table used to resolve them.
package names

import (
	"fmt"
	"strings"
)

// Well-known namespace URIs.
const (
	ErrNS     = "http://www.w3.org/2005/xqt-errors"
	XSNS      = "http://www.w3.org/2001/XMLSchema"
	FnNS      = "http://www.w3.org/2005/xpath-functions"
	LocalNS   = "http://www.w3.org/2005/xquery-local-functions"
	GuardNS   = "http://github.com/thomasrohde/guardeval/errors"
	ErrPrefix = "err"
)

// Local names of the error-context variables bound in the err namespace
// while a catch clause runs.
const (
	VarCode         = "code"
	VarDescription  = "description"
	VarValue        = "value"
	VarModule       = "module"
	VarLineNumber   = "line-number"
	VarColumnNumber = "column-number"
)

// ContextVars lists the error-context variables in binding order.
var ContextVars = []string{VarCode, VarDescription, VarValue, VarModule, VarLineNumber, VarColumnNumber}

// IsContextVar reports whether q names an error-context variable.
func IsContextVar(q QName) bool {
	if q.URI != ErrNS {
		return false
	}
	for _, v := range ContextVars {
		if q.Local == v {
			return true
		}
	}
	return false
}

// QName is a namespace-qualified name. Two QNames are equal when their URI and
// local part are equal; the prefix is only kept for display.
type QName struct {
	Prefix string
	URI    string
	Local  string
}

// NewQName creates a QName.
func NewQName(prefix, uri, local string) QName {
	return QName{Prefix: prefix, URI: uri, Local: local}
}

// ErrCode creates a QName in the standard error namespace.
func ErrCode(local string) QName {
	return QName{Prefix: ErrPrefix, URI: ErrNS, Local: local}
}

// GuardCode creates a QName in the engine's own error namespace.
func GuardCode(local string) QName {
	return QName{Prefix: "g", URI: GuardNS, Local: local}
}

// Equal reports whether q and o name the same thing.
func (q QName) Equal(o QName) bool {
	return q.URI == o.URI && q.Local == o.Local
}

// HasNamespace reports whether q is in a namespace.
func (q QName) HasNamespace() bool {
	return q.URI != ""
}

// String renders q as prefix:local, or Q{uri}local when it has a namespace but
// no prefix.
func (q QName) String() string {
	switch {
	case q.Prefix != "":
		return q.Prefix + ":" + q.Local
	case q.URI != "":
		return "Q{" + q.URI + "}" + q.Local
	default:
		return q.Local
	}
}

// EQName renders q in the URI-qualified Q{uri}local form.
func (q QName) EQName() string {
	return "Q{" + q.URI + "}" + q.Local
}

// Kind identifies the variant of a NameTest.
type Kind int

const (
	// KindExact matches one namespace URI and local name.
	KindExact Kind = iota
	// KindNamespace matches any local name in one namespace (p:*).
	KindNamespace
	// KindLocal matches one local name in any namespace (*:local).
	KindLocal
	// KindAny matches every name (*).
	KindAny
)

func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindNamespace:
		return "namespace-wildcard"
	case KindLocal:
		return "local-wildcard"
	case KindAny:
		return "any"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// NameTest is a catch-clause filter.
type NameTest struct {
	Kind  Kind
	URI   string
	Local string
}

// Exact returns a test matching uri and local exactly.
func Exact(uri, local string) NameTest {
	return NameTest{Kind: KindExact, URI: uri, Local: local}
}

// Namespace returns a test matching every name in uri.
func Namespace(uri string) NameTest {
	return NameTest{Kind: KindNamespace, URI: uri}
}

// Local returns a test matching local in every namespace.
func Local(local string) NameTest {
	return NameTest{Kind: KindLocal, Local: local}
}

// Any returns the test matching every name.
func Any() NameTest {
	return NameTest{Kind: KindAny}
}

// Matches reports whether the test accepts code.
func (t NameTest) Matches(code QName) bool {
	switch t.Kind {
	case KindExact:
		return code.URI == t.URI && code.Local == t.Local
	case KindNamespace:
		return code.URI == t.URI
	case KindLocal:
		return code.Local == t.Local
	case KindAny:
		return true
	}
	return false
}

func (t NameTest) String() string {
	switch t.Kind {
	case KindExact:
		if t.URI == "" {
			return t.Local
		}
		return "Q{" + t.URI + "}" + t.Local
	case KindNamespace:
		return "Q{" + t.URI + "}*"
	case KindLocal:
		return "*:" + t.Local
	default:
		return "*"
	}
}

// MatchesAny reports whether any test in tests accepts code.
func MatchesAny(tests []NameTest, code QName) bool {
	for _, t := range tests {
		if t.Matches(code) {
			return true
		}
	}
	return false
}

// Namespaces maps prefixes to namespace URIs.
type Namespaces struct {
	bindings map[string]string
}

// DefaultNamespaces returns a table holding the built-in prefixes.
func DefaultNamespaces() *Namespaces {
	return &Namespaces{bindings: map[string]string{
		ErrPrefix: ErrNS,
		"xs":      XSNS,
		"fn":      FnNS,
		"local":   LocalNS,
		"g":       GuardNS,
	}}
}

// Bind adds or replaces a prefix binding.
func (n *Namespaces) Bind(prefix, uri string) {
	n.bindings[prefix] = uri
}

// Lookup returns the URI bound to prefix.
func (n *Namespaces) Lookup(prefix string) (string, bool) {
	uri, ok := n.bindings[prefix]
	return uri, ok
}

// Clone returns an independent copy of the table.
func (n *Namespaces) Clone() *Namespaces {
	c := &Namespaces{bindings: make(map[string]string, len(n.bindings))}
	for k, v := range n.bindings {
		c.bindings[k] = v
	}
	return c
}

// Resolve parses a lexical name (prefix:local, Q{uri}local or local) into a
// QName. An unprefixed name has no namespace.
func (n *Namespaces) Resolve(lexical string) (QName, error) {
	if strings.HasPrefix(lexical, "Q{") {
		end := strings.IndexByte(lexical, '}')
		if end < 0 {
			return QName{}, fmt.Errorf("malformed URI-qualified name '%s'", lexical)
		}
		local := lexical[end+1:]
		if !IsNCName(local) {
			return QName{}, fmt.Errorf("invalid local name in '%s'", lexical)
		}
		return QName{URI: lexical[2:end], Local: local}, nil
	}
	prefix, local, found := strings.Cut(lexical, ":")
	if !found {
		if !IsNCName(lexical) {
			return QName{}, fmt.Errorf("invalid name '%s'", lexical)
		}
		return QName{Local: lexical}, nil
	}
	if !IsNCName(prefix) || !IsNCName(local) {
		return QName{}, fmt.Errorf("invalid name '%s'", lexical)
	}
	uri, ok := n.Lookup(prefix)
	if !ok {
		return QName{}, &UnboundPrefixError{Prefix: prefix}
	}
	return QName{Prefix: prefix, URI: uri, Local: local}, nil
}

// UnboundPrefixError reports a prefix with no namespace binding.
type UnboundPrefixError struct {
	Prefix string
}

func (e *UnboundPrefixError) Error() string {
	return fmt.Sprintf("no namespace bound to prefix '%s'", e.Prefix)
}

// IsNCName reports whether s is a non-colonized name. Only ASCII name
// characters are accepted beyond letters.
func IsNCName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 0x7f:
		case i > 0 && (r == '-' || r == '.' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}
