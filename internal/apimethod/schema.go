package apimethod

import (
	"sort"
	"strconv"
	"time"
)

type absentValue struct{}

// Absent marks a field that must be omitted from the rendered request.
// Callers may pass it explicitly in Values to drop an optional field.
var Absent any = absentValue{}

// IsAbsent reports whether v is the Absent sentinel.
func IsAbsent(v any) bool {
	_, ok := v.(absentValue)
	return ok
}

// Values carries caller-supplied placeholder values keyed by placeholder name
// (or dotted field path for unnamed placeholders).
type Values map[string]any

// Node is one element of a schema tree.
type Node interface {
	resolve(path string, values Values, method string) (any, error)
	walk(path string, visit func(path string, p Placeholder))
}

// Literal is a fixed value copied into the request as-is.
type Literal struct {
	Value any
}

// Lit wraps v as a Literal node.
func Lit(v any) Literal {
	return Literal{Value: v}
}

func (l Literal) resolve(string, Values, string) (any, error) {
	return l.Value, nil
}

func (l Literal) walk(string, func(string, Placeholder)) {}

// Placeholder is a deferred value resolved when the request is built.
type Placeholder struct {
	// Name overrides the lookup key. Empty means the dotted field path.
	Name string

	// Default is used when the caller supplies nothing and HasDefault is set.
	Default    any
	HasDefault bool

	// DefaultFactory produces a fresh value on every build when the caller
	// supplies nothing. Takes precedence over Default.
	DefaultFactory func() any

	// Optional placeholders resolve to Absent instead of failing.
	Optional bool
}

// Runtime returns a required placeholder.
func Runtime() Placeholder {
	return Placeholder{}
}

// Named sets the lookup key used instead of the field path.
func (p Placeholder) Named(name string) Placeholder {
	p.Name = name
	return p
}

// WithDefault sets a static fallback value.
func (p Placeholder) WithDefault(v any) Placeholder {
	p.Default = v
	p.HasDefault = true
	return p
}

// WithFactory sets a function invoked on each build when no value is supplied.
func (p Placeholder) WithFactory(fn func() any) Placeholder {
	p.DefaultFactory = fn
	return p
}

// AsOptional marks the placeholder as droppable when unresolved.
func (p Placeholder) AsOptional() Placeholder {
	p.Optional = true
	return p
}

// Required reports whether building fails when the caller omits this value.
func (p Placeholder) Required() bool {
	return !p.Optional && !p.HasDefault && p.DefaultFactory == nil
}

func (p Placeholder) key(path string) string {
	if p.Name != "" {
		return p.Name
	}
	return path
}

func (p Placeholder) resolve(path string, values Values, method string) (any, error) {
	key := p.key(path)
	if v, ok := values[key]; ok && v != nil {
		if IsAbsent(v) && p.Required() {
			return nil, &SchemaBuildError{Method: method, Path: key}
		}
		return v, nil
	}
	switch {
	case p.DefaultFactory != nil:
		return p.DefaultFactory(), nil
	case p.HasDefault:
		return p.Default, nil
	case p.Optional:
		return Absent, nil
	}
	return nil, &SchemaBuildError{Method: method, Path: key}
}

func (p Placeholder) walk(path string, visit func(string, Placeholder)) {
	visit(p.key(path), p)
}

// Object is a nested mapping of field name to node.
type Object map[string]Node

func (o Object) resolve(path string, values Values, method string) (any, error) {
	out := make(map[string]any, len(o))
	// Sorted so the first reported missing field is deterministic.
	for _, name := range o.keys() {
		v, err := o[name].resolve(joinPath(path, name), values, method)
		if err != nil {
			return nil, err
		}
		if IsAbsent(v) || emptied(o[name], v) {
			continue
		}
		out[name] = v
	}
	return out, nil
}

// emptied reports a nested object that had fields but resolved to none.
// A literal empty Object is kept.
func emptied(n Node, v any) bool {
	obj, ok := n.(Object)
	if !ok || len(obj) == 0 {
		return false
	}
	m, ok := v.(map[string]any)
	return ok && len(m) == 0
}

func (o Object) walk(path string, visit func(string, Placeholder)) {
	for _, name := range o.keys() {
		o[name].walk(joinPath(path, name), visit)
	}
}

func (o Object) keys() []string {
	names := make([]string, 0, len(o))
	for name := range o {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List is an ordered sequence of nodes. Absent elements are skipped.
type List []Node

func (l List) resolve(path string, values Values, method string) (any, error) {
	out := make([]any, 0, len(l))
	for i, n := range l {
		v, err := n.resolve(joinPath(path, strconv.Itoa(i)), values, method)
		if err != nil {
			return nil, err
		}
		if IsAbsent(v) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (l List) walk(path string, visit func(string, Placeholder)) {
	for i, n := range l {
		n.walk(joinPath(path, strconv.Itoa(i)), visit)
	}
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// UnixMilliID is a default factory producing the millisecond timestamp id the
// payments endpoints expect for client-generated transaction ids.
func UnixMilliID() any {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
