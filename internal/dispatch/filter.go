package dispatch

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mattjoyce/qiwigo/internal/event"
)

// Filter decides whether a handler runs for an event.
type Filter interface {
	Match(ctx context.Context, ev event.Event) (bool, error)
}

// FilterFunc adapts a typed predicate. It never matches events of another
// concrete type.
type FilterFunc[E event.Event] func(ev E) bool

func (f FilterFunc[E]) Match(_ context.Context, ev event.Event) (bool, error) {
	typed, ok := ev.(E)
	if !ok {
		return false, nil
	}
	return f(typed), nil
}

// ExprFilter evaluates a boolean expr-lang expression over the event's
// FilterEnv. Variables the event does not define evaluate to nil.
type ExprFilter struct {
	source  string
	program *vm.Program
}

// NewExprFilter compiles source.
func NewExprFilter(source string) (*ExprFilter, error) {
	program, err := expr.Compile(source, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", source, err)
	}
	return &ExprFilter{source: source, program: program}, nil
}

// MustExprFilter is NewExprFilter for expressions known at build time.
func MustExprFilter(source string) *ExprFilter {
	f, err := NewExprFilter(source)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *ExprFilter) String() string {
	return f.source
}

func (f *ExprFilter) Match(_ context.Context, ev event.Event) (bool, error) {
	out, err := expr.Run(f.program, ev.FilterEnv())
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", f.source, err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, want bool", f.source, out)
	}
	return matched, nil
}
