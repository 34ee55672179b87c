package txproxy

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
)

// rule marks every method of typ for which a CEL expression evaluates to true.
type rule struct {
	typ  reflect.Type
	expr string
}

// MarkMatching registers a CEL expression selecting transactional methods of
// prototype's concrete type. The expression sees:
//
//	name    string        method name
//	params  list(string)  parameter type names, receiver excluded
//	results list(string)  result type names
//
// Example: name.startsWith("Withdraw") || "decimal.Decimal" in params
//
// Rules are evaluated once, in Build; classification never runs CEL.
func (b *Builder) MarkMatching(prototype any, expr string) *Builder {
	if prototype == nil {
		b.errs = append(b.errs, fmt.Errorf("txproxy: cannot apply rule %q to a nil prototype", expr))
		return b
	}
	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Interface {
		b.errs = append(b.errs, fmt.Errorf("txproxy: markers must be declared on a concrete type, got interface %s", t))
		return b
	}
	b.rules = append(b.rules, rule{typ: baseType(t), expr: expr})
	return b
}

func (r rule) match() ([]string, error) {
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("params", cel.ListType(cel.StringType)),
		cel.Variable("results", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("txproxy: create rule environment: %w", err)
	}

	ast, iss := env.Compile(r.expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("txproxy: compile rule %q: %w", r.expr, iss.Err())
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, fmt.Errorf("txproxy: rule %q must evaluate to bool, got %s", r.expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("txproxy: program rule %q: %w", r.expr, err)
	}

	pt := widest(r.typ)
	var matched []string
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		if m.Name == markerMethod {
			continue
		}
		out, _, err := prg.Eval(map[string]any{
			"name":    m.Name,
			"params":  typeNames(declaredParams(pt, m)),
			"results": typeNames(results(m.Type)),
		})
		if err != nil {
			return nil, fmt.Errorf("txproxy: evaluate rule %q on %s.%s: %w", r.expr, r.typ, m.Name, err)
		}
		if ok, _ := out.Value().(bool); ok {
			matched = append(matched, m.Name)
		}
	}
	return matched, nil
}

func results(ft reflect.Type) []reflect.Type {
	out := make([]reflect.Type, 0, ft.NumOut())
	for i := 0; i < ft.NumOut(); i++ {
		out = append(out, ft.Out(i))
	}
	return out
}

func typeNames(types []reflect.Type) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return names
}
