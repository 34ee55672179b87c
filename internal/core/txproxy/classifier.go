package txproxy

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"txguard/internal/core/apperror"
)

// Marked is implemented by concrete types that declare which of their own
// methods require a transaction. It plays the role of a method annotation:
// the declaration lives on the implementation, never on the interface callers use.
//
// TransactionalMethods may be called on a zero value (including a nil pointer)
// and must return a constant list.
type Marked interface {
	TransactionalMethods() []string
}

const markerMethod = "TransactionalMethods"

// Builder collects transactional markers at composition time.
// It is not safe for concurrent use; Build produces an immutable Classifier.
type Builder struct {
	marks map[reflect.Type]map[string]struct{}
	rules []rule
	errs  []error
}

// NewBuilder creates an empty marker registry builder.
func NewBuilder() *Builder {
	return &Builder{marks: make(map[reflect.Type]map[string]struct{})}
}

// Declare registers the markers a concrete type declares about itself.
func (b *Builder) Declare(prototype Marked) *Builder {
	if prototype == nil {
		b.errs = append(b.errs, errors.New("txproxy: cannot declare markers of a nil prototype"))
		return b
	}
	return b.markType(reflect.TypeOf(prototype), prototype.TransactionalMethods()...)
}

// Mark registers methods of prototype's concrete type as transactional.
func (b *Builder) Mark(prototype any, methods ...string) *Builder {
	if prototype == nil {
		b.errs = append(b.errs, errors.New("txproxy: cannot mark methods of a nil prototype"))
		return b
	}
	return b.markType(reflect.TypeOf(prototype), methods...)
}

// MarkType registers methods of T as transactional. T must be a concrete type;
// markers on interface types are rejected because classification only ever
// consults the target's concrete declaration.
func MarkType[T any](b *Builder, methods ...string) *Builder {
	return b.markType(reflect.TypeFor[T](), methods...)
}

func (b *Builder) markType(t reflect.Type, methods ...string) *Builder {
	if t.Kind() == reflect.Interface {
		b.errs = append(b.errs, fmt.Errorf("txproxy: markers must be declared on a concrete type, got interface %s", t))
		return b
	}
	key := baseType(t)
	set, ok := b.marks[key]
	if !ok {
		set = make(map[string]struct{}, len(methods))
		b.marks[key] = set
	}
	for _, name := range methods {
		set[name] = struct{}{}
	}
	return b
}

// Build validates the registered markers and freezes them into a Classifier.
// Every marked name must be a method declared on the concrete type.
func (b *Builder) Build() (*Classifier, error) {
	errs := append([]error(nil), b.errs...)

	marks := make(map[reflect.Type]map[string]struct{}, len(b.marks))
	for t, set := range b.marks {
		frozen := make(map[string]struct{}, len(set))
		for name := range set {
			if _, ok := widest(t).MethodByName(name); !ok {
				errs = append(errs, apperror.NewMethodResolution(t.String(), name))
				continue
			}
			frozen[name] = struct{}{}
		}
		marks[t] = frozen
	}

	for _, r := range b.rules {
		matched, err := r.match()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		set, ok := marks[r.typ]
		if !ok {
			set = make(map[string]struct{}, len(matched))
			marks[r.typ] = set
		}
		for _, name := range matched {
			set[name] = struct{}{}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Classifier{marks: marks}, nil
}

// Classifier decides whether a method of a concrete type is transactional.
// It is immutable and safe for concurrent use.
type Classifier struct {
	marks map[reflect.Type]map[string]struct{}
}

// IsTransactional resolves name with exactly params on targetType and reports
// whether that declaration carries the transactional marker.
//
// A method that is not declared on targetType, or is declared with a different
// parameter list, is a MethodResolutionError rather than "not transactional".
func (c *Classifier) IsTransactional(targetType reflect.Type, name string, params []reflect.Type) (bool, error) {
	if targetType == nil {
		return false, apperror.NewMethodResolution("<nil>", name)
	}
	m, ok := targetType.MethodByName(name)
	if !ok || targetType.Kind() == reflect.Interface {
		return false, apperror.NewMethodResolution(targetType.String(), Method{Name: name, Params: params}.String())
	}
	if !sameParams(declaredParams(targetType, m), params) {
		return false, apperror.NewMethodResolution(targetType.String(), Method{Name: name, Params: params}.String()).
			WithDetail("declared", Method{Name: name, Params: declaredParams(targetType, m)}.String())
	}
	_, marked := c.marks[baseType(targetType)][name]
	return marked, nil
}

// Marked lists the transactional methods registered for t, sorted by name.
func (c *Classifier) Marked(t reflect.Type) []string {
	set := c.marks[baseType(t)]
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// baseType keys markers by the named type so that T and *T share declarations.
func baseType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

// widest returns the type with the largest method set for a base type.
func widest(t reflect.Type) reflect.Type {
	return reflect.PointerTo(t)
}
